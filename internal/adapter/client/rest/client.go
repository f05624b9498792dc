// Package rest is a TaskService backed by a remote task console over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client talks to the task console HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a client for baseURL. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) ListTasks(ctx context.Context, query domain.ListQuery) (*domain.TaskPage, error) {
	params := url.Values{}
	if query.Page != 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit != 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}

	path := "/tasks"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page domain.TaskPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := c.doJSON(ctx, http.MethodGet, taskPath(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	var task domain.Task
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

func (c *Client) ExecuteTask(ctx context.Context, id string) (*domain.Execution, error) {
	var exec domain.Execution
	if err := c.doJSON(ctx, http.MethodPost, taskPath(id)+"/execute", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) GetExecutions(ctx context.Context, taskID string) ([]domain.Execution, error) {
	var execs []domain.Execution
	if err := c.doJSON(ctx, http.MethodGet, taskPath(taskID)+"/executions", nil, &execs); err != nil {
		return nil, err
	}
	return execs, nil
}

func (c *Client) GetOutput(ctx context.Context, taskID, executionID string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, taskPath(taskID)+"/executions/"+url.PathEscape(executionID)+"/output", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read output: %v: %w", err, domain.ErrTransient)
	}
	return string(body), nil
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}

// doJSON sends in as the JSON body and decodes a 2xx response into out when out is not nil
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns transport failures and non-2xx statuses into domain errors
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Debug("Request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrTransient)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

// StatusError is a non-2xx answer. It unwraps to the matching domain sentinel, if any.
type StatusError struct {
	Code    int
	Message string
	kind    error
}

func (e *StatusError) Error() string { return e.Message }

func (e *StatusError) Unwrap() error { return e.kind }

func statusError(resp *http.Response) error {
	e := &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		e.Message = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		e.kind = domain.ErrNotFound
	case http.StatusBadRequest:
		e.kind = domain.ErrValidation
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.kind = domain.ErrTransient
	default:
		e.Message = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, e.Message)
	}
	return e
}
