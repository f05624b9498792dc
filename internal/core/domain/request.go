// Package domain provides domain level errors & helper structs translated from requests.
package domain

import "strings"

// DefaultPageLimit is the page size used when a caller does not pick one
const DefaultPageLimit = 10

// CreateTaskRequest carries the caller supplied fields of a new task
type CreateTaskRequest struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Command string `json:"command"`
}

// Validate requires the three fields to be present. Values are not normalized.
func (r CreateTaskRequest) Validate() error {
	var missing []string
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Owner == "" {
		missing = append(missing, "owner")
	}
	if r.Command == "" {
		missing = append(missing, "command")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// ListQuery selects one page of the filtered task collection
type ListQuery struct {
	Page   int
	Limit  int
	Search string
}

// Term returns the lower-cased search term, or "" when nothing should be filtered.
// Surrounding blanks only decide emptiness, a non-blank term is matched as given.
func (q ListQuery) Term() string {
	if strings.TrimSpace(q.Search) == "" {
		return ""
	}
	return strings.ToLower(q.Search)
}

// Bounds returns the slice window of the page within n filtered items
func (q ListQuery) Bounds(n int) (int, int) {
	if q.Page < 1 || q.Limit < 1 {
		return 0, 0
	}
	start := (q.Page - 1) * q.Limit
	if start >= n {
		return n, n
	}
	return start, min(start+q.Limit, n)
}

// TaskPage is one page of tasks plus the size of the whole filtered set
type TaskPage struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}
