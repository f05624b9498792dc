package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	listKeyPrefix = "tasks:list:"
	// creates have no task id yet and share one ordering slot
	createSlot = "\x00create"

	defaultMaxEntries = 10000
)

// ListKey is the cache key of one page of the task list
func ListKey(q domain.ListQuery) string {
	return fmt.Sprintf("%s%d:%d:%s", listKeyPrefix, q.Page, q.Limit, q.Search)
}

// TaskKey is the cache key of a single task
func TaskKey(id string) string { return "tasks:get:" + id }

// ExecutionsKey is the cache key of a task's execution list
func ExecutionsKey(taskID string) string { return "tasks:" + taskID + ":executions" }

// OutputKey is the cache key of one execution's output
func OutputKey(taskID, executionID string) string {
	return ExecutionsKey(taskID) + ":" + executionID + ":output"
}

// QueryConfig tunes the query cache. Zero durations disable the matching limit.
// MaxEntries caps the keys tracked at once and defaults to 10000.
type QueryConfig struct {
	TTL          time.Duration
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	MaxEntries   int
}

// QueryState is what a consumer needs to render one cached read
type QueryState struct {
	Fresh     bool
	Fetching  bool
	Err       error
	UpdatedAt time.Time
}

type queryEntry struct {
	gen       uint64
	fresh     bool
	inflight  int
	err       error
	updatedAt time.Time
}

/**
 * QueryService wraps a TaskService with a read cache.
 * Reads of one key share a single in-flight call, successful mutations
 * mark the affected keys stale, and mutations of one task run in the
 * order they were issued.
 */
type QueryService struct {
	next   port.TaskService
	engine port.CacheEngine
	config QueryConfig
	log    *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*queryEntry
	locks   *keyedMutex
	pending atomic.Int64
}

// NewQueryService creates the cache in front of next
func NewQueryService(next port.TaskService, engine port.CacheEngine, config QueryConfig, log *zap.Logger) *QueryService {
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}
	return &QueryService{
		next:    next,
		engine:  engine,
		config:  config,
		log:     log,
		entries: make(map[string]*queryEntry),
		locks:   newKeyedMutex(),
	}
}

func (q *QueryService) ListTasks(ctx context.Context, query domain.ListQuery) (*domain.TaskPage, error) {
	return read(ctx, q, ListKey(query), func(ctx context.Context) (*domain.TaskPage, error) {
		return q.next.ListTasks(ctx, query)
	})
}

func (q *QueryService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return read(ctx, q, TaskKey(id), func(ctx context.Context) (*domain.Task, error) {
		return q.next.GetTask(ctx, id)
	})
}

func (q *QueryService) GetExecutions(ctx context.Context, taskID string) ([]domain.Execution, error) {
	return read(ctx, q, ExecutionsKey(taskID), func(ctx context.Context) ([]domain.Execution, error) {
		return q.next.GetExecutions(ctx, taskID)
	})
}

func (q *QueryService) GetOutput(ctx context.Context, taskID, executionID string) (string, error) {
	return read(ctx, q, OutputKey(taskID, executionID), func(ctx context.Context) (string, error) {
		return q.next.GetOutput(ctx, taskID, executionID)
	})
}

func (q *QueryService) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	q.pending.Add(1)
	defer q.pending.Add(-1)
	unlock, err := q.locks.Lock(ctx, createSlot)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task, err := q.next.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	q.invalidate(ctx, isListKey, false)
	return task, nil
}

func (q *QueryService) DeleteTask(ctx context.Context, id string) error {
	q.pending.Add(1)
	defer q.pending.Add(-1)
	unlock, err := q.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := q.next.DeleteTask(ctx, id); err != nil {
		return err
	}
	q.invalidate(ctx, isListKey, false)
	q.invalidate(ctx, taskKeys(id), true)
	return nil
}

func (q *QueryService) ExecuteTask(ctx context.Context, id string) (*domain.Execution, error) {
	q.pending.Add(1)
	defer q.pending.Add(-1)
	unlock, err := q.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exec, err := q.next.ExecuteTask(ctx, id)
	if err != nil {
		return nil, err
	}
	q.invalidate(ctx, func(key string) bool {
		return isListKey(key) || key == TaskKey(id) || key == ExecutionsKey(id)
	}, false)
	return exec, nil
}

// State reports the cache state of key. Unknown keys are neither fresh nor fetching.
func (q *QueryService) State(key string) QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return QueryState{}
	}
	return QueryState{
		Fresh:     q.isFresh(e),
		Fetching:  e.inflight > 0,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
	}
}

// PendingMutations is the number of mutations currently in flight
func (q *QueryService) PendingMutations() int {
	return int(q.pending.Load())
}

func read[T any](ctx context.Context, q *QueryService, key string, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	if data, ok := q.lookup(ctx, key); ok {
		if err := json.Unmarshal(data, &out); err == nil {
			q.log.Debug("Cache hit", zap.String("key", key))
			return out, nil
		}
		q.log.Warn("Dropping undecodable cache entry", zap.String("key", key))
	}

	ch := q.group.DoChan(key, func() (any, error) {
		e, gen := q.startFetch(key)
		q.log.Debug("Cache miss, fetching", zap.String("key", key))

		// joined callers must not lose the result because the first caller gave up
		fctx := context.WithoutCancel(ctx)
		if q.config.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, q.config.FetchTimeout)
			defer cancel()
		}

		v, err := fetch(fctx)
		if err != nil {
			q.finishFetch(fctx, key, e, gen, nil, err)
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			q.finishFetch(fctx, key, e, gen, nil, err)
			return nil, err
		}
		q.finishFetch(fctx, key, e, gen, data, nil)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return out, res.Err
		}
		// each caller decodes its own copy
		if err := json.Unmarshal(res.Val.([]byte), &out); err != nil {
			return out, err
		}
		return out, nil
	}
}

// lookup returns the encoded value of key when the entry is fresh
func (q *QueryService) lookup(ctx context.Context, key string) ([]byte, bool) {
	q.mu.Lock()
	e, ok := q.entries[key]
	fresh := ok && q.isFresh(e)
	q.mu.Unlock()
	if !fresh {
		return nil, false
	}

	data, found, err := q.engine.Get(ctx, key)
	if err != nil {
		q.log.Warn("Cache engine read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, found
}

// startFetch returns the entry a new fetch of key reports to, creating it when
// missing, together with the generation the fetch started at
func (q *QueryService) startFetch(key string) (*queryEntry, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		if len(q.entries) >= q.config.MaxEntries {
			q.evict(time.Now())
		}
		e = &queryEntry{}
		q.entries[key] = e
	}
	e.inflight++
	return e, e.gen
}

// finishFetch records the outcome of a fetch started on e at generation gen.
// A value fetched across an invalidation or a drop is handed to its callers
// but neither stored nor marked fresh. The engine write runs under mu so an
// older generation can never land over a newer one.
func (q *QueryService) finishFetch(ctx context.Context, key string, e *queryEntry, gen uint64, data []byte, fetchErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.inflight--
	if q.entries[key] != e || e.gen != gen {
		q.log.Debug("Discarding fetch raced by invalidation", zap.String("key", key))
		return
	}
	if fetchErr != nil {
		e.err = fetchErr
		return
	}
	e.err = nil
	if err := q.engine.Set(ctx, key, data, q.config.TTL); err != nil {
		q.log.Warn("Cache engine write failed", zap.String("key", key), zap.Error(err))
		return
	}
	e.fresh = true
	e.updatedAt = time.Now()
}

// evict makes room for one more entry. Entries whose value is gone leave first,
// then the oldest idle ones. Entries with a fetch in flight are kept.
func (q *QueryService) evict(now time.Time) {
	for key, e := range q.entries {
		if e.inflight == 0 && !q.holdsValue(e, now) {
			delete(q.entries, key)
		}
	}

	for len(q.entries) >= q.config.MaxEntries {
		var (
			oldest    string
			oldestAt  time.Time
			candidate bool
		)
		for key, e := range q.entries {
			if e.inflight > 0 {
				continue
			}
			if !candidate || e.updatedAt.Before(oldestAt) {
				oldest, oldestAt, candidate = key, e.updatedAt, true
			}
		}
		if !candidate {
			return
		}
		delete(q.entries, oldest)
	}
}

// holdsValue reports whether e is fresh and its engine value has not expired yet
func (q *QueryService) holdsValue(e *queryEntry, now time.Time) bool {
	if !q.isFresh(e) {
		return false
	}
	return q.config.TTL <= 0 || now.Sub(e.updatedAt) < q.config.TTL
}

// invalidate marks matching keys stale. drop also forgets them and removes their values.
func (q *QueryService) invalidate(ctx context.Context, match func(key string) bool, drop bool) {
	var keys []string

	q.mu.Lock()
	for key, e := range q.entries {
		if !match(key) {
			continue
		}
		e.gen++
		e.fresh = false
		keys = append(keys, key)
		q.group.Forget(key)
		if drop {
			delete(q.entries, key)
		}
	}
	q.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	q.log.Debug("Invalidated cache keys", zap.Strings("keys", keys), zap.Bool("dropped", drop))
	if drop {
		if err := q.engine.Delete(ctx, keys...); err != nil {
			q.log.Warn("Cache engine delete failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
}

func (q *QueryService) isFresh(e *queryEntry) bool {
	if !e.fresh {
		return false
	}
	return q.config.StaleAfter <= 0 || time.Since(e.updatedAt) < q.config.StaleAfter
}

func isListKey(key string) bool {
	return strings.HasPrefix(key, listKeyPrefix)
}

// taskKeys matches every key scoped to one task
func taskKeys(id string) func(string) bool {
	prefix := ExecutionsKey(id)
	return func(key string) bool {
		return key == TaskKey(id) || strings.HasPrefix(key, prefix)
	}
}

// keyedMutex serializes work per key and frees a key's lock once nobody holds or waits on it
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock waits until key is free or ctx is done and returns the unlock func
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
