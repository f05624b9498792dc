package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/task-console/internal/adapter/storage/memory"
	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore counts calls per operation and can hold reads or executions until released
type fakeStore struct {
	mu         sync.Mutex
	calls      map[string]int
	readErr    error
	mutErr     error
	running    int
	maxRunning int

	readGate  chan struct{}
	execGate  chan struct{}
	holdFirst chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[string]int)}
}

func (f *fakeStore) enter(op string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	switch op {
	case "create", "delete", "execute":
		return f.calls[op], f.mutErr
	}
	return f.calls[op], f.readErr
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeStore) waitRead(ctx context.Context) error {
	if f.readGate == nil {
		return nil
	}
	select {
	case <-f.readGate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// holdOnce keeps the first call of an operation waiting on holdFirst
func (f *fakeStore) holdOnce(n int) {
	if n == 1 && f.holdFirst != nil {
		<-f.holdFirst
	}
}

func (f *fakeStore) ListTasks(ctx context.Context, _ domain.ListQuery) (*domain.TaskPage, error) {
	n, err := f.enter("list")
	f.holdOnce(n)
	if werr := f.waitRead(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return &domain.TaskPage{
		Tasks: []*domain.Task{{ID: "1", Name: "List Files", Executions: []domain.Execution{}}},
		Total: n,
	}, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	n, err := f.enter("get")
	f.holdOnce(n)
	if err != nil {
		return nil, err
	}
	return &domain.Task{ID: id, Name: fmt.Sprintf("v%d", n), Executions: []domain.Execution{}}, nil
}

func (f *fakeStore) CreateTask(_ context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	if _, err := f.enter("create"); err != nil {
		return nil, err
	}
	return &domain.Task{ID: "new", Name: req.Name}, nil
}

func (f *fakeStore) DeleteTask(context.Context, string) error {
	_, err := f.enter("delete")
	return err
}

func (f *fakeStore) ExecuteTask(_ context.Context, id string) (*domain.Execution, error) {
	if _, err := f.enter("execute"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.running++
	f.maxRunning = max(f.maxRunning, f.running)
	f.mu.Unlock()

	if f.execGate != nil {
		<-f.execGate
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()
	return &domain.Execution{ID: "exec-x", TaskID: id}, nil
}

func (f *fakeStore) GetExecutions(_ context.Context, taskID string) ([]domain.Execution, error) {
	if _, err := f.enter("executions"); err != nil {
		return nil, err
	}
	return []domain.Execution{{ID: "exec-1", TaskID: taskID}}, nil
}

func (f *fakeStore) GetOutput(_ context.Context, _, _ string) (string, error) {
	n, err := f.enter("output")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("output %d", n), nil
}

func newQueryTest(t *testing.T, config QueryConfig) (*QueryService, *fakeStore) {
	t.Helper()
	engine := memory.NewCacheEngine(memory.EngineConfig{CleanupInterval: time.Minute})
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	store := newFakeStore()
	return NewQueryService(store, engine, config, zap.NewNop()), store
}

var firstPage = domain.ListQuery{Page: 1, Limit: 10}

func TestQueryService_CachesReads(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: time.Minute})
	ctx := context.Background()

	assert.Equal(t, QueryState{}, q.State(ListKey(firstPage)))

	first, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	second, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)

	assert.Equal(t, 1, store.count("list"))
	assert.Equal(t, first, second)

	state := q.State(ListKey(firstPage))
	assert.True(t, state.Fresh)
	assert.False(t, state.Fetching)
	assert.NoError(t, state.Err)
	assert.False(t, state.UpdatedAt.IsZero())

	// different parameters are a different key
	_, err = q.ListTasks(ctx, domain.ListQuery{Page: 1, Limit: 10, Search: "list"})
	require.NoError(t, err)
	assert.Equal(t, 2, store.count("list"))
}

func TestQueryService_CallersGetTheirOwnCopy(t *testing.T) {
	q, _ := newQueryTest(t, QueryConfig{})
	ctx := context.Background()

	page, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	page.Tasks[0].Name = "mutated"

	again, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	assert.Equal(t, "List Files", again.Tasks[0].Name)
}

func TestQueryService_DeduplicatesConcurrentReads(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	store.readGate = make(chan struct{})
	ctx := context.Background()

	const readers = 8
	results := make([]*domain.TaskPage, readers)
	var wg sync.WaitGroup
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := q.ListTasks(ctx, firstPage)
			assert.NoError(t, err)
			results[i] = page
		}()
	}

	assert.Eventually(t, func() bool {
		return store.count("list") == 1 && q.State(ListKey(firstPage)).Fetching
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.readGate)
	wg.Wait()

	assert.Equal(t, 1, store.count("list"))
	for _, page := range results {
		require.NotNil(t, page)
		assert.Equal(t, 1, page.Total)
	}
	assert.False(t, q.State(ListKey(firstPage)).Fetching)
}

func TestQueryService_MutationsInvalidate(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	ctx := context.Background()

	warm := func() {
		t.Helper()
		_, err := q.ListTasks(ctx, firstPage)
		require.NoError(t, err)
		_, err = q.GetTask(ctx, "1")
		require.NoError(t, err)
		_, err = q.GetExecutions(ctx, "1")
		require.NoError(t, err)
		_, err = q.GetOutput(ctx, "1", "exec-1")
		require.NoError(t, err)
	}
	warm()

	_, err := q.CreateTask(ctx, domain.CreateTaskRequest{Name: "Build", Owner: "Alice", Command: "make"})
	require.NoError(t, err)
	assert.False(t, q.State(ListKey(firstPage)).Fresh)
	assert.True(t, q.State(TaskKey("1")).Fresh)

	warm()
	assert.Equal(t, 2, store.count("list"))
	assert.Equal(t, 1, store.count("get"))

	_, err = q.ExecuteTask(ctx, "1")
	require.NoError(t, err)
	assert.False(t, q.State(ListKey(firstPage)).Fresh)
	assert.False(t, q.State(TaskKey("1")).Fresh)
	assert.False(t, q.State(ExecutionsKey("1")).Fresh)
	assert.True(t, q.State(OutputKey("1", "exec-1")).Fresh)

	warm()
	assert.Equal(t, 3, store.count("list"))
	assert.Equal(t, 2, store.count("get"))
	assert.Equal(t, 2, store.count("executions"))
	assert.Equal(t, 1, store.count("output"))

	require.NoError(t, q.DeleteTask(ctx, "1"))
	assert.False(t, q.State(ListKey(firstPage)).Fresh)
	assert.Equal(t, QueryState{}, q.State(TaskKey("1")))
	assert.Equal(t, QueryState{}, q.State(ExecutionsKey("1")))
	assert.Equal(t, QueryState{}, q.State(OutputKey("1", "exec-1")))
}

func TestQueryService_ExecuteLeavesOtherTasksCached(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	ctx := context.Background()

	_, err := q.GetTask(ctx, "2")
	require.NoError(t, err)
	_, err = q.ExecuteTask(ctx, "1")
	require.NoError(t, err)

	assert.True(t, q.State(TaskKey("2")).Fresh)
	_, err = q.GetTask(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 1, store.count("get"))
}

func TestQueryService_FailedMutationKeepsCache(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	ctx := context.Background()

	_, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)

	store.mutErr = domain.ErrTransient
	_, err = q.CreateTask(ctx, domain.CreateTaskRequest{Name: "Build", Owner: "Alice", Command: "make"})
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, q.DeleteTask(ctx, "1"), domain.ErrTransient)
	_, err = q.ExecuteTask(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrTransient)

	assert.True(t, q.State(ListKey(firstPage)).Fresh)
	_, err = q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	assert.Equal(t, 1, store.count("list"))
	assert.Equal(t, 0, q.PendingMutations())
}

func TestQueryService_InvalidationDuringFetchLeavesKeyStale(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	store.readGate = make(chan struct{})
	ctx := context.Background()

	done := make(chan *domain.TaskPage)
	go func() {
		page, err := q.ListTasks(ctx, firstPage)
		assert.NoError(t, err)
		done <- page
	}()
	assert.Eventually(t, func() bool { return q.State(ListKey(firstPage)).Fetching }, time.Second, time.Millisecond)

	_, err := q.CreateTask(ctx, domain.CreateTaskRequest{Name: "Build", Owner: "Alice", Command: "make"})
	require.NoError(t, err)
	close(store.readGate)

	page := <-done
	assert.Equal(t, 1, page.Total)
	state := q.State(ListKey(firstPage))
	assert.False(t, state.Fresh)
	assert.False(t, state.Fetching)

	page, err = q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.True(t, q.State(ListKey(firstPage)).Fresh)
}

func TestQueryService_OlderFetchCannotOverwriteNewerValue(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: time.Minute})
	store.holdFirst = make(chan struct{})
	ctx := context.Background()

	done := make(chan *domain.TaskPage)
	go func() {
		page, err := q.ListTasks(ctx, firstPage)
		assert.NoError(t, err)
		done <- page
	}()
	assert.Eventually(t, func() bool { return store.count("list") == 1 }, time.Second, time.Millisecond)

	_, err := q.CreateTask(ctx, domain.CreateTaskRequest{Name: "Build", Owner: "Alice", Command: "make"})
	require.NoError(t, err)

	page, err := q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.True(t, q.State(ListKey(firstPage)).Fresh)

	close(store.holdFirst)
	assert.Equal(t, 1, (<-done).Total)

	page, err = q.ListTasks(ctx, firstPage)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, store.count("list"))
	state := q.State(ListKey(firstPage))
	assert.True(t, state.Fresh)
	assert.False(t, state.Fetching)
}

func TestQueryService_FetchAcrossDeleteIsDiscarded(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: time.Minute})
	store.holdFirst = make(chan struct{})
	ctx := context.Background()

	done := make(chan *domain.Task)
	go func() {
		task, err := q.GetTask(ctx, "1")
		assert.NoError(t, err)
		done <- task
	}()
	assert.Eventually(t, func() bool { return store.count("get") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, q.DeleteTask(ctx, "1"))
	assert.Equal(t, QueryState{}, q.State(TaskKey("1")))

	// the key is read again before the fetch from before the delete returns
	task, err := q.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "v2", task.Name)

	close(store.holdFirst)
	assert.Equal(t, "v1", (<-done).Name)

	task, err = q.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "v2", task.Name)
	assert.Equal(t, 2, store.count("get"))
	assert.False(t, q.State(TaskKey("1")).Fetching)
}

func TestQueryService_EntriesAreBounded(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: time.Millisecond, MaxEntries: 10})
	ctx := context.Background()

	for i := range 500 {
		_, err := q.ListTasks(ctx, domain.ListQuery{Page: 1, Limit: 10, Search: fmt.Sprintf("term-%d", i)})
		require.NoError(t, err)
	}
	assert.Equal(t, 500, store.count("list"))

	q.mu.Lock()
	n := len(q.entries)
	q.mu.Unlock()
	assert.LessOrEqual(t, n, 10)
	assert.False(t, q.State(ListKey(domain.ListQuery{Page: 1, Limit: 10, Search: "term-499"})).Fetching)
}

func TestQueryService_EvictsStaleEntriesFirst(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: time.Minute, MaxEntries: 3})
	ctx := context.Background()
	search := func(term string) domain.ListQuery { return domain.ListQuery{Page: 1, Limit: 10, Search: term} }

	_, err := q.GetTask(ctx, "1")
	require.NoError(t, err)
	for _, term := range []string{"a", "b"} {
		_, err = q.ListTasks(ctx, search(term))
		require.NoError(t, err)
	}

	_, err = q.CreateTask(ctx, domain.CreateTaskRequest{Name: "Build", Owner: "Alice", Command: "make"})
	require.NoError(t, err)
	_, err = q.ListTasks(ctx, search("c"))
	require.NoError(t, err)

	q.mu.Lock()
	n := len(q.entries)
	q.mu.Unlock()
	assert.Equal(t, 2, n)
	assert.Equal(t, QueryState{}, q.State(ListKey(search("a"))))
	assert.True(t, q.State(TaskKey("1")).Fresh)
	assert.True(t, q.State(ListKey(search("c"))).Fresh)

	_, err = q.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.count("get"))
}

func TestQueryService_ReadFailure(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	ctx := context.Background()
	store.setReadErr(domain.ErrTransient)

	_, err := q.GetOutput(ctx, "1", "exec-1")
	assert.ErrorIs(t, err, domain.ErrTransient)
	state := q.State(OutputKey("1", "exec-1"))
	assert.False(t, state.Fresh)
	assert.ErrorIs(t, state.Err, domain.ErrTransient)

	// no retry on its own
	assert.Equal(t, 1, store.count("output"))

	store.setReadErr(nil)
	out, err := q.GetOutput(ctx, "1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "output 2", out)
	state = q.State(OutputKey("1", "exec-1"))
	assert.True(t, state.Fresh)
	assert.NoError(t, state.Err)
}

func TestQueryService_StaleAfter(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{StaleAfter: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := q.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.True(t, q.State(TaskKey("1")).Fresh)

	assert.Eventually(t, func() bool { return !q.State(TaskKey("1")).Fresh }, time.Second, 5*time.Millisecond)

	task, err := q.GetTask(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "v2", task.Name)
	assert.Equal(t, 2, store.count("get"))
}

func TestQueryService_EngineExpiryForcesRefetch(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{TTL: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := q.GetExecutions(ctx, "1")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	_, err = q.GetExecutions(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.count("executions"))
}

func TestQueryService_CancelledWaiterDoesNotAbortFetch(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{FetchTimeout: time.Second})
	store.readGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		_, err := q.ListTasks(ctx, firstPage)
		errCh <- err
	}()
	assert.Eventually(t, func() bool { return q.State(ListKey(firstPage)).Fetching }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(store.readGate)
	assert.Eventually(t, func() bool { return q.State(ListKey(firstPage)).Fresh }, time.Second, time.Millisecond)

	_, err := q.ListTasks(context.Background(), firstPage)
	require.NoError(t, err)
	assert.Equal(t, 1, store.count("list"))
}

func TestQueryService_FetchTimeout(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{FetchTimeout: 20 * time.Millisecond})
	store.readGate = make(chan struct{})
	defer close(store.readGate)

	_, err := q.ListTasks(context.Background(), firstPage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, q.State(ListKey(firstPage)).Err, context.DeadlineExceeded)
}

func TestQueryService_MutationsOfOneTaskAreOrdered(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	store.execGate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.ExecuteTask(ctx, "1")
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool {
		return q.PendingMutations() == 2 && store.count("execute") == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.count("execute"))

	store.execGate <- struct{}{}
	assert.Eventually(t, func() bool { return store.count("execute") == 2 }, time.Second, time.Millisecond)
	store.execGate <- struct{}{}
	wg.Wait()

	assert.Equal(t, 0, q.PendingMutations())
	assert.Equal(t, 1, store.maxRunning)
}

func TestQueryService_MutationsOfDifferentTasksOverlap(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	store.execGate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"1", "2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.ExecuteTask(ctx, id)
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.running == 2
	}, time.Second, time.Millisecond)
	close(store.execGate)
	wg.Wait()
	assert.Equal(t, 2, store.maxRunning)
}

func TestQueryService_QueuedMutationGivesUpWithContext(t *testing.T) {
	q, store := newQueryTest(t, QueryConfig{})
	store.execGate = make(chan struct{})
	ctx := context.Background()

	first := make(chan error)
	go func() {
		_, err := q.ExecuteTask(ctx, "1")
		first <- err
	}()
	assert.Eventually(t, func() bool { return store.count("execute") == 1 }, time.Second, time.Millisecond)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := q.ExecuteTask(waitCtx, "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, q.DeleteTask(waitCtx, "1"), context.DeadlineExceeded)
	assert.Equal(t, 1, store.count("execute"))
	assert.Equal(t, 0, store.count("delete"))
	assert.Equal(t, 1, q.PendingMutations())

	close(store.execGate)
	require.NoError(t, <-first)
	assert.Equal(t, 0, q.PendingMutations())

	q.locks.mu.Lock()
	defer q.locks.mu.Unlock()
	assert.Empty(t, q.locks.locks)
}

func TestQueryService_EngineFailureFallsBackToStore(t *testing.T) {
	store := newFakeStore()
	q := NewQueryService(store, brokenEngine{}, QueryConfig{}, zap.NewNop())
	ctx := context.Background()

	for range 2 {
		task, err := q.GetTask(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "1", task.ID)
	}
	assert.Equal(t, 2, store.count("get"))
	assert.False(t, q.State(TaskKey("1")).Fresh)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)

	other, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	assert.Empty(t, k.locks)
}

type brokenEngine struct{}

var errEngineDown = errors.New("engine down")

func (brokenEngine) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errEngineDown }
func (brokenEngine) Set(context.Context, string, []byte, time.Duration) error {
	return errEngineDown
}
func (brokenEngine) Delete(context.Context, ...string) error { return errEngineDown }
func (brokenEngine) Close(context.Context) error             { return nil }
