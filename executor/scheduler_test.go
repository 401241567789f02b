package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow"
	"sqlflow/engine"
	"sqlflow/state"
	"sqlflow/state/sqlitestate"
)

// cancelTrackingEngine is a minimal engine.Engine stub that only needs to
// record Cancel calls; nothing in these tests issues real SQL through it.
type cancelTrackingEngine struct {
	mu        sync.Mutex
	cancelled []string
}

func (e *cancelTrackingEngine) Execute(ctx context.Context, sql string, params []any) (engine.Result, error) {
	return engine.Result{}, nil
}

func (e *cancelTrackingEngine) TableExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (e *cancelTrackingEngine) GetSchema(ctx context.Context, name string) (*sqlflow.TableInfo, error) {
	return nil, nil
}

func (e *cancelTrackingEngine) BeginTx(ctx context.Context) (engine.Tx, error) { return nil, nil }

func (e *cancelTrackingEngine) Cancel(handle string) error {
	e.mu.Lock()
	e.cancelled = append(e.cancelled, handle)
	e.mu.Unlock()

	return nil
}

func (e *cancelTrackingEngine) Dialect() sqlflow.Dialect { return sqlflow.DialectSQLite }
func (e *cancelTrackingEngine) Close() error             { return nil }

// TestScheduler_DependencyOrdering is invariant 2: for every A -> B, A's
// commit happens before B starts.
func TestScheduler_DependencyOrdering(t *testing.T) {
	var (
		mu      sync.Mutex
		aCommit time.Time
		bStart  time.Time
	)

	tasks := []*Task{
		{ID: "A", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			aCommit = time.Now()
			mu.Unlock()

			return nil, nil
		}},
		{ID: "B", DependsOn: []string{"A"}, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			mu.Lock()
			bStart = time.Now()
			mu.Unlock()

			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 4}

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunSuccess, summary.Status)

	assert.True(t, aCommit.Before(bStart) || aCommit.Equal(bStart))
}

func TestScheduler_IndependentTasksRunConcurrently(t *testing.T) {
	var inFlight, maxInFlight int32

	track := func(ctx context.Context) ([]state.WatermarkUpdate, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		return nil, nil
	}

	tasks := []*Task{
		{ID: "A", Run: track},
		{ID: "B", Run: track},
		{ID: "C", Run: track},
	}

	s := &Scheduler{MaxParallelism: 3}

	_, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&maxInFlight), int32(1))
}

func TestScheduler_FailurePropagatesSkipToDescendants(t *testing.T) {
	tasks := []*Task{
		{ID: "A", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			return nil, errors.New("boom")
		}},
		{ID: "B", DependsOn: []string{"A"}, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 2}

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, summary.Status)
	assert.Equal(t, state.TaskFailed, summary.Tasks["A"])
	assert.Contains(t, summary.Skipped, "B")
}

func TestScheduler_RetriesUpToMaxAttempts(t *testing.T) {
	var attempts int32

	tasks := []*Task{
		{ID: "A", MaxAttempts: 3, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, errors.New("transient")
			}

			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 1, RetryBackoff: time.Millisecond}

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunSuccess, summary.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

// TestScheduler_Resume is scenario F: A succeeds, B fails, resume retries
// only B and then lets C run; final status is success.
func TestScheduler_Resume(t *testing.T) {
	backend, err := sqlitestate.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.CreateRun("run-1", "hash", []byte(`{}`)))
	require.NoError(t, backend.CommitTask(state.TaskCommit{RunID: "run-1", TaskID: "A", State: state.TaskSuccess, Attempt: 1}))
	require.NoError(t, backend.CommitTask(state.TaskCommit{RunID: "run-1", TaskID: "B", State: state.TaskFailed, Attempt: 1, Error: "boom"}))

	_, statuses, _, err := backend.LoadRun("run-1")
	require.NoError(t, err)

	var aRuns, bRuns, cRuns int32

	tasks := []*Task{
		{ID: "A", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			atomic.AddInt32(&aRuns, 1)
			return nil, nil
		}},
		{ID: "B", DependsOn: []string{"A"}, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			atomic.AddInt32(&bRuns, 1)
			return nil, nil
		}},
		{ID: "C", DependsOn: []string{"B"}, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			atomic.AddInt32(&cRuns, 1)
			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 2, State: backend, RunID: "run-1"}
	s.Resume(statuses)

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, state.RunSuccess, summary.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&aRuns))
	assert.Equal(t, int32(1), atomic.LoadInt32(&bRuns))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cRuns))
}

// TestScheduler_TaskTimeoutAbortsAndReportsCancellation is §4.3's
// task-level timeout: a task whose Timeout elapses is aborted rather than
// left to run unbounded, and its recorded failure is a CancellationError.
func TestScheduler_TaskTimeoutAbortsAndReportsCancellation(t *testing.T) {
	tasks := []*Task{
		{ID: "A", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}

	s := &Scheduler{MaxParallelism: 1}

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, summary.Status)
	assert.Equal(t, state.TaskFailed, summary.Tasks["A"])

	s.mu.Lock()
	msg := s.lastErr["A"]
	s.mu.Unlock()
	assert.Contains(t, msg, "cancelled")
}

// TestScheduler_FailFastCancelsRunningTasks is §5: once FailFast is set and
// one task fails, every other task still RUNNING is force-aborted via
// Engine.Cancel rather than left to finish on its own.
func TestScheduler_FailFastCancelsRunningTasks(t *testing.T) {
	eng := &cancelTrackingEngine{}

	started := make(chan struct{})
	release := make(chan struct{})

	tasks := []*Task{
		{ID: "A", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			<-started // fail only once B is RUNNING
			return nil, errors.New("boom")
		}},
		{ID: "B", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			close(started)
			<-release
			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 2, FailFast: true, Engine: eng}

	done := make(chan *RunSummary, 1)

	go func() {
		summary, err := s.Run(context.Background(), tasks)
		assert.NoError(t, err)
		done <- summary
	}()

	<-started
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()

		return len(eng.cancelled) > 0
	}, time.Second, time.Millisecond)

	close(release)

	summary := <-done
	assert.Equal(t, state.RunFailed, summary.Status)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Contains(t, eng.cancelled, "B")
}

// TestScheduler_DefaultDoesNotStopInFlightTasksButSkipsNewDispatch is the
// non-FailFast default: a failure stops new dispatch waves (C never runs)
// but the already-running sibling B still finishes cooperatively.
func TestScheduler_DefaultDoesNotStopInFlightTasksButSkipsNewDispatch(t *testing.T) {
	var bFinished, cRan int32

	tasks := []*Task{
		{ID: "A", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			return nil, errors.New("boom")
		}},
		{ID: "B", Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&bFinished, 1)

			return nil, nil
		}},
		{ID: "C", DependsOn: []string{"B"}, Run: func(ctx context.Context) ([]state.WatermarkUpdate, error) {
			atomic.AddInt32(&cRan, 1)
			return nil, nil
		}},
	}

	s := &Scheduler{MaxParallelism: 2}

	summary, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunFailed, summary.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bFinished))
	assert.Equal(t, int32(0), atomic.LoadInt32(&cRan))
}
