// Package executor drives a planner.Plan to completion: a bounded worker
// pool dispatches ELIGIBLE tasks, retries transient failures with
// exponential backoff, and commits each task's terminal state atomically
// with any watermark it advanced, per spec.md §4.3.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sqlflow/engine"
	"sqlflow/state"
)

// TaskFunc runs one execution step's SQL effects. A non-nil
// []state.WatermarkUpdate is folded into the task's commit alongside its
// terminal state.
type TaskFunc func(ctx context.Context) ([]state.WatermarkUpdate, error)

// Task is one schedulable unit of a plan: a stable id, the ids of tasks it
// depends on, and the work itself.
type Task struct {
	ID          string
	DependsOn   []string
	Run         TaskFunc
	MaxAttempts int
	// Timeout, when non-zero, bounds a single attempt's execution with a
	// context deadline; a query run under that context is aborted when the
	// deadline passes, and the attempt is recorded as a CancellationError.
	Timeout     time.Duration
	sourceOrder int
}

// Scheduler dispatches a plan's tasks with a bounded degree of
// parallelism, guaranteeing no two tasks with a dependency edge ever run
// concurrently (invariant 2: A.commitTime <= B.startTime for A -> B).
type Scheduler struct {
	MaxParallelism int
	RetryBackoff   time.Duration
	FailFast       bool
	// Engine, when set, receives Cancel(handle) calls under FailFast for
	// every task still running when another fails. Task timeouts do not go
	// through Engine; they act through the attempt's context.
	Engine engine.Engine
	State  state.Backend
	RunID  string

	mu       sync.Mutex
	state    map[string]state.TaskState
	attempts map[string]int
	lastErr  map[string]string
	running  map[string]bool
}

// RunSummary is the aggregate outcome of one Scheduler.Run call.
type RunSummary struct {
	Status  state.RunStatus
	Tasks   map[string]state.TaskState
	Skipped []string
}

// Run dispatches tasks to completion, respecting dependency order. It
// returns once every task has reached a terminal state (SUCCESS or
// FAILED) or its descendants have been marked skipped because an ancestor
// failed.
func (s *Scheduler) Run(ctx context.Context, tasks []*Task) (*RunSummary, error) {
	if s.MaxParallelism <= 0 {
		s.MaxParallelism = 1
	}

	if s.RetryBackoff <= 0 {
		s.RetryBackoff = time.Second
	}

	for i, t := range tasks {
		t.sourceOrder = i

		if t.MaxAttempts <= 0 {
			t.MaxAttempts = 1
		}
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	s.mu.Lock()
	if s.state == nil {
		s.state = make(map[string]state.TaskState, len(tasks))
		s.attempts = make(map[string]int, len(tasks))
		s.lastErr = make(map[string]string, len(tasks))

		for _, t := range tasks {
			s.state[t.ID] = state.TaskPending
		}
	}

	// After Resume, a task with no persisted status starts out PENDING too.
	for _, t := range tasks {
		if _, ok := s.state[t.ID]; !ok {
			s.state[t.ID] = state.TaskPending
		}
	}
	s.running = make(map[string]bool, len(tasks))
	s.mu.Unlock()

	sem := semaphore.NewWeighted(int64(s.MaxParallelism))

	var wg sync.WaitGroup

	failed := make(chan struct{})

	var failedOnce sync.Once

	markFailed := func() {
		failedOnce.Do(func() {
			close(failed)

			// By default, a failure stops new dispatch waves but lets
			// already-running tasks finish cooperatively. FailFast
			// additionally force-aborts them via the engine, as soon as
			// the failure happens rather than waiting for the current
			// wave to drain on its own.
			if s.FailFast {
				s.cancelRunning()
			}
		})
	}

	dispatched := make(map[string]bool)

	for {
		select {
		case <-failed:
			goto drain
		default:
		}

		eligible := s.eligibleTasks(tasks, dispatched)
		if len(eligible) == 0 {
			break
		}

		for _, t := range eligible {
			dispatched[t.ID] = true

			if err := sem.Acquire(ctx, 1); err != nil {
				s.setState(t.ID, state.TaskFailed)
				continue
			}

			wg.Add(1)

			go func(t *Task) {
				defer wg.Done()
				defer sem.Release(1)

				if err := s.runWithRetry(ctx, t); err != nil {
					markFailed()
				}
			}(t)
		}

		// Wait for at least this wave before recomputing eligibility so a
		// successor's dependency set is observed consistently, per the
		// scheduler-lock atomicity spec.md §4.3 requires.
		wg.Wait()
	}

drain:
	wg.Wait()

	return s.summarize(tasks), nil
}

// eligibleTasks returns PENDING tasks (not yet dispatched) whose every
// dependency has reached SUCCESS, in plan (FIFO) order.
func (s *Scheduler) eligibleTasks(tasks []*Task, dispatched map[string]bool) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*Task

	for _, t := range tasks {
		if dispatched[t.ID] || s.state[t.ID] != state.TaskPending {
			continue
		}

		ready := true

		for _, dep := range t.DependsOn {
			if s.state[dep] != state.TaskSuccess {
				ready = false
				break
			}
		}

		if ready {
			eligible = append(eligible, t)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].sourceOrder < eligible[j].sourceOrder })

	return eligible
}

func (s *Scheduler) runWithRetry(ctx context.Context, t *Task) error {
	s.setState(t.ID, state.TaskRunning)

	s.mu.Lock()
	s.running[t.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
	}()

	var lastErr error

	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		s.mu.Lock()
		s.attempts[t.ID] = attempt
		s.mu.Unlock()

		execCtx := engine.WithHandle(ctx, t.ID)

		var cancel context.CancelFunc
		if t.Timeout > 0 {
			execCtx, cancel = context.WithTimeout(execCtx, t.Timeout)
		}

		watermarks, err := t.Run(execCtx)

		if cancel != nil {
			cancel()
		}

		if err == nil {
			s.commitSuccess(t.ID, attempt, watermarks)
			return nil
		}

		if execCtx.Err() != nil {
			lastErr = &CancellationError{TaskID: t.ID, Err: err}
			break
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}

		if attempt < t.MaxAttempts {
			timer := time.NewTimer(backoff(s.RetryBackoff, attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}

	s.commitFailure(t.ID, t.MaxAttempts, lastErr)

	return lastErr
}

// cancelRunning force-aborts every task currently RUNNING by calling
// Engine.Cancel with its task id as the handle, per §5's fail-fast
// "engine-level cancels" requirement.
func (s *Scheduler) cancelRunning() {
	if s.Engine == nil {
		return
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.running))

	for id, running := range s.running {
		if running {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Engine.Cancel(id)
	}
}

func (s *Scheduler) commitSuccess(taskID string, attempt int, watermarks []state.WatermarkUpdate) {
	s.setState(taskID, state.TaskSuccess)

	if s.State == nil {
		return
	}

	_ = s.State.CommitTask(state.TaskCommit{
		RunID:      s.RunID,
		TaskID:     taskID,
		State:      state.TaskSuccess,
		Attempt:    attempt,
		Watermarks: watermarks,
	})
}

func (s *Scheduler) commitFailure(taskID string, attempt int, err error) {
	s.setState(taskID, state.TaskFailed)

	s.mu.Lock()
	if err != nil {
		s.lastErr[taskID] = err.Error()
	}
	s.mu.Unlock()

	if s.State == nil {
		return
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}

	_ = s.State.CommitTask(state.TaskCommit{
		RunID:   s.RunID,
		TaskID:  taskID,
		State:   state.TaskFailed,
		Attempt: attempt,
		Error:   msg,
	})
}

func (s *Scheduler) setState(taskID string, st state.TaskState) {
	s.mu.Lock()
	s.state[taskID] = st
	s.mu.Unlock()
}

func (s *Scheduler) summarize(tasks []*Task) *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &RunSummary{Status: state.RunSuccess, Tasks: make(map[string]state.TaskState, len(tasks))}

	for _, t := range tasks {
		st := s.state[t.ID]
		summary.Tasks[t.ID] = st

		switch st {
		case state.TaskFailed:
			summary.Status = state.RunFailed
		case state.TaskPending, state.TaskEligible:
			summary.Skipped = append(summary.Skipped, t.ID)
			summary.Status = state.RunFailed
		}
	}

	return summary
}

// Resume seeds the scheduler's in-memory task-state map from a previously
// persisted run: SUCCESS tasks are preserved so they are never re-run;
// everything else (FAILED, interrupted RUNNING, ELIGIBLE/PENDING) is
// re-evaluated from PENDING, per spec.md §4.3's resume semantics.
func (s *Scheduler) Resume(statuses []state.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = make(map[string]state.TaskState, len(statuses))
	s.attempts = make(map[string]int, len(statuses))
	s.lastErr = make(map[string]string, len(statuses))

	for _, ts := range statuses {
		if ts.State == state.TaskSuccess {
			s.state[ts.TaskID] = state.TaskSuccess
			s.attempts[ts.TaskID] = ts.Attempt

			continue
		}

		s.state[ts.TaskID] = state.TaskPending
	}
}
