// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intelligence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/router"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/types"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

// TaskState is the lifecycle of an async query.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Terminal reports whether the task has finished.
func (s TaskState) Terminal() bool { return s == TaskSuccess || s == TaskFailure }

// TaskStatus is a pollable snapshot of a task.
type TaskStatus struct {
	TaskID    string         `json:"task_id"`
	State     TaskState      `json:"state"`
	Progress  int            `json:"progress"`
	LastNode  string         `json:"last_node,omitempty"`
	Iteration int            `json:"iteration"`
	Result    *QueryResponse `json:"result,omitempty"`
	Error     *types.Error   `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TaskStats counts task outcomes since start.
type TaskStats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Active    int   `json:"active"`
	Retained  int   `json:"retained"`
}

type executor interface {
	RouteAndExecute(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

type task struct {
	status   TaskStatus
	cancel   context.CancelFunc
	watchers []chan TaskStatus
}

// TaskManager runs queries in the background with a concurrency bound and
// keeps finished tasks for the retention window.
type TaskManager struct {
	exec      executor
	sem       *semaphore.Weighted
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// NewTaskManager creates a manager running at most cfg.MaxConcurrent tasks.
func NewTaskManager(exec executor, cfg config.TasksConfig) *TaskManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	return &TaskManager{
		exec:      exec,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		retention: cfg.Retention,
		now:       time.Now,
		tasks:     make(map[string]*task),
	}
}

// Submit validates req and schedules it. The task outlives the caller's
// context but keeps its request-scoped values.
func (m *TaskManager) Submit(ctx context.Context, req QueryRequest) (TaskStatus, error) {
	if err := router.Validate(req.Query); err != nil {
		return TaskStatus{}, err
	}
	if req.ForceWorkflow != "" && !req.ForceWorkflow.Valid() {
		return TaskStatus{}, types.Validation("unknown workflow %q", req.ForceWorkflow)
	}

	now := m.now().UTC()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		status: TaskStatus{TaskID: uuid.NewString(), State: TaskPending, CreatedAt: now, UpdatedAt: now},
		cancel: cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return TaskStatus{}, types.NewError(types.CodeInternal, nil, "task manager is shut down")
	}
	m.pruneLocked(now)
	m.tasks[t.status.TaskID] = t
	m.wg.Add(1)
	snapshot := t.status
	m.mu.Unlock()

	m.submitted.Add(1)
	go m.run(taskCtx, t.status.TaskID, req)
	logging.FromContext(ctx).Debugf("task %s submitted", snapshot.TaskID)
	return snapshot, nil
}

func (m *TaskManager) run(ctx context.Context, id string, req QueryRequest) {
	defer m.wg.Done()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(id, nil, types.FromContext(ctx, "task"))
		return
	}
	defer m.sem.Release(1)

	m.update(id, func(st *TaskStatus) {
		st.State = TaskStarted
		st.Progress = 5
	})
	req.OnProgress = func(p workflow.Progress) {
		m.update(id, func(st *TaskStatus) {
			if p.Percent > st.Progress {
				st.Progress = p.Percent
			}
			st.LastNode = string(p.Node)
			st.Iteration = p.Iteration
		})
	}
	resp, err := m.exec.RouteAndExecute(ctx, req)
	m.finish(id, resp, err)
}

func (m *TaskManager) update(id string, fn func(*TaskStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.status.State.Terminal() {
		return
	}
	fn(&t.status)
	t.status.UpdatedAt = m.now().UTC()
	for _, w := range t.watchers {
		select {
		case w <- t.status:
		default:
		}
	}
}

func (m *TaskManager) finish(id string, resp *QueryResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	st := &t.status
	st.Result = resp
	st.UpdatedAt = m.now().UTC()
	if err != nil {
		st.State = TaskFailure
		st.Error = asTypedError(err)
		if st.Error.Code == types.CodeCancelled {
			m.cancelled.Add(1)
		} else {
			m.failed.Add(1)
		}
		log.Debugf("task %s failed: %v", id, err)
	} else {
		st.State = TaskSuccess
		st.Progress = 100
		m.succeeded.Add(1)
	}
	t.cancel()

	// The final snapshot must reach every watcher, so make room for it.
	for _, w := range t.watchers {
		select {
		case <-w:
		default:
		}
		w <- *st
		close(w)
	}
	t.watchers = nil
}

// Status returns the snapshot of task id.
func (m *TaskManager) Status(id string) (TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now().UTC())
	t, ok := m.tasks[id]
	if !ok {
		return TaskStatus{}, types.NotFound("task", id)
	}
	return t.status, nil
}

// Cancel revokes a pending or running task. Cancelling a finished task is a no-op.
func (m *TaskManager) Cancel(id string) (TaskStatus, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return TaskStatus{}, types.NotFound("task", id)
	}
	st := t.status
	m.mu.Unlock()
	if !st.State.Terminal() {
		t.cancel()
		log.Infof("task %s cancelled", id)
	}
	return st, nil
}

// Watch streams snapshots of task id until it finishes. The channel closes after
// the terminal snapshot; stop detaches early.
func (m *TaskManager) Watch(id string) (<-chan TaskStatus, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil, types.NotFound("task", id)
	}
	ch := make(chan TaskStatus, 16)
	ch <- t.status
	if t.status.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	t.watchers = append(t.watchers, ch)
	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range t.watchers {
			if w == ch {
				t.watchers = append(t.watchers[:i], t.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, stop, nil
}

// Stats counts tasks.
func (m *TaskManager) Stats() TaskStats {
	m.mu.Lock()
	active := 0
	for _, t := range m.tasks {
		if !t.status.State.Terminal() {
			active++
		}
	}
	retained := len(m.tasks)
	m.mu.Unlock()
	return TaskStats{
		Submitted: m.submitted.Load(),
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
		Cancelled: m.cancelled.Load(),
		Active:    active,
		Retained:  retained,
	}
}

func (m *TaskManager) pruneLocked(now time.Time) {
	for id, t := range m.tasks {
		if t.status.State.Terminal() && now.Sub(t.status.UpdatedAt) > m.retention {
			delete(m.tasks, id)
		}
	}
}

// Shutdown cancels every unfinished task and waits for them until ctx ends.
func (m *TaskManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.tasks {
		if !t.status.State.Terminal() {
			t.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("task manager shutdown timed out with tasks still running")
	}
}

func asTypedError(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	return types.NewError(types.CodeOf(err), err, "%s", err.Error())
}
