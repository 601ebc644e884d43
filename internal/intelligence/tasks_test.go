// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intelligence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

func drain(t *testing.T, ch <-chan TaskStatus) []TaskStatus {
	t.Helper()
	var out []TaskStatus
	timeout := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		case <-timeout:
			t.Fatal("task did not finish")
			return out
		}
	}
}

func TestTasks_SubmitAndWatch(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	tasks := f.svc.Tasks()

	st, err := tasks.Submit(context.Background(), QueryRequest{Query: "Compare our policies with California regulations"})
	require.NoError(t, err)
	assert.Equal(t, TaskPending, st.State)
	assert.NotEmpty(t, st.TaskID)

	ch, stop, err := tasks.Watch(st.TaskID)
	require.NoError(t, err)
	defer stop()
	updates := drain(t, ch)
	require.NotEmpty(t, updates)

	last := updates[len(updates)-1]
	assert.Equal(t, TaskSuccess, last.State)
	assert.Equal(t, 100, last.Progress)
	require.NotNil(t, last.Result)
	assert.Equal(t, types.WorkflowIterative, last.Result.Workflow)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Progress, updates[i-1].Progress, "progress never goes backwards")
	}

	got, err := tasks.Status(st.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskSuccess, got.State)
	assert.Equal(t, int64(1), tasks.Stats().Succeeded)

	// Watching a finished task yields its final snapshot.
	ch, _, err = tasks.Watch(st.TaskID)
	require.NoError(t, err)
	final := drain(t, ch)
	require.Len(t, final, 1)
	assert.Equal(t, TaskSuccess, final[0].State)
}

func TestTasks_Cancel(t *testing.T) {
	f := newFixture(t, testConfig(), blocking)
	tasks := f.svc.Tasks()

	st, err := tasks.Submit(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, _ := tasks.Status(st.TaskID)
		return cur.State == TaskStarted && cur.LastNode != ""
	}, 2*time.Second, 5*time.Millisecond)

	_, err = tasks.Cancel(st.TaskID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, _ := tasks.Status(st.TaskID)
		return cur.State == TaskFailure
	}, 2*time.Second, 5*time.Millisecond)

	cur, err := tasks.Status(st.TaskID)
	require.NoError(t, err)
	require.NotNil(t, cur.Error)
	assert.Equal(t, types.CodeCancelled, cur.Error.Code)
	assert.Equal(t, int64(1), tasks.Stats().Cancelled)

	// A second cancel is a no-op on the finished task.
	again, err := tasks.Cancel(st.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailure, again.State)
}

func TestTasks_ConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.MaxConcurrent = 1
	f := newFixture(t, cfg, blocking)
	tasks := f.svc.Tasks()

	first, err := tasks.Submit(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	second, err := tasks.Submit(context.Background(), QueryRequest{Query: "What is our shipping policy?"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, _ := tasks.Status(first.TaskID)
		return cur.State == TaskStarted
	}, 2*time.Second, 5*time.Millisecond)
	cur, err := tasks.Status(second.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, cur.State)
	assert.Equal(t, 2, tasks.Stats().Active)

	// Cancelling a queued task finishes it without running.
	_, err = tasks.Cancel(second.TaskID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, _ := tasks.Status(second.TaskID)
		return cur.State == TaskFailure
	}, 2*time.Second, 5*time.Millisecond)
	_, _ = tasks.Cancel(first.TaskID)
}

func TestTasks_Errors(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	tasks := f.svc.Tasks()

	_, err := tasks.Submit(context.Background(), QueryRequest{Query: ""})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = tasks.Submit(context.Background(), QueryRequest{Query: "hello", ForceWorkflow: "nope"})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = tasks.Status("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = tasks.Cancel("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, _, err = tasks.Watch("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

type instantExecutor struct{}

func (instantExecutor) RouteAndExecute(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	return &QueryResponse{Answer: "ok"}, nil
}

func TestTasks_Retention(t *testing.T) {
	m := NewTaskManager(instantExecutor{}, config.TasksConfig{MaxConcurrent: 2, Retention: time.Minute})
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	m.now = func() time.Time { return time.Unix(0, clock.Load()) }

	st, err := m.Submit(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, err := m.Status(st.TaskID)
		return err == nil && cur.State == TaskSuccess
	}, 2*time.Second, 5*time.Millisecond)

	clock.Add(int64(2 * time.Minute))
	_, err = m.Status(st.TaskID)
	assert.ErrorIs(t, err, types.ErrNotFound, "finished tasks expire after the retention window")

	m.Shutdown(context.Background())
	_, err = m.Submit(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	assert.Error(t, err)
}
