// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/resilience"
	"github.com/traylinx/switchAIRouter/internal/types"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func register(t *testing.T, reg *Registry, name string, kind Kind, fn Func) *Tool {
	t.Helper()
	tool := &Tool{Name: name, Description: name + " tool", Kind: kind, Run: fn}
	require.NoError(t, reg.Register(tool))
	return tool
}

func TestRegistry_InvokeTagsResult(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	register(t, reg, "echo", KindInternal, func(ctx context.Context, args Args) ([]Item, error) {
		return []Item{{Content: args.Query, Score: 1}}, nil
	})

	res, err := reg.Invoke(context.Background(), "echo", Args{Query: "hello"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "echo", res.Tool)
	assert.Equal(t, KindInternal, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
	require.Len(t, res.Items, 1)
	assert.Equal(t, "hello", res.Items[0].Content)
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	_, err := reg.Invoke(context.Background(), "missing", Args{}, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	noop := func(ctx context.Context, args Args) ([]Item, error) { return nil, nil }

	assert.Error(t, reg.Register(&Tool{Name: "", Kind: KindInternal, Run: noop}))
	assert.Error(t, reg.Register(&Tool{Name: "x", Kind: "plugin", Run: noop}))
	require.NoError(t, reg.Register(&Tool{Name: "x", Kind: KindInternal, Run: noop}))
	assert.Error(t, reg.Register(&Tool{Name: "x", Kind: KindExternal, Run: noop}))
}

func TestRegistry_TransientFailureRetried(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	var calls atomic.Int32
	register(t, reg, "flaky", KindExternal, func(ctx context.Context, args Args) ([]Item, error) {
		if calls.Add(1) == 1 {
			return nil, TransientError("flaky", errors.New("503"))
		}
		return []Item{{Content: "ok"}}, nil
	})

	res, err := reg.Invoke(context.Background(), "flaky", Args{Query: "q"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistry_PermanentFailureNotRetried(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	var calls atomic.Int32
	register(t, reg, "strict", KindExternal, func(ctx context.Context, args Args) ([]Item, error) {
		calls.Add(1)
		return nil, errors.New("bad arguments")
	})

	_, err := reg.Invoke(context.Background(), "strict", Args{}, 0)
	assert.ErrorIs(t, err, types.ErrToolError)
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_TimeoutRetriedThenSurfaced(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	var calls atomic.Int32
	register(t, reg, "slow", KindInternal, func(ctx context.Context, args Args) ([]Item, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := reg.Invoke(context.Background(), "slow", Args{}, 10*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegistry_RateLimited(t *testing.T) {
	retry := fastRetry()
	retry.MaxAttempts = 1
	reg := NewRegistry(retry, time.Second)
	tool := register(t, reg, "limited", KindExternal, func(ctx context.Context, args Args) ([]Item, error) {
		return []Item{{Content: "ok"}}, nil
	})
	tool.WithRateLimit(0.001, 1)

	_, err := reg.Invoke(context.Background(), "limited", Args{}, 0)
	require.NoError(t, err)
	_, err = reg.Invoke(context.Background(), "limited", Args{}, 0)
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

func TestRegistry_CancellationReleasesWait(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Minute)
	started := make(chan struct{})
	register(t, reg, "blocking", KindInternal, func(ctx context.Context, args Args) ([]Item, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(ctx, "blocking", Args{}, 0)
		errCh <- err
	}()
	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, types.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("invoke did not return after cancellation")
	}
}

func TestRegistry_PanicIsToolError(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	register(t, reg, "boom", KindInternal, func(ctx context.Context, args Args) ([]Item, error) {
		panic("boom")
	})

	_, err := reg.Invoke(context.Background(), "boom", Args{}, 0)
	assert.ErrorIs(t, err, types.ErrToolError)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry(fastRetry(), time.Second)
	noop := func(ctx context.Context, args Args) ([]Item, error) { return nil, nil }
	register(t, reg, "web_search", KindExternal, noop)
	register(t, reg, "vector_search", KindInternal, noop)
	register(t, reg, "graph_query", KindInternal, noop)

	l := reg.List()
	require.Len(t, l.Internal, 2)
	assert.Equal(t, "graph_query", l.Internal[0].Name)
	assert.Equal(t, "vector_search", l.Internal[1].Name)
	require.Len(t, l.External, 1)
	assert.Equal(t, "web_search", l.External[0].Name)
	assert.True(t, reg.Has("web_search"))
}
