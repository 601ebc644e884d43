// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tools implements the tool invocation layer: a registry of internal and
// external tools behind a single Invoke call with timeout, retry and rate limiting.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/resilience"
	"github.com/traylinx/switchAIRouter/internal/telemetry"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Kind tags a tool as running in-process or behind a network call.
type Kind string

const (
	KindInternal Kind = "internal"
	KindExternal Kind = "external"
)

// Args are the arguments passed to a tool.
type Args struct {
	Query   string            `json:"query"`
	TopK    int               `json:"top_k,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Item is one piece of evidence returned by a tool.
type Item struct {
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// Result is a successful invocation, tagged for provenance.
type Result struct {
	Tool     string        `json:"tool"`
	Kind     Kind          `json:"kind"`
	Items    []Item        `json:"items"`
	Elapsed  time.Duration `json:"elapsed"`
	Attempts int           `json:"attempts"`
}

// Func is the body of a tool.
type Func func(ctx context.Context, args Args) ([]Item, error)

// Tool is a registered tool.
type Tool struct {
	Name        string
	Description string
	Kind        Kind
	Run         Func

	// Timeout overrides the per-call timeout when positive.
	Timeout time.Duration

	limiter *rate.Limiter
}

// WithRateLimit attaches a token bucket of rps and burst. A non-positive rps disables limiting.
func (t *Tool) WithRateLimit(rps float64, burst int) *Tool {
	if rps <= 0 {
		t.limiter = nil
		return t
	}
	if burst <= 0 {
		burst = 1
	}
	t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return t
}

// Descriptor is the read-only view returned by List.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
}

// Listing groups descriptors by kind.
type Listing struct {
	Internal []Descriptor `json:"internal"`
	External []Descriptor `json:"external"`
}

// Registry holds the tool set. It is populated at startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	retry   resilience.RetryConfig
	timeout time.Duration
}

// NewRegistry creates an empty registry. defaultTimeout applies when Invoke gets none.
func NewRegistry(retry resilience.RetryConfig, defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Registry{tools: make(map[string]*Tool), retry: retry, timeout: defaultTimeout}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Run == nil {
		return fmt.Errorf("tool must have a name and a body")
	}
	if t.Kind != KindInternal && t.Kind != KindExternal {
		return fmt.Errorf("tool %s: unknown kind %q", t.Name, t.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns descriptors grouped by kind, sorted by name.
func (r *Registry) List() Listing {
	l := Listing{Internal: []Descriptor{}, External: []Descriptor{}}
	for _, name := range r.Names() {
		r.mu.RLock()
		t := r.tools[name]
		r.mu.RUnlock()
		d := Descriptor{Name: t.Name, Description: t.Description, Kind: t.Kind}
		if t.Kind == KindInternal {
			l.Internal = append(l.Internal, d)
		} else {
			l.External = append(l.External, d)
		}
	}
	return l
}

// Invoke calls the named tool. Each attempt gets its own timeout; transient failures
// (timeouts, rate limiting, tool errors marked transient) are retried with backoff,
// permanent failures return immediately. When the caller's context ends, Invoke
// returns a cancelled or timeout error without further attempts.
func (r *Registry) Invoke(ctx context.Context, name string, args Args, timeout time.Duration) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NotFound("tool", name)
	}
	if timeout <= 0 {
		timeout = t.Timeout
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	ctx, span := telemetry.Start(ctx, "tool.invoke",
		attribute.String("tool.name", name),
		attribute.String("tool.kind", string(t.Kind)))

	logger := logging.FromContext(ctx).WithField("tool", name)
	retry := r.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithError(err).Warnf("tool attempt %d failed, retrying in %s", attempt, delay)
	}

	start := time.Now()
	var items []Item
	attempts, err := resilience.Retry(ctx, retry, func(ctx context.Context, attempt int) error {
		var errAttempt error
		items, errAttempt = r.attempt(ctx, t, args, timeout)
		return errAttempt
	})
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("tool.attempts", attempts), attribute.Int("tool.items", len(items)))

	if ctxErr := types.FromContext(ctx, "tool "+name); ctxErr != nil {
		err = ctxErr
	}
	telemetry.End(span, err)
	if err != nil {
		logger.WithError(err).Debugf("tool failed after %d attempt(s) in %s", attempts, elapsed)
		return nil, err
	}
	return &Result{Tool: name, Kind: t.Kind, Items: items, Elapsed: elapsed, Attempts: attempts}, nil
}

func (r *Registry) attempt(ctx context.Context, t *Tool, args Args, timeout time.Duration) (items []Item, err error) {
	if t.limiter != nil && !t.limiter.Allow() {
		return nil, types.RateLimited("tool "+t.Name, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		items []Item
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("tool %s panicked: %v", t.Name, rec)
				done <- outcome{err: types.ToolError(t.Name, false, fmt.Errorf("panic: %v", rec))}
			}
		}()
		out, errRun := t.Run(callCtx, args)
		done <- outcome{items: out, err: errRun}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.items, nil
		}
		return nil, classify(ctx, t.Name, res.err)
	case <-callCtx.Done():
		// The parent context ending is not a tool timeout.
		if ctx.Err() != nil {
			return nil, types.FromContext(ctx, "tool "+t.Name)
		}
		return nil, types.Timeout("tool "+t.Name, callCtx.Err())
	}
}

// classify turns a tool body error into a typed error.
func classify(parent context.Context, name string, err error) error {
	if parent.Err() != nil {
		return types.FromContext(parent, "tool "+name)
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Timeout("tool "+name, err)
	}
	return types.ToolError(name, false, err)
}

// TransientError marks err as worth retrying.
func TransientError(name string, err error) error {
	return types.ToolError(name, true, err)
}

// PermanentError marks err as final.
func PermanentError(name string, err error) error {
	return types.ToolError(name, false, err)
}
