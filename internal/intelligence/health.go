// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intelligence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Health states.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// Backend states.
const (
	BackendUp       = "up"
	BackendDown     = "down"
	BackendDisabled = "disabled"
)

const healthProbeTimeout = 2 * time.Second

// queueProber is implemented by networked feedback queues.
type queueProber interface {
	Len(ctx context.Context) (int64, error)
}

// BackendStatus is the probe result of one collaborator.
type BackendStatus struct {
	Status    string `json:"status"`
	Backend   string `json:"backend,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Health is the overall service state. Any collaborator down degrades the
// service; routing keeps working on its fallbacks.
type Health struct {
	Status    string                   `json:"status"`
	Backends  map[string]BackendStatus `json:"backend_statuses"`
	Timestamp time.Time                `json:"timestamp"`
}

// Health probes every backend concurrently.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: HealthUnavailable, Backends: map[string]BackendStatus{}, Timestamp: s.now().UTC()}
	if !s.IsEnabled() {
		return h
	}
	s.mu.RLock()
	comp, r := s.comp, s.router
	s.mu.RUnlock()

	var mu sync.Mutex
	set := func(name string, st BackendStatus) {
		mu.Lock()
		h.Backends[name] = st
		mu.Unlock()
	}
	probe := func(name, backend string, fn func(context.Context) error) func() error {
		return func() error {
			pctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			defer cancel()
			start := time.Now()
			st := BackendStatus{Status: BackendUp, Backend: backend}
			if err := fn(pctx); err != nil {
				st.Status, st.Error = BackendDown, err.Error()
			}
			st.LatencyMs = time.Since(start).Milliseconds()
			set(name, st)
			return nil
		}
	}

	var g errgroup.Group
	if comp.Store != nil {
		g.Go(probe("cache", comp.CacheBackend, r.Ping))
	} else {
		set("cache", BackendStatus{Status: BackendDisabled})
	}
	if comp.Embedder != nil {
		g.Go(probe("embedding", comp.Embedder.Name(), func(ctx context.Context) error {
			_, err := comp.Embedder.Embed(ctx, "health check")
			return err
		}))
	} else {
		set("embedding", BackendStatus{Status: BackendDisabled})
	}
	g.Go(probe("decision_log", comp.LogBackend, func(ctx context.Context) error {
		_, err := comp.Decisions.Stats(ctx)
		return err
	}))
	if pinger, ok := comp.Queue.(queueProber); ok {
		g.Go(probe("feedback_queue", comp.QueueBackend, func(ctx context.Context) error {
			_, err := pinger.Len(ctx)
			return err
		}))
	} else {
		set("feedback_queue", BackendStatus{Status: BackendUp, Backend: comp.QueueBackend})
	}
	_ = g.Wait()

	if comp.Generator != nil {
		set("llm", BackendStatus{Status: BackendUp, Backend: comp.Generator.Name()})
	} else {
		set("llm", BackendStatus{Status: BackendDisabled})
	}
	listing := comp.Tools.List()
	set("tools", BackendStatus{Status: BackendUp, Backend: toolCount(len(listing.Internal), len(listing.External))})

	h.Status = HealthOK
	for _, st := range h.Backends {
		if st.Status == BackendDown {
			h.Status = HealthDegraded
			break
		}
	}
	return h
}

func toolCount(internal, external int) string {
	return fmt.Sprintf("%d internal, %d external", internal, external)
}
