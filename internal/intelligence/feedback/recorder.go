// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package feedback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Stats counts what the consumer has applied.
type Stats struct {
	Published   int64 `json:"published"`
	Applied     int64 `json:"applied"`
	Failed      int64 `json:"failed"`
	Deactivated int64 `json:"deactivated"`
	LateRatings int64 `json:"late_ratings"`
}

// Recorder publishes outcomes on the request path and applies them on the consumer
// side. A decision record takes its outcome once and its rating once. A rating sent
// without an outcome is written to the record and the cache entry's rating counters.
type Recorder struct {
	decisions decisionlog.Log
	store     cache.Store
	queue     Queue
	cfg       config.FeedbackConfig
	now       func() time.Time

	published   atomic.Int64
	applied     atomic.Int64
	failed      atomic.Int64
	deactivated atomic.Int64
	lateRatings atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder wires the recorder. store may be nil when the cache is disabled.
func NewRecorder(decisions decisionlog.Log, store cache.Store, queue Queue, cfg config.FeedbackConfig) *Recorder {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.6
	}
	return &Recorder{decisions: decisions, store: store, queue: queue, cfg: cfg, now: time.Now}
}

// Record validates ev and hands it to the queue.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	if err := r.queue.Publish(ctx, ev); err != nil {
		return err
	}
	r.published.Add(1)
	return nil
}

// Start runs the consumer until Stop or ctx ends.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		err := r.queue.Consume(ctx, func(ctx context.Context, ev Event) {
			applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := r.Apply(applyCtx, ev); err != nil {
				log.WithError(err).Warnf("failed to apply feedback for decision %s", ev.DecisionID)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("feedback consumer stopped")
		}
	}()
	log.Info("feedback consumer started")
}

// Stop halts the consumer and waits for it to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Apply updates the decision log and the cache entry for one event.
func (r *Recorder) Apply(ctx context.Context, ev Event) error {
	if err := r.apply(ctx, ev); err != nil {
		r.failed.Add(1)
		return err
	}
	r.applied.Add(1)
	return nil
}

func (r *Recorder) apply(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	entryID := ev.CacheEntryID
	cacheOutcome := ev.Outcome

	switch {
	case ev.DecisionID != "" && ev.Outcome == "":
		rec, err := r.decisions.UpdateRating(ctx, ev.DecisionID, *ev.Rating)
		if err != nil {
			return err
		}
		r.lateRatings.Add(1)
		if entryID == "" {
			entryID = rec.CacheEntryID
		}
	case ev.DecisionID != "":
		rec, err := r.decisions.UpdateOutcome(ctx, ev.DecisionID, decisionlog.OutcomeUpdate{
			Outcome:         ev.Outcome,
			Rating:          ev.Rating,
			ExecutionTimeMs: ev.ExecutionTimeMs,
			Metrics:         ev.Metrics,
			RunSummary:      ev.RunSummary,
		})
		if err != nil {
			return err
		}
		if entryID == "" {
			entryID = rec.CacheEntryID
		}
	}

	if entryID == "" || r.store == nil {
		return nil
	}
	stats, err := r.store.RecordOutcome(ctx, entryID, cacheOutcome, ev.Rating)
	if err != nil {
		if types.CodeOf(err) == types.CodeNotFound {
			return nil
		}
		return err
	}
	if reason := r.shouldDeactivate(stats); reason != "" {
		if err := r.store.Deactivate(ctx, entryID); err != nil && types.CodeOf(err) != types.CodeNotFound {
			return err
		}
		r.deactivated.Add(1)
		log.Infof("deactivated cache entry %s: %s", entryID, reason)
	}
	return nil
}

func (r *Recorder) shouldDeactivate(s types.OutcomeStats) string {
	if s.ConsecutiveFailures >= r.cfg.ConsecutiveFailures {
		return "consecutive failures"
	}
	if s.Total() >= r.cfg.MinSamples && s.FailureRate() > r.cfg.FailureRateThreshold {
		return "failure rate over threshold"
	}
	return ""
}

// Stats returns consumer counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Published:   r.published.Load(),
		Applied:     r.applied.Load(),
		Failed:      r.failed.Load(),
		Deactivated: r.deactivated.Load(),
		LateRatings: r.lateRatings.Load(),
	}
}
