// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/confidence"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/intelligence/verification"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/types"
)

type counters struct {
	requests        atomic.Int64
	hits            atomic.Int64
	exactHits       atomic.Int64
	misses          atomic.Int64
	fresh           atomic.Int64
	shared          atomic.Int64
	forced          atomic.Int64
	ruleMatches     atomic.Int64
	negativeSkips   atomic.Int64
	cacheErrors     atomic.Int64
	embeddingErrors atomic.Int64
}

// Stats is a point-in-time view of router activity.
type Stats struct {
	Requests        int64   `json:"requests"`
	Hits            int64   `json:"cache_hits"`
	ExactHits       int64   `json:"exact_hits"`
	Misses          int64   `json:"cache_misses"`
	HitRate         float64 `json:"hit_rate"`
	FreshDecisions  int64   `json:"fresh_decisions"`
	SharedDecisions int64   `json:"shared_decisions"`
	Forced          int64   `json:"forced"`
	RuleMatches     int64   `json:"rule_matches"`
	NegativeSkips   int64   `json:"negative_skips"`
	CacheErrors     int64   `json:"cache_errors"`
	EmbeddingErrors int64   `json:"embedding_errors"`

	Confidence confidence.Metrics   `json:"confidence"`
	Classifier verification.Metrics `json:"classifier_agreement"`
	Cache      *cache.Stats         `json:"cache,omitempty"`
	Decisions  *decisionlog.Stats   `json:"decisions,omitempty"`
}

// Stats collects counters plus backend aggregates. Backend failures leave the
// corresponding section empty.
func (r *Router) Stats(ctx context.Context) Stats {
	s := Stats{
		Requests:        r.stats.requests.Load(),
		Hits:            r.stats.hits.Load(),
		ExactHits:       r.stats.exactHits.Load(),
		Misses:          r.stats.misses.Load(),
		FreshDecisions:  r.stats.fresh.Load(),
		SharedDecisions: r.stats.shared.Load(),
		Forced:          r.stats.forced.Load(),
		RuleMatches:     r.stats.ruleMatches.Load(),
		NegativeSkips:   r.stats.negativeSkips.Load(),
		CacheErrors:     r.stats.cacheErrors.Load(),
		EmbeddingErrors: r.stats.embeddingErrors.Load(),
		Confidence:      r.confidence.Metrics(),
		Classifier:      r.classifier.Agreement(),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	if r.store != nil {
		if cs, err := r.store.Stats(ctx); err == nil {
			s.Cache = &cs
		} else {
			logging.FromContext(ctx).WithError(err).Warn("cache stats unavailable")
		}
	}
	if ds, err := r.decisions.Stats(ctx); err == nil {
		s.Decisions = &ds
	}
	return s
}

// Ping reports cache backend reachability. A router without a cache is healthy.
func (r *Router) Ping(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

// MaxBatch bounds RouteBatch.
const MaxBatch = 50

// BatchItem is one result of RouteBatch.
type BatchItem struct {
	Decision *types.Decision `json:"decision,omitempty"`
	Error    *types.Error    `json:"error,omitempty"`
}

// RouteBatch routes up to MaxBatch queries concurrently. Results keep input order
// and per-query failures are reported inline.
func (r *Router) RouteBatch(ctx context.Context, reqs []Request) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, types.Validation("batch must not be empty")
	}
	if len(reqs) > MaxBatch {
		return nil, types.Validation("batch of %d exceeds the limit of %d", len(reqs), MaxBatch)
	}
	out := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range reqs {
		i := i
		g.Go(func() error {
			d, err := r.Route(gctx, reqs[i])
			if err != nil {
				if ctxErr := types.FromContext(gctx, "router"); ctxErr != nil {
					return ctxErr
				}
				out[i].Error = asTyped(err)
				return nil
			}
			out[i].Decision = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func asTyped(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	return types.NewError(types.CodeOf(err), err, "%s", err.Error())
}
