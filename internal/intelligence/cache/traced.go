// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/traylinx/switchAIRouter/internal/telemetry"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// TracedStore wraps a Store with spans for lookups and writes.
type TracedStore struct {
	Store
	backend string
}

// WithTracing wraps s. backend labels the spans ("memory", "postgres").
func WithTracing(s Store, backend string) *TracedStore {
	return &TracedStore{Store: s, backend: backend}
}

func (t *TracedStore) Upsert(ctx context.Context, entry *types.CacheEntry) (err error) {
	ctx, span := telemetry.Start(ctx, "cache.upsert",
		attribute.String("cache.backend", t.backend),
		attribute.String("cache.namespace", entry.Namespace))
	defer func() { telemetry.End(span, err) }()
	return t.Store.Upsert(ctx, entry)
}

func (t *TracedStore) Nearest(ctx context.Context, namespace string, vec []float32, k int, threshold float64) (matches []Match, err error) {
	ctx, span := telemetry.Start(ctx, "cache.nearest",
		attribute.String("cache.backend", t.backend),
		attribute.String("cache.namespace", namespace),
		attribute.Int("cache.k", k))
	defer func() {
		span.SetAttributes(attribute.Int("cache.matches", len(matches)))
		telemetry.End(span, err)
	}()
	return t.Store.Nearest(ctx, namespace, vec, k, threshold)
}

func (t *TracedStore) FindByHash(ctx context.Context, namespace, hash string) (entry *types.CacheEntry, err error) {
	ctx, span := telemetry.Start(ctx, "cache.find_by_hash", attribute.String("cache.backend", t.backend))
	defer func() {
		span.SetAttributes(attribute.Bool("cache.hit", entry != nil))
		telemetry.End(span, err)
	}()
	return t.Store.FindByHash(ctx, namespace, hash)
}

func (t *TracedStore) IncrementHit(ctx context.Context, id string, at time.Time) (err error) {
	ctx, span := telemetry.Start(ctx, "cache.increment_hit", attribute.String("cache.entry_id", id))
	defer func() { telemetry.End(span, err) }()
	return t.Store.IncrementHit(ctx, id, at)
}

func (t *TracedStore) RecordOutcome(ctx context.Context, id string, outcome types.Outcome, rating *float64) (stats types.OutcomeStats, err error) {
	ctx, span := telemetry.Start(ctx, "cache.record_outcome",
		attribute.String("cache.entry_id", id),
		attribute.String("outcome", string(outcome)))
	defer func() { telemetry.End(span, err) }()
	return t.Store.RecordOutcome(ctx, id, outcome, rating)
}
