// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache provides the semantic cache of routing decisions.
// Entries are looked up by cosine similarity of query embeddings; counters are
// updated with atomic increments so concurrent hits and outcomes never lose updates.
package cache

import (
	"context"
	"time"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// Match is a nearest-neighbour result.
type Match struct {
	Entry      *types.CacheEntry
	Similarity float64
}

// Stats summarises the store contents.
type Stats struct {
	Entries  int64 `json:"entries"`
	Active   int64 `json:"active"`
	Expired  int64 `json:"expired"`
	Inactive int64 `json:"inactive"`
	Hits     int64 `json:"hits"`
}

// Store is a vector-indexed store of routing decisions.
// Implementations report backend failures as types.CacheUnavailable.
type Store interface {
	// Upsert inserts entry or replaces the active entry with the same namespace
	// and query hash (last writer wins). Counters of a replaced entry are kept.
	// entry.ID is set on return.
	Upsert(ctx context.Context, entry *types.CacheEntry) error

	// Nearest returns up to k active, unexpired entries of namespace whose
	// similarity to vec is at least threshold. Results are ordered by similarity,
	// then by most recent use.
	Nearest(ctx context.Context, namespace string, vec []float32, k int, threshold float64) ([]Match, error)

	// FindByHash returns the active, unexpired entry with the exact query hash, or nil.
	FindByHash(ctx context.Context, namespace, hash string) (*types.CacheEntry, error)

	// Get returns an entry by id regardless of state, or types.NotFound.
	Get(ctx context.Context, id string) (*types.CacheEntry, error)

	// IncrementHit atomically bumps hit_count and sets last_used_at.
	IncrementHit(ctx context.Context, id string, at time.Time) error

	// Deactivate removes an entry from future lookups.
	Deactivate(ctx context.Context, id string) error

	// RecordOutcome atomically applies one outcome and optional rating and
	// returns the updated counters. An empty outcome records the rating alone.
	RecordOutcome(ctx context.Context, id string, outcome types.Outcome, rating *float64) (types.OutcomeStats, error)

	// Stats reports entry counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// applyOutcome mutates s for one outcome. Shared by the in-memory store and tests
// of the SQL backends so all implementations agree on counter semantics.
func applyOutcome(s *types.OutcomeStats, outcome types.Outcome, rating *float64) {
	switch outcome {
	case types.OutcomeSuccess:
		s.Successes++
		s.ConsecutiveFailures = 0
	case types.OutcomeFailure:
		s.Failures++
		s.ConsecutiveFailures++
	case types.OutcomePartial:
		s.Partials++
		s.ConsecutiveFailures = 0
	}
	if rating != nil {
		s.RatingCount++
		s.RatingSum += *rating
	}
}

// ApplyOutcome is the exported form of the shared counter semantics.
func ApplyOutcome(s *types.OutcomeStats, outcome types.Outcome, rating *float64) {
	applyOutcome(s, outcome, rating)
}
