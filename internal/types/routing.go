// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import "time"

// Outcome is the result of executing a routed query.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomePartial
}

// RoutingFactors is the structured explanation attached to a routing decision.
type RoutingFactors struct {
	// Reason is a short human-readable summary.
	Reason string `json:"reason"`

	// Features lists the classifier features that drove the decision.
	Features []string `json:"features,omitempty"`

	// Scores holds the per-workflow scores of a fresh decision.
	Scores map[Workflow]float64 `json:"scores,omitempty"`

	// Similarity is the cosine similarity of a cache hit.
	Similarity float64 `json:"similarity,omitempty"`

	// SimilarityTier is "exact", "high" or "medium" for cache hits.
	SimilarityTier string `json:"similarity_tier,omitempty"`

	// Rule names the override rule that pinned the workflow, if any.
	Rule string `json:"rule,omitempty"`

	// Degraded lists the degraded modes taken ("cache_bypass", "heuristic_only").
	Degraded []string `json:"degraded,omitempty"`
}

// OutcomeStats aggregates execution outcomes for one cache entry.
type OutcomeStats struct {
	Successes           int64   `json:"successes"`
	Failures            int64   `json:"failures"`
	Partials            int64   `json:"partials"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	RatingCount         int64   `json:"rating_count"`
	RatingSum           float64 `json:"rating_sum"`
}

// Total returns the number of recorded outcomes.
func (s OutcomeStats) Total() int64 { return s.Successes + s.Failures + s.Partials }

// FailureRate returns failures over total, or 0 with no samples.
func (s OutcomeStats) FailureRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(total)
}

// AverageRating returns the mean user rating, or 0 with no ratings.
func (s OutcomeStats) AverageRating() float64 {
	if s.RatingCount == 0 {
		return 0
	}
	return s.RatingSum / float64(s.RatingCount)
}

// CacheEntry is a persisted routing decision keyed by query meaning.
type CacheEntry struct {
	ID              string          `json:"id"`
	Namespace       string          `json:"namespace"`
	QueryHash       string          `json:"query_hash"`
	QueryText       string          `json:"query_text"`
	Embedding       []float32       `json:"-"`
	Workflow        Workflow        `json:"selected_workflow"`
	ConfidenceScore float64         `json:"confidence_score"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	Classification  Classification  `json:"classification"`
	Factors         RoutingFactors  `json:"routing_factors"`
	HitCount        int64           `json:"hit_count"`
	LastUsedAt      time.Time       `json:"last_used_at"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	IsActive        bool            `json:"is_active"`
	Stats           OutcomeStats    `json:"outcome_stats"`
}

// Usable reports whether the entry can serve lookups at now.
func (e *CacheEntry) Usable(now time.Time) bool {
	return e.IsActive && now.Before(e.ExpiresAt)
}

// DecisionRecord is an append-only routing log entry. Outcome and rating are
// attached once, after execution.
type DecisionRecord struct {
	ID               string             `json:"id"`
	CacheEntryID     string             `json:"cache_entry_id,omitempty"`
	QueryText        string             `json:"query_text"`
	QueryHash        string             `json:"query_hash"`
	Workflow         Workflow           `json:"workflow"`
	ConfidenceScore  float64            `json:"confidence_score"`
	ConfidenceLevel  ConfidenceLevel    `json:"confidence_level"`
	FromCache        bool               `json:"from_cache"`
	Factors          RoutingFactors     `json:"routing_factors"`
	Outcome          Outcome            `json:"outcome,omitempty"`
	Rating           *float64           `json:"rating,omitempty"`
	ExecutionTimeMs  int64              `json:"execution_time_ms"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	RunSummary       *RunSummary        `json:"run_summary,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	OutcomeUpdatedAt *time.Time         `json:"outcome_updated_at,omitempty"`
}

// RunSummary is the compact form of a finished workflow run kept on its decision record.
type RunSummary struct {
	Iterations   int      `json:"iterations"`
	Path         []string `json:"path"`
	ToolsUsed    []string `json:"tools_used"`
	EvidenceSize int      `json:"evidence_size"`
	Termination  string   `json:"termination"`
}

// Decision is what the router hands to the pipelines.
type Decision struct {
	// DecisionID references the appended DecisionRecord.
	DecisionID string `json:"decision_id"`

	// CacheEntryID references the cache entry that served or stored the decision.
	CacheEntryID string `json:"cache_entry_id,omitempty"`

	Workflow        Workflow        `json:"workflow"`
	Confidence      float64         `json:"confidence"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	CacheHit        bool            `json:"cache_hit"`
	Namespace       string          `json:"cache_namespace"`
	Classification  Classification  `json:"classification"`
	Factors         RoutingFactors  `json:"routing_factors"`
	QueryHash       string          `json:"query_hash"`
	LatencyMs       int64           `json:"latency_ms"`
}
