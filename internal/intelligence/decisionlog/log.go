// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decisionlog keeps the append-only record of routing decisions.
// Each record may receive its execution outcome exactly once and its user
// rating exactly once. The two arrive independently.
package decisionlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// OutcomeUpdate is attached to a record after execution.
type OutcomeUpdate struct {
	Outcome         types.Outcome
	Rating          *float64
	ExecutionTimeMs int64
	Metrics         map[string]float64
	RunSummary      *types.RunSummary
}

// Stats aggregates the log.
type Stats struct {
	Total                int64                    `json:"total"`
	WithOutcome          int64                    `json:"with_outcome"`
	FromCache            int64                    `json:"from_cache"`
	SuccessRate          float64                  `json:"success_rate"`
	AvgExecutionMs       float64                  `json:"avg_execution_ms"`
	Rated                int64                    `json:"rated"`
	AvgRating            float64                  `json:"avg_rating"`
	WorkflowDistribution map[types.Workflow]int64 `json:"workflow_distribution"`
}

// Log is the decision log contract.
type Log interface {
	Append(ctx context.Context, rec *types.DecisionRecord) error
	UpdateOutcome(ctx context.Context, id string, update OutcomeUpdate) (*types.DecisionRecord, error)
	UpdateRating(ctx context.Context, id string, rating float64) (*types.DecisionRecord, error)
	Get(ctx context.Context, id string) (*types.DecisionRecord, error)
	Recent(ctx context.Context, limit int) ([]*types.DecisionRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

func prepare(rec *types.DecisionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func validateUpdate(update OutcomeUpdate) error {
	if !update.Outcome.Valid() {
		return types.Validation("unknown outcome %q", update.Outcome)
	}
	if update.Rating != nil {
		return validateRating(*update.Rating)
	}
	return nil
}

func validateRating(rating float64) error {
	if rating < 1 || rating > 5 {
		return types.Validation("rating must be between 1 and 5")
	}
	return nil
}

// MemoryLog is a bounded in-process Log. The oldest records are dropped past maxRecords.
type MemoryLog struct {
	mu         sync.RWMutex
	records    map[string]*types.DecisionRecord
	order      []string
	maxRecords int
}

// NewMemoryLog creates a log keeping at most maxRecords (100000 when <= 0).
func NewMemoryLog(maxRecords int) *MemoryLog {
	if maxRecords <= 0 {
		maxRecords = 100000
	}
	return &MemoryLog{records: make(map[string]*types.DecisionRecord), maxRecords: maxRecords}
}

func (m *MemoryLog) Append(ctx context.Context, rec *types.DecisionRecord) error {
	prepare(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return types.Validation("decision %s already recorded", rec.ID)
	}
	c := *rec
	m.records[rec.ID] = &c
	m.order = append(m.order, rec.ID)
	for len(m.order) > m.maxRecords {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryLog) UpdateOutcome(ctx context.Context, id string, update OutcomeUpdate) (*types.DecisionRecord, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, types.NotFound("decision", id)
	}
	if rec.Outcome != "" {
		return nil, types.Validation("outcome for decision %s already recorded", id)
	}
	now := time.Now().UTC()
	rec.Outcome = update.Outcome
	if rec.Rating == nil {
		rec.Rating = update.Rating
	}
	rec.ExecutionTimeMs = update.ExecutionTimeMs
	rec.Metrics = update.Metrics
	rec.RunSummary = update.RunSummary
	rec.OutcomeUpdatedAt = &now
	c := *rec
	return &c, nil
}

// UpdateRating sets the rating if none has been recorded yet.
func (m *MemoryLog) UpdateRating(ctx context.Context, id string, rating float64) (*types.DecisionRecord, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, types.NotFound("decision", id)
	}
	if rec.Rating != nil {
		return nil, types.Validation("rating for decision %s already recorded", id)
	}
	rec.Rating = &rating
	c := *rec
	return &c, nil
}

func (m *MemoryLog) Get(ctx context.Context, id string) (*types.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, types.NotFound("decision", id)
	}
	c := *rec
	return &c, nil
}

// Recent returns records newest first.
func (m *MemoryLog) Recent(ctx context.Context, limit int) ([]*types.DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.DecisionRecord, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		c := *m.records[m.order[i]]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryLog) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{WorkflowDistribution: make(map[types.Workflow]int64)}
	var successes, execTotal int64
	var ratingTotal float64
	for _, rec := range m.records {
		st.Total++
		st.WorkflowDistribution[rec.Workflow]++
		if rec.FromCache {
			st.FromCache++
		}
		if rec.Rating != nil {
			st.Rated++
			ratingTotal += *rec.Rating
		}
		if rec.Outcome == "" {
			continue
		}
		st.WithOutcome++
		execTotal += rec.ExecutionTimeMs
		if rec.Outcome == types.OutcomeSuccess {
			successes++
		}
	}
	if st.WithOutcome > 0 {
		st.SuccessRate = float64(successes) / float64(st.WithOutcome)
		st.AvgExecutionMs = float64(execTotal) / float64(st.WithOutcome)
	}
	if st.Rated > 0 {
		st.AvgRating = ratingTotal / float64(st.Rated)
	}
	return st, nil
}

func (m *MemoryLog) Close() error { return nil }
