// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package confidence

import (
	"sync"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// Scorer tracks the distribution of routing confidence.
type Scorer struct {
	mu      sync.RWMutex
	total   int64
	sum     float64
	min     float64
	max     float64
	byLevel map[types.ConfidenceLevel]int64
	byFlow  map[types.Workflow]float64
	flowN   map[types.Workflow]int64
}

// Metrics summarizes observed confidence.
type Metrics struct {
	Total      int64                           `json:"total"`
	Average    float64                         `json:"average"`
	Min        float64                         `json:"min"`
	Max        float64                         `json:"max"`
	ByLevel    map[types.ConfidenceLevel]int64 `json:"by_level"`
	AvgByRoute map[types.Workflow]float64      `json:"average_by_workflow"`
}

func NewScorer() *Scorer {
	return &Scorer{
		byLevel: make(map[types.ConfidenceLevel]int64),
		byFlow:  make(map[types.Workflow]float64),
		flowN:   make(map[types.Workflow]int64),
	}
}

// Observe records one decision.
func (s *Scorer) Observe(w types.Workflow, score float64, level types.ConfidenceLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 || score < s.min {
		s.min = score
	}
	if s.total == 0 || score > s.max {
		s.max = score
	}
	s.total++
	s.sum += score
	s.byLevel[level]++
	s.byFlow[w] += score
	s.flowN[w]++
}

// Metrics returns a snapshot.
func (s *Scorer) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := Metrics{
		Total:      s.total,
		Min:        s.min,
		Max:        s.max,
		ByLevel:    make(map[types.ConfidenceLevel]int64, len(s.byLevel)),
		AvgByRoute: make(map[types.Workflow]float64, len(s.byFlow)),
	}
	if s.total > 0 {
		m.Average = s.sum / float64(s.total)
	}
	for k, n := range s.byLevel {
		m.ByLevel[k] = n
	}
	for w, sum := range s.byFlow {
		m.AvgByRoute[w] = sum / float64(s.flowN[w])
	}
	return m
}
