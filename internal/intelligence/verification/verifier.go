// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package verification tracks how often the model-backed classification agrees
// with the keyword heuristic it refines.
package verification

import (
	"sync"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// Verifier counts heuristic/model agreement per category.
type Verifier struct {
	mu        sync.RWMutex
	total     int64
	agreed    int64
	overrides map[types.Category]int64
}

// Metrics is a snapshot of the agreement counters.
type Metrics struct {
	Total         int64                    `json:"total"`
	Agreed        int64                    `json:"agreed"`
	Overridden    int64                    `json:"overridden"`
	AgreementRate float64                  `json:"agreement_rate"`
	Overrides     map[types.Category]int64 `json:"overrides_by_heuristic_category,omitempty"`
}

func NewVerifier() *Verifier {
	return &Verifier{overrides: make(map[types.Category]int64)}
}

// Verify records one comparison and reports whether both passes chose the same category.
func (v *Verifier) Verify(heuristic, model types.Category) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total++
	if heuristic == model {
		v.agreed++
		return true
	}
	v.overrides[heuristic]++
	return false
}

// Metrics returns a copy of the counters.
func (v *Verifier) Metrics() Metrics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m := Metrics{Total: v.total, Agreed: v.agreed, Overridden: v.total - v.agreed}
	if v.total > 0 {
		m.AgreementRate = float64(v.agreed) / float64(v.total)
	}
	if len(v.overrides) > 0 {
		m.Overrides = make(map[types.Category]int64, len(v.overrides))
		for k, n := range v.overrides {
			m.Overrides[k] = n
		}
	}
	return m
}
