// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/traylinx/switchAIRouter/internal/types"
)

func TestScorer(t *testing.T) {
	s := NewScorer()
	m := s.Metrics()
	assert.Zero(t, m.Total)
	assert.Zero(t, m.Average)

	s.Observe(types.WorkflowDirect, 0.9, types.ConfidenceHigh)
	s.Observe(types.WorkflowDirect, 0.7, types.ConfidenceMedium)
	s.Observe(types.WorkflowIterative, 0.2, types.ConfidenceLow)

	m = s.Metrics()
	assert.Equal(t, int64(3), m.Total)
	assert.InDelta(t, 0.6, m.Average, 1e-9)
	assert.Equal(t, 0.2, m.Min)
	assert.Equal(t, 0.9, m.Max)
	assert.Equal(t, int64(1), m.ByLevel[types.ConfidenceHigh])
	assert.Equal(t, int64(1), m.ByLevel[types.ConfidenceLow])
	assert.InDelta(t, 0.8, m.AvgByRoute[types.WorkflowDirect], 1e-9)
	assert.InDelta(t, 0.2, m.AvgByRoute[types.WorkflowIterative], 1e-9)
}
