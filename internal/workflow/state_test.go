// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitions(t *testing.T) {
	require.NoError(t, CheckTransitions(10))
}

func TestReachableStates(t *testing.T) {
	all := []State{StateAnalyze, StateFailure, StateRefine, StateRetrieve, StateSuccess, StateSynthesize, StateVerify}
	assert.Equal(t, all, ReachableStates(1))
	assert.Equal(t, all, ReachableStates(5))
}

func TestNext_Table(t *testing.T) {
	tests := []struct {
		name string
		from State
		f    Facts
		want State
	}{
		{"analyze", StateAnalyze, Facts{Budget: 3}, StateRetrieve},
		{"analyze failed", StateAnalyze, Facts{Failed: true, Budget: 3}, StateFailure},
		{"retrieve", StateRetrieve, Facts{Budget: 2}, StateRefine},
		{"refine loops", StateRefine, Facts{Budget: 1}, StateRetrieve},
		{"refine exhausted", StateRefine, Facts{Budget: 0}, StateVerify},
		{"refine sufficient", StateRefine, Facts{Sufficient: true, Budget: 2}, StateVerify},
		{"verify returns", StateVerify, Facts{Budget: 1}, StateRefine},
		{"verify returns once", StateVerify, Facts{Budget: 1, VerifyReturned: true}, StateSynthesize},
		{"verify forced", StateVerify, Facts{Budget: 0}, StateSynthesize},
		{"synthesize", StateSynthesize, Facts{}, StateSuccess},
		{"terminal stays", StateSuccess, Facts{Failed: true}, StateSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Next(tt.from, tt.f)
			assert.Equal(t, tt.want, got)
			if !tt.from.Terminal() {
				assert.True(t, Allowed(tt.from, got))
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	c := Advance(Control{Node: StateAnalyze, Budget: 2}, StateRetrieve)
	assert.Equal(t, 1, c.Budget)
	c = Advance(Control{Node: StateVerify, Budget: 1}, StateRefine)
	assert.True(t, c.VerifyReturned)
	assert.Equal(t, 1, c.Budget)
}

// Any sequence of node observations terminates within a bounded number of steps and
// never enters RETRIEVE more often than the budget allows.
func TestProperty_RunsAreBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bounded", prop.ForAll(
		func(max int, sufficient []bool, failAt int) bool {
			c := Control{Node: StateAnalyze, Budget: max}
			retrieves := 0
			limit := 4*max + 8
			for step := 0; !c.Node.Terminal(); step++ {
				if step > limit {
					return false
				}
				f := Facts{
					Failed:         step == failAt,
					Sufficient:     len(sufficient) > 0 && sufficient[step%len(sufficient)],
					Budget:         c.Budget,
					VerifyReturned: c.VerifyReturned,
				}
				next := Next(c.Node, f)
				if !Allowed(c.Node, next) {
					return false
				}
				c = Advance(c, next)
				if c.Node == StateRetrieve {
					retrieves++
				}
				if c.Budget < 0 {
					return false
				}
			}
			return retrieves <= max
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.Bool()),
		gen.IntRange(-1, 20),
	))
	properties.TestingRun(t)
}
