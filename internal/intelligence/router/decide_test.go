// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/traylinx/switchAIRouter/internal/types"
)

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name string
		c    types.Classification
		want types.Workflow
	}{
		{
			name: "simple lookup",
			c: types.Classification{Complexity: types.ComplexityLow, Category: types.CategoryDocumentLookup,
				DetectedFeatures: []string{types.FeatureSimpleLookup}},
			want: types.WorkflowDirect,
		},
		{
			name: "research",
			c:    types.Classification{Complexity: types.ComplexityMedium, Category: types.CategoryResearch, RequiresExternalData: true},
			want: types.WorkflowIterative,
		},
		{
			name: "multi-document analysis",
			c: types.Classification{Complexity: types.ComplexityMedium, Category: types.CategoryDocumentAnalysis,
				RequiresMultiDocument: true},
			want: types.WorkflowMultiAgent,
		},
		{
			name: "high complexity",
			c:    types.Classification{Complexity: types.ComplexityHigh, Category: types.CategoryDocumentAnalysis, RequiresMultiDocument: true},
			want: types.WorkflowIterative,
		},
		{
			name: "ambiguous",
			c:    types.Classification{Complexity: types.ComplexityLow, Category: types.CategoryDocumentLookup, Ambiguous: true},
			want: types.WorkflowIterative,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.c).Workflow)
		})
	}
}

func TestDecide_TieGoesToDirect(t *testing.T) {
	scores := map[types.Workflow]float64{
		types.WorkflowDirect: 0.7, types.WorkflowMultiAgent: 0.7, types.WorkflowIterative: 0.7,
	}
	assert.Equal(t, types.WorkflowDirect, bestOf(scores))

	// Entity extraction leans toward the cheaper pipeline.
	d := Decide(types.Classification{Category: types.CategoryEntityExtraction, Complexity: types.ComplexityMedium})
	assert.Equal(t, types.WorkflowDirect, d.Workflow)
}

func TestDecide_AmbiguityLowersConfidence(t *testing.T) {
	base := types.Classification{Complexity: types.ComplexityHigh, Category: types.CategoryResearch, RequiresExternalData: true}
	amb := base
	amb.Ambiguous = true
	assert.Greater(t, Decide(base).Confidence, Decide(amb).Confidence)
}

func TestProperty_DecideBoundedAndDeterministic(t *testing.T) {
	categories := []types.Category{
		types.CategoryDocumentLookup, types.CategoryDocumentAnalysis, types.CategoryResearch,
		types.CategoryConversational, types.CategoryMultiStep, types.CategoryEntityExtraction,
	}
	complexities := []types.Complexity{types.ComplexityLow, types.ComplexityMedium, types.ComplexityHigh}
	bounds := types.DefaultConfidenceBounds()

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("bounded", prop.ForAll(
		func(ci, xi int, multi, external, ambiguous bool) bool {
			c := types.Classification{
				Category:              categories[ci],
				Complexity:            complexities[xi],
				RequiresMultiDocument: multi,
				RequiresExternalData:  external,
				Ambiguous:             ambiguous,
			}
			a, b := Decide(c), Decide(c)
			if a.Workflow != b.Workflow || a.Confidence != b.Confidence {
				return false
			}
			if !a.Workflow.Valid() || a.Confidence < 0 || a.Confidence > 1 {
				return false
			}
			if (external || ambiguous || c.Complexity == types.ComplexityHigh) && a.Workflow != types.WorkflowIterative {
				return false
			}
			return bounds.LevelFor(a.Confidence) != ""
		},
		gen.IntRange(0, len(categories)-1),
		gen.IntRange(0, len(complexities)-1),
		gen.Bool(), gen.Bool(), gen.Bool(),
	))
	properties.TestingRun(t)
}
