// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Fresh is a decision computed from a classification alone.
type Fresh struct {
	Workflow   types.Workflow
	Confidence float64
	Factors    types.RoutingFactors
}

// categoryPrior is the base score each category lends to the workflows.
var categoryPrior = map[types.Category]map[types.Workflow]float64{
	types.CategoryDocumentLookup:   {types.WorkflowDirect: 0.85},
	types.CategoryConversational:   {types.WorkflowDirect: 0.9},
	types.CategoryEntityExtraction: {types.WorkflowDirect: 0.7, types.WorkflowMultiAgent: 0.6},
	types.CategoryDocumentAnalysis: {types.WorkflowMultiAgent: 0.85, types.WorkflowIterative: 0.6},
	types.CategoryResearch:         {types.WorkflowIterative: 0.9},
	types.CategoryMultiStep:        {types.WorkflowIterative: 0.85},
}

// Scores rates every workflow for c. Values are in [0,1].
func Scores(c types.Classification) map[types.Workflow]float64 {
	s := map[types.Workflow]float64{
		types.WorkflowDirect:     0.3,
		types.WorkflowMultiAgent: 0,
		types.WorkflowIterative:  0,
	}
	for wf, v := range categoryPrior[c.Category] {
		if v > s[wf] {
			s[wf] = v
		}
	}
	if c.HasFeature(types.FeatureSimpleLookup) {
		s[types.WorkflowDirect] += 0.1
	}
	if c.Complexity == types.ComplexityLow {
		s[types.WorkflowDirect] += 0.05
	}
	if c.RequiresMultiDocument {
		s[types.WorkflowMultiAgent] = maxf(s[types.WorkflowMultiAgent], 0.75)
	}
	if c.RequiresExternalData {
		s[types.WorkflowIterative] = maxf(s[types.WorkflowIterative], 0.85)
	}
	if c.HasFeature(types.FeatureComplexReasoning) {
		s[types.WorkflowIterative] = maxf(s[types.WorkflowIterative], 0.75)
	}
	if c.Complexity == types.ComplexityHigh {
		s[types.WorkflowIterative] = maxf(s[types.WorkflowIterative], 0.8)
	}
	for wf, v := range s {
		s[wf] = types.ClampScore(v)
	}
	return s
}

// Decide applies the routing table to c:
//   - ambiguous, high-complexity or external-data queries run iteratively
//   - multi-document analysis runs multi-agent
//   - otherwise the best score wins, the cheaper workflow on a tie
func Decide(c types.Classification) Fresh {
	scores := Scores(c)
	best := bestOf(scores)

	var (
		wf     types.Workflow
		reason string
	)
	switch {
	case c.Ambiguous:
		wf, reason = types.WorkflowIterative, "ambiguous classification"
	case c.Complexity == types.ComplexityHigh:
		wf, reason = types.WorkflowIterative, "high complexity"
	case c.RequiresExternalData:
		wf, reason = types.WorkflowIterative, "external data needed"
	case c.RequiresMultiDocument && c.Category == types.CategoryDocumentAnalysis:
		wf, reason = types.WorkflowMultiAgent, "multi-document analysis"
	default:
		wf, reason = best, "highest score"
	}

	conf := scores[wf]
	if wf != best && scores[best] > conf {
		// An override toward a costlier workflow inherits the leader's score.
		conf = scores[best]
	}
	if runnerUp(scores, wf) >= conf-0.05 {
		conf -= 0.1
	}
	if c.Ambiguous {
		conf -= 0.15
	}
	return Fresh{
		Workflow:   wf,
		Confidence: types.ClampScore(conf),
		Factors: types.RoutingFactors{
			Reason:   reason,
			Features: append([]string(nil), c.DetectedFeatures...),
			Scores:   scores,
		},
	}
}

// bestOf returns the top-scoring workflow. AllWorkflows runs cheapest first, so a
// strict comparison keeps the cheaper one on a tie.
func bestOf(scores map[types.Workflow]float64) types.Workflow {
	best := types.AllWorkflows[0]
	for _, wf := range types.AllWorkflows[1:] {
		if scores[wf] > scores[best] {
			best = wf
		}
	}
	return best
}

func runnerUp(scores map[types.Workflow]float64, winner types.Workflow) float64 {
	r := 0.0
	for wf, v := range scores {
		if wf != winner && v > r {
			r = v
		}
	}
	return r
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
