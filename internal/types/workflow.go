// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package types provides shared type definitions for the router, the cache,
// the decision log and the pipelines.
// This package exists to avoid import cycles between the intelligence subpackages.
package types

import (
	"fmt"
	"strings"
)

// Workflow identifies one of the answer-production strategies a query can be routed to.
type Workflow string

const (
	// WorkflowIterative is the multi-step retrieve/refine/verify pipeline with tool use.
	WorkflowIterative Workflow = "iterative-refinement"

	// WorkflowMultiAgent is the collaborative pipeline for multi-document analysis.
	WorkflowMultiAgent Workflow = "multi-agent"

	// WorkflowDirect is the single-pass retrieval pipeline.
	WorkflowDirect Workflow = "direct-retrieval"
)

// AllWorkflows lists workflows from cheapest to most expensive.
var AllWorkflows = []Workflow{WorkflowDirect, WorkflowMultiAgent, WorkflowIterative}

// Valid reports whether w is a known workflow.
func (w Workflow) Valid() bool {
	switch w {
	case WorkflowIterative, WorkflowMultiAgent, WorkflowDirect:
		return true
	}
	return false
}

// Cost returns the relative execution cost used for tie-breaking. Lower is cheaper.
func (w Workflow) Cost() int {
	switch w {
	case WorkflowDirect:
		return 0
	case WorkflowMultiAgent:
		return 1
	case WorkflowIterative:
		return 2
	}
	return 3
}

// ParseWorkflow accepts the canonical names plus the short aliases used by API clients.
func ParseWorkflow(s string) (Workflow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iterative-refinement", "iterative", "langgraph":
		return WorkflowIterative, nil
	case "multi-agent", "multiagent", "crewai":
		return WorkflowMultiAgent, nil
	case "direct-retrieval", "direct", "simple":
		return WorkflowDirect, nil
	}
	return "", fmt.Errorf("unknown workflow %q", s)
}

// ConfidenceLevel is the coarse bucket derived from a continuous confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// ConfidenceBounds holds the bucket boundaries. Scores >= High are high,
// scores >= Medium are medium, everything else is low.
type ConfidenceBounds struct {
	High   float64 `yaml:"high-confidence" json:"high"`
	Medium float64 `yaml:"medium-confidence" json:"medium"`
}

// DefaultConfidenceBounds returns the standard 0.8 / 0.5 split.
func DefaultConfidenceBounds() ConfidenceBounds {
	return ConfidenceBounds{High: 0.8, Medium: 0.5}
}

// LevelFor maps a score onto its bucket.
func (b ConfidenceBounds) LevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= b.High:
		return ConfidenceHigh
	case score >= b.Medium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ClampScore limits a score to [0,1].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
