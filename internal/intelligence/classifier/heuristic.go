// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"sort"
	"strings"
	"time"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// Complexity weights of the heuristic pass.
const (
	weightLength        = 0.15
	weightQuestionWords = 0.20
	weightMultiDocument = 0.25
	weightExternalData  = 0.20
	weightEntity        = 0.10
	weightReasoning     = 0.10

	thresholdHigh   = 0.6
	thresholdMedium = 0.3
)

// featureOrder fixes the iteration order so DetectedFeatures is stable.
var featureOrder = []string{
	types.FeatureMultiDocument,
	types.FeatureExternalData,
	types.FeatureComplexReasoning,
	types.FeatureEntityExtraction,
	types.FeatureConversational,
	types.FeatureSimpleLookup,
}

// categoryScore is one candidate of the category vote.
type categoryScore struct {
	category types.Category
	score    float64
}

// Heuristic is the fast keyword pass. It is pure: the same query and context
// always produce the same classification.
type Heuristic struct {
	patterns        *PatternPack
	ambiguityMargin float64
}

// NewHeuristic returns a heuristic classifier over patterns.
func NewHeuristic(patterns *PatternPack, ambiguityMargin float64) *Heuristic {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &Heuristic{patterns: patterns, ambiguityMargin: ambiguityMargin}
}

// Classify runs the heuristic pass. hints may carry caller context: a
// "document_ids" list longer than one implies multiple documents and a true
// "require_external" flag implies external data.
func (h *Heuristic) Classify(query string, hints map[string]any) types.Classification {
	lower := " " + strings.ToLower(strings.Join(strings.Fields(query), " ")) + " "
	words := len(strings.Fields(query))

	features := h.detect(lower)
	if docs, ok := hints["document_ids"].([]any); ok && len(docs) > 1 {
		features = addFeature(features, types.FeatureMultiDocument)
	}
	if docs, ok := hints["document_ids"].([]string); ok && len(docs) > 1 {
		features = addFeature(features, types.FeatureMultiDocument)
	}
	if ext, ok := hints["require_external"].(bool); ok && ext {
		features = addFeature(features, types.FeatureExternalData)
	}
	features = orderFeatures(features)

	has := func(name string) bool { return containsString(features, name) }

	score := 0.0
	switch {
	case words > 50:
		score += weightLength
	case words > 20:
		score += weightLength * 0.5
	}
	for _, qw := range h.patterns.QuestionWords {
		if strings.Contains(lower, qw) {
			score += weightQuestionWords
			break
		}
	}
	if has(types.FeatureMultiDocument) {
		score += weightMultiDocument
	}
	if has(types.FeatureExternalData) {
		score += weightExternalData
	}
	if has(types.FeatureEntityExtraction) {
		score += weightEntity
	}
	if has(types.FeatureComplexReasoning) {
		score += weightReasoning
	}

	complexity := types.ComplexityLow
	switch {
	case score >= thresholdHigh:
		complexity = types.ComplexityHigh
	case score >= thresholdMedium:
		complexity = types.ComplexityMedium
	}

	ranked := rankCategories(has, words)
	top := ranked[0]
	ambiguous := false
	if len(ranked) > 1 && top.score-ranked[1].score < h.ambiguityMargin {
		ambiguous = true
	}
	if len(features) == 0 && words > 12 {
		// Long queries without any signal cannot be placed with confidence.
		ambiguous = true
	}

	return types.Classification{
		Complexity:              complexity,
		ComplexityScore:         roundScore(score),
		Category:                top.category,
		RequiresMultiDocument:   has(types.FeatureMultiDocument),
		RequiresExternalData:    has(types.FeatureExternalData),
		DetectedFeatures:        features,
		SuggestedTools:          append([]string(nil), h.patterns.CategoryTools[top.category]...),
		EstimatedProcessingTime: estimate(complexity, has(types.FeatureExternalData)),
		Ambiguous:               ambiguous,
		Source:                  "heuristic",
	}
}

func (h *Heuristic) detect(lower string) []string {
	var out []string
	for name, subs := range h.patterns.Features {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// rankCategories scores every category the features support, highest first.
// Equal scores keep the priority order below. Document lookup is always present.
func rankCategories(has func(string) bool, words int) []categoryScore {
	var ranked []categoryScore
	push := func(c types.Category, s float64) {
		i := len(ranked)
		for i > 0 && ranked[i-1].score < s {
			i--
		}
		ranked = append(ranked, categoryScore{})
		copy(ranked[i+1:], ranked[i:])
		ranked[i] = categoryScore{c, s}
	}
	if has(types.FeatureConversational) && words < 10 {
		push(types.CategoryConversational, 1.0)
	}
	if has(types.FeatureExternalData) {
		push(types.CategoryResearch, 0.9)
	}
	if has(types.FeatureMultiDocument) {
		push(types.CategoryDocumentAnalysis, 0.85)
	}
	if has(types.FeatureEntityExtraction) {
		push(types.CategoryEntityExtraction, 0.8)
	}
	if has(types.FeatureComplexReasoning) && words > 15 {
		push(types.CategoryMultiStep, 0.75)
	}
	lookup := 0.5
	if has(types.FeatureSimpleLookup) {
		lookup = 0.7
	}
	push(types.CategoryDocumentLookup, lookup)
	return ranked
}

func estimate(c types.Complexity, external bool) time.Duration {
	var d time.Duration
	switch c {
	case types.ComplexityHigh:
		d = 20 * time.Second
	case types.ComplexityMedium:
		d = 8 * time.Second
	default:
		d = 2 * time.Second
	}
	if external {
		d += 5 * time.Second
	}
	return d
}

func addFeature(features []string, name string) []string {
	if containsString(features, name) {
		return features
	}
	return append(features, name)
}

func orderFeatures(features []string) []string {
	out := make([]string, 0, len(features))
	for _, name := range featureOrder {
		if containsString(features, name) {
			out = append(out, name)
		}
	}
	var extra []string
	for _, name := range features {
		if !containsString(out, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func roundScore(s float64) float64 {
	return float64(int(s*1000+0.5)) / 1000
}
