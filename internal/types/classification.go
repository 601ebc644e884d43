// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import "time"

// Complexity is the coarse effort estimate of a query.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Category is the task family a query belongs to.
type Category string

const (
	CategoryDocumentLookup   Category = "document_lookup"
	CategoryDocumentAnalysis Category = "document_analysis"
	CategoryResearch         Category = "research"
	CategoryConversational   Category = "conversational"
	CategoryMultiStep        Category = "multi_step"
	CategoryEntityExtraction Category = "entity_extraction"
)

// Feature names detected by the classifier.
const (
	FeatureMultiDocument    = "multi_document"
	FeatureExternalData     = "external_data_needed"
	FeatureComplexReasoning = "complex_reasoning"
	FeatureEntityExtraction = "entity_extraction"
	FeatureConversational   = "conversational"
	FeatureSimpleLookup     = "simple_lookup"
)

// Classification is the classifier's view of a single query.
type Classification struct {
	// Complexity is the bucketed effort estimate.
	Complexity Complexity `json:"complexity"`

	// ComplexityScore is the weighted score the bucket was derived from.
	ComplexityScore float64 `json:"complexity_score"`

	// Category is the detected task family.
	Category Category `json:"category"`

	// RequiresMultiDocument is set when the query spans several sources.
	RequiresMultiDocument bool `json:"requires_multi_document"`

	// RequiresExternalData is set when the answer needs data outside the corpus.
	RequiresExternalData bool `json:"requires_external_data"`

	// DetectedFeatures lists the feature names that matched.
	DetectedFeatures []string `json:"detected_features"`

	// SuggestedTools lists tool names that fit the category.
	SuggestedTools []string `json:"suggested_tools,omitempty"`

	// EstimatedProcessingTime is a rough wall-clock estimate for the chosen pipeline.
	EstimatedProcessingTime time.Duration `json:"estimated_processing_time"`

	// Ambiguous is set when the heuristic pass could not separate categories.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Source records which pass produced the result ("heuristic", "llm", "fallback").
	Source string `json:"source"`
}

// HasFeature reports whether name was detected.
func (c Classification) HasFeature(name string) bool {
	for _, f := range c.DetectedFeatures {
		if f == name {
			return true
		}
	}
	return false
}

// ConservativeClassification is returned when classification fails outright:
// medium complexity routed through the full pipeline.
func ConservativeClassification() Classification {
	return Classification{
		Complexity:              ComplexityMedium,
		ComplexityScore:         0.45,
		Category:                CategoryMultiStep,
		RequiresMultiDocument:   false,
		RequiresExternalData:    false,
		DetectedFeatures:        []string{},
		EstimatedProcessingTime: 20 * time.Second,
		Source:                  "fallback",
	}
}
