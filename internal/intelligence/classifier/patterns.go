// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// PatternPack holds the keyword signals of the heuristic pass.
type PatternPack struct {
	// Features maps a feature name to substrings that trigger it. Matching is done
	// on the lowercased query padded with one space on each side.
	Features map[string][]string `yaml:"features"`

	// QuestionWords raise the complexity score when present.
	QuestionWords []string `yaml:"question-words"`

	// CategoryTools lists suggested tool names per category.
	CategoryTools map[types.Category][]string `yaml:"category-tools"`
}

// DefaultPatterns returns the built-in pattern pack.
func DefaultPatterns() *PatternPack {
	return &PatternPack{
		Features: map[string][]string{
			types.FeatureMultiDocument: {
				"compare", "multiple", "several", " all ", "across", "between",
				"documents", "files", "contracts", "policies", "analyze together",
			},
			types.FeatureExternalData: {
				"current", "recent", "latest", "today", "news", "regulation",
				"industry", "market", "trend", "outside", "external", " web",
			},
			types.FeatureComplexReasoning: {
				"why ", " how ", "explain", "analyze", "evaluate", "assess",
				"recommend", "suggest", "strategy", "impact", "implications",
			},
			types.FeatureEntityExtraction: {
				"extract", "find all", " list ", "identify", " names", " dates",
				"numbers", "entities", "metadata", "structured",
			},
			types.FeatureConversational: {
				"hello", " hi ", " hi,", " hi!", "thanks", "help me", "what can you",
				"tell me about yourself", "who are you",
			},
			types.FeatureSimpleLookup: {
				"what is", "show me", " find ", "where is", "when was",
				"how much", "policy on", "document about",
			},
		},
		QuestionWords: []string{"why", "how", "explain", "analyze", "compare"},
		CategoryTools: map[types.Category][]string{
			types.CategoryDocumentLookup:   {"vector_search"},
			types.CategoryDocumentAnalysis: {"vector_search", "graph_query"},
			types.CategoryResearch:         {"hybrid_search", "web_search"},
			types.CategoryConversational:   {},
			types.CategoryMultiStep:        {"hybrid_search", "graph_query", "web_search"},
			types.CategoryEntityExtraction: {"vector_search", "graph_query"},
		},
	}
}

// LoadPatterns reads a pattern pack from YAML. Sections absent from the file keep
// their built-in values.
func LoadPatterns(path string) (*PatternPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns file: %w", err)
	}
	var file PatternPack
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse patterns file: %w", err)
	}

	pack := DefaultPatterns()
	for name, subs := range file.Features {
		clean := make([]string, 0, len(subs))
		for _, s := range subs {
			if s = strings.ToLower(s); strings.TrimSpace(s) != "" {
				clean = append(clean, s)
			}
		}
		pack.Features[name] = clean
	}
	if len(file.QuestionWords) > 0 {
		pack.QuestionWords = file.QuestionWords
	}
	for cat, tools := range file.CategoryTools {
		pack.CategoryTools[cat] = tools
	}
	return pack, nil
}
