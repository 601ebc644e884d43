// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package classifier extracts complexity, category and feature signals from a query.
// A keyword heuristic runs first; a language model is consulted only when the
// heuristic cannot separate the leading categories. Classification never fails:
// on any error the conservative medium-complexity classification is returned.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/verification"
	"github.com/traylinx/switchAIRouter/internal/llm"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// maxMemo bounds the memo of model-backed classifications.
const maxMemo = 4096

// Classifier combines the heuristic pass with an optional model-backed pass.
type Classifier struct {
	heuristic *Heuristic
	gen       llm.Generator
	useLLM    bool
	timeout   time.Duration
	verifier  *verification.Verifier

	// memo keeps model-backed results per normalized query so repeated queries
	// classify identically even though the model is not deterministic.
	mu   sync.Mutex
	memo map[string]types.Classification
}

// New builds a classifier from cfg. gen may be nil, which disables the deep pass.
func New(cfg config.ClassifierConfig, gen llm.Generator) (*Classifier, error) {
	patterns := DefaultPatterns()
	if cfg.PatternsFile != "" {
		loaded, err := LoadPatterns(cfg.PatternsFile)
		if err != nil {
			return nil, err
		}
		patterns = loaded
		log.Infof("classifier patterns loaded from %s", cfg.PatternsFile)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Classifier{
		heuristic: NewHeuristic(patterns, cfg.AmbiguityMargin),
		gen:       gen,
		useLLM:    cfg.LLMEnabled && gen != nil,
		timeout:   timeout,
		verifier:  verification.NewVerifier(),
		memo:      make(map[string]types.Classification),
	}, nil
}

// Classify returns the classification of query. It never returns an error.
func (c *Classifier) Classify(ctx context.Context, query string, hints map[string]any) (result types.Classification) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("classifier panic recovered: %v", r)
			result = types.ConservativeClassification()
		}
	}()

	if strings.TrimSpace(query) == "" {
		return types.ConservativeClassification()
	}
	result = c.heuristic.Classify(query, hints)
	if !result.Ambiguous || !c.useLLM {
		return result
	}

	key := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	c.mu.Lock()
	cached, ok := c.memo[key]
	c.mu.Unlock()
	if ok {
		return cached
	}

	deep, err := c.deepPass(ctx, query, result)
	if err != nil {
		log.WithError(err).Warn("classifier model pass failed, keeping heuristic result")
		return result
	}
	if !c.verifier.Verify(result.Category, deep.Category) {
		log.Debugf("classifier model pass moved %s to %s", result.Category, deep.Category)
	}

	c.mu.Lock()
	if len(c.memo) >= maxMemo {
		c.memo = make(map[string]types.Classification)
	}
	c.memo[key] = deep
	c.mu.Unlock()
	return deep
}

// Agreement reports how often the model pass confirmed the heuristic category.
func (c *Classifier) Agreement() verification.Metrics {
	return c.verifier.Metrics()
}

// HeuristicOnly runs only the keyword pass. The router uses it when the
// embedding provider is down and it must avoid further I/O.
func (c *Classifier) HeuristicOnly(query string, hints map[string]any) types.Classification {
	if strings.TrimSpace(query) == "" {
		return types.ConservativeClassification()
	}
	return c.heuristic.Classify(query, hints)
}

func (c *Classifier) deepPass(ctx context.Context, query string, base types.Classification) (types.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.gen.Generate(ctx, buildPrompt(query, base), 256)
	if err != nil {
		return base, err
	}
	return parseResponse(out, base, c.heuristic.patterns)
}

func buildPrompt(query string, base types.Classification) string {
	var sb strings.Builder
	sb.WriteString("You are a query classifier for a document question-answering system.\n")
	sb.WriteString("Return ONLY JSON: {\"category\":\"...\",\"complexity\":\"low|medium|high\",")
	sb.WriteString("\"requires_multi_document\":bool,\"requires_external_data\":bool}.\n")
	sb.WriteString("Categories: document_lookup, document_analysis, research, conversational, multi_step, entity_extraction.\n\n")
	sb.WriteString("Query:\n")
	sb.WriteString(query)
	if len(base.DetectedFeatures) > 0 {
		sb.WriteString("\n\nKeyword signals: ")
		sb.WriteString(strings.Join(base.DetectedFeatures, ", "))
	}
	return sb.String()
}

// parseResponse reads the model's JSON, tolerating markdown fences, and overlays
// it on the heuristic result.
func parseResponse(content string, base types.Classification, patterns *PatternPack) (types.Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if !gjson.Valid(content) {
		return base, fmt.Errorf("classifier response is not JSON")
	}

	parsed := gjson.Parse(content)
	category := types.Category(parsed.Get("category").String())
	if _, ok := patterns.CategoryTools[category]; !ok {
		return base, fmt.Errorf("classifier returned unknown category %q", category)
	}
	out := base
	out.Category = category
	out.SuggestedTools = append([]string(nil), patterns.CategoryTools[category]...)
	switch types.Complexity(parsed.Get("complexity").String()) {
	case types.ComplexityLow:
		out.Complexity = types.ComplexityLow
	case types.ComplexityMedium:
		out.Complexity = types.ComplexityMedium
	case types.ComplexityHigh:
		out.Complexity = types.ComplexityHigh
	}
	if v := parsed.Get("requires_multi_document"); v.Exists() {
		out.RequiresMultiDocument = v.Bool()
	}
	if v := parsed.Get("requires_external_data"); v.Exists() {
		out.RequiresExternalData = v.Bool()
	}
	out.EstimatedProcessingTime = estimate(out.Complexity, out.RequiresExternalData)
	out.Ambiguous = false
	out.Source = "llm"
	return out, nil
}
