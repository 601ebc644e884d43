// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/traylinx/switchAIRouter/internal/llm"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// TokenCounter estimates prompt size. It uses the cl100k encoding when available and
// falls back to a word-based estimate otherwise.
type TokenCounter struct {
	enc tokenizer.Codec
}

// NewTokenCounter loads the cl100k encoding.
func NewTokenCounter() *TokenCounter {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count of s.
func (c *TokenCounter) Count(s string) int {
	if c != nil && c.enc != nil {
		if ids, _, err := c.enc.Encode(s); err == nil {
			return len(ids)
		}
	}
	return (len(strings.Fields(s))*4 + 2) / 3
}

const noEvidenceAnswer = "No supporting evidence was found for this question."

// synthesize builds the answer from the highest-scoring evidence that fits the token
// budget. Without a generator the answer is extractive.
func (e *Engine) synthesize(ctx context.Context, run *Run, opts Options) error {
	selected := e.selectEvidence(run)
	run.Citations = run.Citations[:0]
	for i, ev := range selected {
		run.Citations = append(run.Citations, Citation{
			Index: i + 1, Title: ev.Title, Source: ev.Source, Tool: ev.Tool, Score: ev.Score,
		})
	}
	if len(selected) == 0 {
		run.Answer = noEvidenceAnswer
		run.Partial = true
		return nil
	}
	if e.gen == nil {
		run.Answer = extractiveAnswer(selected)
		return nil
	}

	out, err := e.gen.Generate(ctx, buildPrompt(run, selected, opts.Context), e.AnswerMaxTokens)
	if err != nil {
		if ctxErr := types.FromContext(ctx, "synthesis"); ctxErr != nil {
			return ctxErr
		}
		err = llm.Classify(e.gen.Name(), err)
		if types.CodeOf(err) == types.CodeInternal {
			err = types.ModelUnavailable(err)
		}
		logging.FromContext(ctx).WithError(err).Warn("synthesis failed")
		return err
	}
	run.Answer = strings.TrimSpace(out)
	return nil
}

func (e *Engine) selectEvidence(run *Run) []Evidence {
	budget := e.cfg.SynthesisTokenBudget
	var out []Evidence
	used := 0
	for _, ev := range run.rankedEvidence() {
		n := e.counter.Count(ev.Content)
		if budget > 0 && used+n > budget {
			if len(out) == 0 {
				ev.Content = truncateTokens(e.counter, ev.Content, budget)
				out = append(out, ev)
			}
			break
		}
		used += n
		out = append(out, ev)
	}
	return out
}

// truncateTokens cuts s word by word until it fits limit.
func truncateTokens(c *TokenCounter, s string, limit int) string {
	words := strings.Fields(s)
	for len(words) > 0 && c.Count(strings.Join(words, " ")) > limit {
		words = words[:len(words)*3/4]
	}
	return strings.Join(words, " ")
}

func buildPrompt(run *Run, evidence []Evidence, extra map[string]string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered evidence. Cite sources as [n].\n")
	fmt.Fprintf(&b, "Question: %s\n", run.Query)
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, extra[k])
		}
	}
	b.WriteString("Evidence:\n")
	for i, ev := range evidence {
		title := ev.Title
		if title == "" {
			title = ev.Source
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, title, ev.Content)
	}
	return b.String()
}

func extractiveAnswer(evidence []Evidence) string {
	parts := make([]string, 0, len(evidence))
	for i, ev := range evidence {
		parts = append(parts, fmt.Sprintf("%s [%d]", firstSentence(ev.Content), i+1))
	}
	return strings.Join(parts, " ")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}
