// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// RuleEnv is what override expressions can see.
type RuleEnv struct {
	Query         string         `expr:"query"`
	Length        int            `expr:"length"`
	Words         int            `expr:"words"`
	Complexity    string         `expr:"complexity"`
	Category      string         `expr:"category"`
	Features      []string       `expr:"features"`
	External      bool           `expr:"external"`
	MultiDocument bool           `expr:"multi_document"`
	Context       map[string]any `expr:"context"`
}

func newRuleEnv(normalized string, c types.Classification, hints map[string]any) RuleEnv {
	if hints == nil {
		hints = map[string]any{}
	}
	return RuleEnv{
		Query:         normalized,
		Length:        len(normalized),
		Words:         len(strings.Fields(normalized)),
		Complexity:    string(c.Complexity),
		Category:      string(c.Category),
		Features:      c.DetectedFeatures,
		External:      c.RequiresExternalData,
		MultiDocument: c.RequiresMultiDocument,
		Context:       hints,
	}
}

type compiledRule struct {
	name       string
	workflow   types.Workflow
	confidence float64
	program    *vm.Program
}

// RuleSet is an ordered list of compiled override rules. It is immutable after
// construction, so a reload swaps the whole set.
type RuleSet struct {
	rules []compiledRule
}

// CompileRules validates and compiles rules in order.
func CompileRules(rules []config.RouteRule) (*RuleSet, error) {
	rs := &RuleSet{}
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		wf, err := types.ParseWorkflow(r.Workflow)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		program, err := expr.Compile(r.When, expr.Env(RuleEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s (%q): %w", name, r.When, err)
		}
		conf := r.Confidence
		if conf <= 0 {
			conf = 1.0
		}
		rs.rules = append(rs.rules, compiledRule{name: name, workflow: wf, confidence: types.ClampScore(conf), program: program})
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Match returns the first rule whose expression holds. A rule that fails at run
// time is skipped.
func (rs *RuleSet) Match(env RuleEnv) (name string, wf types.Workflow, confidence float64, ok bool) {
	if rs == nil {
		return "", "", 0, false
	}
	for _, r := range rs.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		if matched, _ := out.(bool); matched {
			return r.name, r.workflow, r.confidence, true
		}
	}
	return "", "", 0, false
}
