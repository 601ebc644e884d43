// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/types"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

// MultiAgent fans a query out to parallel agents and merges their evidence into one
// answer. A comparative query gets one agent per aspect; anything else gets one agent
// per retrieval tool.
type MultiAgent struct {
	engine    *workflow.Engine
	maxAgents int
}

// NewMultiAgent creates the pipeline. maxAgents bounds concurrency, default 4.
func NewMultiAgent(engine *workflow.Engine, maxAgents int) *MultiAgent {
	if maxAgents <= 0 {
		maxAgents = 4
	}
	return &MultiAgent{engine: engine, maxAgents: maxAgents}
}

func (p *MultiAgent) Workflow() types.Workflow { return types.WorkflowMultiAgent }

type assignment struct {
	query string
	tools []string
}

func (p *MultiAgent) plan(req Request) []assignment {
	aspects := workflow.SplitAspects(req.Query)
	if len(aspects) > 1 {
		out := make([]assignment, len(aspects))
		for i, a := range aspects {
			out[i] = assignment{query: a, tools: req.Classification.SuggestedTools}
		}
		return out
	}
	var out []assignment
	for _, d := range p.engine.Tools().Internal {
		out = append(out, assignment{query: req.Query, tools: []string{d.Name}})
	}
	if len(out) == 0 {
		out = append(out, assignment{query: req.Query})
	}
	return out
}

func failed(termination string) *Result {
	return &Result{
		Workflow:    types.WorkflowMultiAgent,
		Sources:     []string{},
		Path:        []string{},
		ToolsUsed:   []string{},
		Partial:     true,
		Termination: termination,
	}
}

// Run gathers and merges under one deadline shared by both phases. When the
// deadline passes or ctx ends mid-gather, the evidence the finished agents
// collected is returned with the partial result.
func (p *MultiAgent) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.engine.QueryTimeout())
	defer cancel()

	plan := p.plan(req)
	parts := make([]*workflow.Run, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxAgents)
	for i, a := range plan {
		i, a := i, a
		g.Go(func() error {
			opts := options(req)
			opts.OnProgress = nil
			opts.Classification.SuggestedTools = a.tools
			run, err := p.engine.Gather(gctx, a.query, opts)
			if err != nil {
				if ctxErr := types.FromContext(gctx, "multi-agent"); ctxErr != nil {
					return ctxErr
				}
				logging.FromContext(ctx).WithError(err).Warnf("agent %d (%q) failed, continuing without it", i, a.query)
				return nil
			}
			parts[i] = run
			return nil
		})
	}
	waitErr := g.Wait()

	var gathered []*workflow.Run
	for _, r := range parts {
		if r != nil {
			gathered = append(gathered, r)
		}
	}
	if waitErr != nil {
		if ctxErr := types.FromContext(ctx, "multi-agent"); ctxErr != nil {
			waitErr = ctxErr
		}
		run := workflow.Combine(req.Query, gathered)
		run.Abort(waitErr)
		return FromRun(types.WorkflowMultiAgent, run), waitErr
	}
	if len(gathered) == 0 {
		return failed(workflow.TerminationToolError), types.ToolError("multi-agent", false, fmt.Errorf("all %d agents failed", len(plan)))
	}
	run, err := p.engine.Merge(ctx, req.Query, gathered, options(req))
	return FromRun(types.WorkflowMultiAgent, run), err
}
