// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline runs a routed query through the answer-production strategy the
// router selected.
package pipeline

import (
	"context"

	"github.com/traylinx/switchAIRouter/internal/types"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

// Request is one query handed to a pipeline.
type Request struct {
	Query          string
	MaxIterations  int
	EnableTools    bool
	Context        map[string]string
	Classification types.Classification
	OnProgress     func(workflow.Progress)
}

// Result is what every pipeline produces, complete or flagged partial.
type Result struct {
	Workflow    types.Workflow      `json:"workflow"`
	Answer      string              `json:"answer"`
	Sources     []string            `json:"sources"`
	Citations   []workflow.Citation `json:"citations,omitempty"`
	Iterations  int                 `json:"iterations"`
	Path        []string            `json:"workflow_path"`
	ToolsUsed   []string            `json:"tools_used"`
	Partial     bool                `json:"partial"`
	Termination string              `json:"termination"`
	Summary     *types.RunSummary   `json:"-"`
}

// Pipeline is an answer-production strategy.
type Pipeline interface {
	Workflow() types.Workflow
	Run(ctx context.Context, req Request) (*Result, error)
}

// FromRun converts a finished run.
func FromRun(w types.Workflow, run *workflow.Run) *Result {
	sources := run.Sources()
	if sources == nil {
		sources = []string{}
	}
	path := run.Path()
	if path == nil {
		path = []string{}
	}
	used := run.ToolsUsed()
	if used == nil {
		used = []string{}
	}
	return &Result{
		Workflow:    w,
		Answer:      run.Answer,
		Sources:     sources,
		Citations:   run.Citations,
		Iterations:  run.Iterations,
		Path:        path,
		ToolsUsed:   used,
		Partial:     run.Partial,
		Termination: run.Termination,
		Summary:     run.Summary(),
	}
}

// Set holds one pipeline per workflow.
type Set struct {
	pipelines map[types.Workflow]Pipeline
}

// NewSet wires the three strategies around a shared engine.
func NewSet(engine *workflow.Engine, maxAgents int) *Set {
	return NewSetOf(
		&Iterative{engine: engine},
		&Direct{engine: engine},
		NewMultiAgent(engine, maxAgents),
	)
}

// NewSetOf builds a set from explicit pipelines.
func NewSetOf(ps ...Pipeline) *Set {
	s := &Set{pipelines: make(map[types.Workflow]Pipeline, len(ps))}
	for _, p := range ps {
		s.pipelines[p.Workflow()] = p
	}
	return s
}

// Run executes req with the pipeline for w.
func (s *Set) Run(ctx context.Context, w types.Workflow, req Request) (*Result, error) {
	p, ok := s.pipelines[w]
	if !ok {
		return nil, types.NewError(types.CodeInternal, nil, "no pipeline for workflow %q", w)
	}
	return p.Run(ctx, req)
}

// Iterative is the bounded retrieve/refine/verify loop.
type Iterative struct {
	engine *workflow.Engine
}

func (p *Iterative) Workflow() types.Workflow { return types.WorkflowIterative }

func (p *Iterative) Run(ctx context.Context, req Request) (*Result, error) {
	run, err := p.engine.Execute(ctx, req.Query, options(req))
	return FromRun(types.WorkflowIterative, run), err
}

// Direct retrieves once and answers.
type Direct struct {
	engine *workflow.Engine
}

func (p *Direct) Workflow() types.Workflow { return types.WorkflowDirect }

func (p *Direct) Run(ctx context.Context, req Request) (*Result, error) {
	run, err := p.engine.SinglePass(ctx, req.Query, options(req))
	return FromRun(types.WorkflowDirect, run), err
}

func options(req Request) workflow.Options {
	return workflow.Options{
		MaxIterations:  req.MaxIterations,
		EnableTools:    req.EnableTools,
		Context:        req.Context,
		Classification: req.Classification,
		OnProgress:     req.OnProgress,
	}
}
