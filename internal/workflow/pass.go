// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/traylinx/switchAIRouter/internal/telemetry"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// SinglePass answers with one retrieval and no refinement loop.
func (e *Engine) SinglePass(ctx context.Context, query string, opts Options) (*Run, error) {
	run := newRun(query, 1)
	return run, e.pass(ctx, run, opts, "workflow.single_pass", StateAnalyze, StateRetrieve, StateSynthesize)
}

// Gather runs analysis and one retrieval, leaving synthesis to the caller. The run
// stays non-terminal on success.
func (e *Engine) Gather(ctx context.Context, query string, opts Options) (*Run, error) {
	run := newRun(query, 1)
	return run, e.pass(ctx, run, opts, "workflow.gather", StateAnalyze, StateRetrieve)
}

// Combine folds the evidence of several gathered runs into one run without
// running any node. The combined run records the tool calls of every part.
func Combine(query string, parts []*Run) *Run {
	run := newRun(query, 1)
	run.Iterations = 1
	for _, p := range parts {
		if p == nil {
			continue
		}
		run.Aspects = append(run.Aspects, p.Query)
		run.Covered = append(run.Covered, len(p.Evidence) > 0)
		run.Visits = append(run.Visits, p.Visits...)
		run.ToolCalls = append(run.ToolCalls, p.ToolCalls...)
		for _, ev := range p.Evidence {
			ev.Aspect = len(run.Aspects) - 1
			run.addEvidence(ev)
		}
	}
	return run
}

// Merge verifies and synthesizes over the combined evidence of several gathered runs.
func (e *Engine) Merge(ctx context.Context, query string, parts []*Run, opts Options) (*Run, error) {
	run := Combine(query, parts)
	return run, e.pass(ctx, run, opts, "workflow.merge", StateVerify, StateSynthesize)
}

// Abort ends a run in FAILURE with err, keeping its evidence.
func (r *Run) Abort(err error) {
	r.State = StateFailure
	r.Err = err
	r.Termination = terminationFor(err)
	r.Partial = true
}

// pass walks a fixed node sequence. Entering RETRIEVE counts one iteration.
func (e *Engine) pass(ctx context.Context, run *Run, opts Options, name string, nodes ...State) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	ctx, span := telemetry.Start(ctx, name)

	for i, node := range nodes {
		run.State = node
		if node == StateRetrieve {
			run.Iterations = 1
		}
		started := time.Now()
		err := types.FromContext(ctx, "workflow")
		if err == nil {
			_, err = e.step(ctx, run, node, opts)
		}
		visit := Visit{Node: node, Iteration: run.Iterations, StartedAt: started, Duration: time.Since(started)}
		if err != nil {
			visit.Error = err.Error()
		}
		run.Visits = append(run.Visits, visit)

		next := StateSuccess
		if i+1 < len(nodes) {
			next = nodes[i+1]
		}
		if err != nil {
			next = StateFailure
			run.Err = err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Node: node, Next: next, Iteration: run.Iterations, Percent: progressPercent[next]})
		}
		if err != nil {
			run.Abort(err)
			telemetry.End(span, err)
			return err
		}
	}
	if nodes[len(nodes)-1] == StateSynthesize {
		run.State = StateSuccess
		run.Termination = TerminationSuccess
	}
	span.SetAttributes(attribute.Int("workflow.evidence", len(run.Evidence)))
	telemetry.End(span, nil)
	return nil
}
