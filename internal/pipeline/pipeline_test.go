// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/resilience"
	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/types"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

func docsFor(source string) tools.Func {
	return func(ctx context.Context, args tools.Args) ([]tools.Item, error) {
		q := strings.ToLower(args.Query)
		return []tools.Item{
			{ID: source + "-" + q, Title: q, Content: "Passage about " + q + ".", Source: source + "/" + q, Score: 0.8},
		}, nil
	}
}

func newEngine(t *testing.T, fns map[string]tools.Func) *workflow.Engine {
	t.Helper()
	reg := tools.NewRegistry(resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, BackoffFactor: 2}, time.Second)
	for name, fn := range fns {
		require.NoError(t, reg.Register(&tools.Tool{Name: name, Description: name, Kind: tools.KindInternal, Run: fn}))
	}
	return workflow.NewEngine(reg, nil, config.WorkflowConfig{MinEvidence: 1, MinRelevance: 0.3})
}

func TestDirect_SinglePass(t *testing.T) {
	set := NewSet(newEngine(t, map[string]tools.Func{tools.ToolVectorSearch: docsFor("kb")}), 0)

	res, err := set.Run(context.Background(), types.WorkflowDirect, Request{Query: "What is our refund policy?"})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowDirect, res.Workflow)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"retrieve"}, res.Path)
	assert.Equal(t, []string{tools.ToolVectorSearch}, res.ToolsUsed)
	assert.Equal(t, workflow.TerminationSuccess, res.Termination)
	assert.Contains(t, res.Answer, "[1]")
	assert.Equal(t, []string{"ANALYZE", "RETRIEVE", "SYNTHESIZE", "SUCCESS"}, res.Summary.Path)
}

func TestIterative_UsesEngine(t *testing.T) {
	set := NewSet(newEngine(t, map[string]tools.Func{tools.ToolVectorSearch: docsFor("kb")}), 0)

	res, err := set.Run(context.Background(), types.WorkflowIterative, Request{Query: "refunds", MaxIterations: 2})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowIterative, res.Workflow)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"retrieve", "refine", "verify"}, res.Path)
}

func TestMultiAgent_OneAgentPerAspect(t *testing.T) {
	set := NewSet(newEngine(t, map[string]tools.Func{tools.ToolVectorSearch: docsFor("kb")}), 2)

	res, err := set.Run(context.Background(), types.WorkflowMultiAgent, Request{
		Query:          "postgres vs mysql",
		Classification: types.Classification{RequiresMultiDocument: true},
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowMultiAgent, res.Workflow)
	assert.ElementsMatch(t, []string{"kb/postgres", "kb/mysql"}, res.Sources)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"retrieve", "verify"}, res.Path)
}

func TestMultiAgent_OneAgentPerTool(t *testing.T) {
	set := NewSet(newEngine(t, map[string]tools.Func{
		tools.ToolVectorSearch: docsFor("vec"),
		tools.ToolGraphQuery:   docsFor("graph"),
	}), 0)

	res, err := set.Run(context.Background(), types.WorkflowMultiAgent, Request{Query: "data retention"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{tools.ToolVectorSearch, tools.ToolGraphQuery}, res.ToolsUsed)
	assert.Len(t, res.Sources, 2)
}

func TestMultiAgent_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	set := NewSet(newEngine(t, map[string]tools.Func{tools.ToolVectorSearch: docsFor("kb")}), 0)

	res, err := set.Run(ctx, types.WorkflowMultiAgent, Request{Query: "a vs b"})
	require.Error(t, err)
	assert.Equal(t, types.CodeCancelled, types.CodeOf(err))
	assert.Equal(t, workflow.TerminationCancelled, res.Termination)
	assert.True(t, res.Partial)
}

func TestMultiAgent_DeadlineCoversGatherAndMerge(t *testing.T) {
	reg := tools.NewRegistry(resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, BackoffFactor: 2}, time.Second)
	require.NoError(t, reg.Register(&tools.Tool{Name: tools.ToolVectorSearch, Description: "kb", Kind: tools.KindInternal, Run: docsFor("kb")}))
	require.NoError(t, reg.Register(&tools.Tool{Name: tools.ToolGraphQuery, Description: "slow", Kind: tools.KindInternal,
		Run: func(ctx context.Context, args tools.Args) ([]tools.Item, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}))
	engine := workflow.NewEngine(reg, nil, config.WorkflowConfig{MinEvidence: 1, MinRelevance: 0.3, QueryTimeout: 100 * time.Millisecond})
	set := NewSet(engine, 0)

	started := time.Now()
	res, err := set.Run(context.Background(), types.WorkflowMultiAgent, Request{Query: "data retention"})
	require.Error(t, err)
	assert.Equal(t, types.CodeTimeout, types.CodeOf(err), "merge does not get a fresh deadline")
	assert.Less(t, time.Since(started), 190*time.Millisecond)
	assert.Equal(t, workflow.TerminationTimeout, res.Termination)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"kb/data retention"}, res.Sources, "evidence from finished agents survives")
	assert.Contains(t, res.ToolsUsed, tools.ToolVectorSearch)
}

func TestSet_UnknownWorkflow(t *testing.T) {
	set := NewSetOf()
	_, err := set.Run(context.Background(), types.WorkflowDirect, Request{Query: "x"})
	assert.Error(t, err)
}
