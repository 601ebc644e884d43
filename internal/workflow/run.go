// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"time"

	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Termination reasons.
const (
	TerminationSuccess   = "success"
	TerminationCancelled = "cancelled"
	TerminationTimeout   = "timeout"
	TerminationToolError = "tool_error"
	TerminationModel     = "model_unavailable"
	TerminationInternal  = "internal_error"
)

// Visit records one node execution.
type Visit struct {
	Node      State         `json:"node"`
	Iteration int           `json:"iteration"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ToolCall records one tool invocation made by RETRIEVE.
type ToolCall struct {
	Tool      string        `json:"tool"`
	Query     string        `json:"query"`
	Iteration int           `json:"iteration"`
	Elapsed   time.Duration `json:"elapsed"`
	Attempts  int           `json:"attempts"`
	Items     int           `json:"items"`
	Error     string        `json:"error,omitempty"`
}

// Evidence is a retrieved passage kept by the run.
type Evidence struct {
	tools.Item
	Tool      string `json:"tool"`
	Aspect    int    `json:"aspect"`
	Iteration int    `json:"iteration"`
}

// Citation references evidence used in the answer.
type Citation struct {
	Index  int     `json:"index"`
	Title  string  `json:"title,omitempty"`
	Source string  `json:"source,omitempty"`
	Tool   string  `json:"tool"`
	Score  float64 `json:"score"`
}

// Run is the ephemeral state of one query through the machine. It is owned by a
// single Execute call and must not be shared while running.
type Run struct {
	Query         string     `json:"query"`
	MaxIterations int        `json:"max_iterations"`
	Iterations    int        `json:"iterations"`
	State         State      `json:"state"`
	Visits        []Visit    `json:"visits"`
	Evidence      []Evidence `json:"evidence"`
	ToolCalls     []ToolCall `json:"tool_calls"`
	Aspects       []string   `json:"aspects"`
	Covered       []bool     `json:"covered"`
	CurrentQuery  string     `json:"current_query"`
	Tools         []string   `json:"tools"`
	Answer        string     `json:"answer,omitempty"`
	Citations     []Citation `json:"citations,omitempty"`
	Partial       bool       `json:"partial"`
	Termination   string     `json:"termination,omitempty"`
	Err           error      `json:"-"`

	verifyReturned bool
	verifyIssue    string
	seen           map[string]struct{}
}

func newRun(query string, maxIterations int) *Run {
	return &Run{
		Query:         query,
		MaxIterations: maxIterations,
		State:         StateAnalyze,
		CurrentQuery:  query,
		seen:          make(map[string]struct{}),
	}
}

// Budget is the number of RETRIEVE passes left.
func (r *Run) Budget() int { return r.MaxIterations - r.Iterations }

func (r *Run) control() Control {
	return Control{Node: r.State, Budget: r.Budget(), VerifyReturned: r.verifyReturned}
}

// Path returns the refinement nodes in first-visit order, lowercased.
// ANALYZE, SYNTHESIZE and the terminals are bookkeeping and are left out.
func (r *Run) Path() []string {
	var out []string
	seen := make(map[State]bool)
	for _, v := range r.Visits {
		switch v.Node {
		case StateRetrieve, StateRefine, StateVerify:
		default:
			continue
		}
		if !seen[v.Node] {
			seen[v.Node] = true
			out = append(out, v.Node.Lower())
		}
	}
	return out
}

// Trace returns every visited node in order.
func (r *Run) Trace() []string {
	out := make([]string, 0, len(r.Visits)+1)
	for _, v := range r.Visits {
		out = append(out, string(v.Node))
	}
	if r.State.Terminal() {
		out = append(out, string(r.State))
	}
	return out
}

// ToolsUsed lists tools that returned at least one result, in first-use order.
func (r *Run) ToolsUsed() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range r.ToolCalls {
		if c.Error != "" || seen[c.Tool] {
			continue
		}
		seen[c.Tool] = true
		out = append(out, c.Tool)
	}
	return out
}

// Sources returns the distinct evidence sources in evidence order.
func (r *Run) Sources() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range r.Evidence {
		src := e.Source
		if src == "" {
			src = e.Title
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// Summary is the compact form persisted with the decision record.
func (r *Run) Summary() *types.RunSummary {
	return &types.RunSummary{
		Iterations:   r.Iterations,
		Path:         r.Trace(),
		ToolsUsed:    r.ToolsUsed(),
		EvidenceSize: len(r.Evidence),
		Termination:  r.Termination,
	}
}

// Progress is reported after every node.
type Progress struct {
	Node      State `json:"node"`
	Next      State `json:"next"`
	Iteration int   `json:"iteration"`
	Percent   int   `json:"percent"`
}

var progressPercent = map[State]int{
	StateAnalyze:    10,
	StateRetrieve:   35,
	StateRefine:     55,
	StateVerify:     75,
	StateSynthesize: 95,
	StateSuccess:    100,
	StateFailure:    100,
}
