// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/llm"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/telemetry"
	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Toolbox is the slice of the tool registry the machine needs.
type Toolbox interface {
	Invoke(ctx context.Context, name string, args tools.Args, timeout time.Duration) (*tools.Result, error)
	List() tools.Listing
}

// Options tune one execution.
type Options struct {
	// MaxIterations is clamped to [1, hard ceiling]; zero means the configured default.
	MaxIterations int
	// EnableTools allows external tools. Internal retrieval always runs.
	EnableTools bool
	// Context is caller-supplied background passed to synthesis.
	Context map[string]string
	// Classification steers tool selection and verification.
	Classification types.Classification
	// OnProgress is called after every transition.
	OnProgress func(Progress)
}

// Engine executes refinement runs. It is safe for concurrent use; each Execute
// call owns its Run exclusively.
type Engine struct {
	toolbox Toolbox
	gen     llm.Generator
	cfg     config.WorkflowConfig
	counter *TokenCounter

	// AnswerMaxTokens caps the generated answer.
	AnswerMaxTokens int
}

// NewEngine creates an engine. gen may be nil, in which case answers are extractive.
func NewEngine(toolbox Toolbox, gen llm.Generator, cfg config.WorkflowConfig) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.HardCeiling <= 0 {
		cfg.HardCeiling = 5
	}
	if cfg.MaxIterations > cfg.HardCeiling {
		cfg.MaxIterations = cfg.HardCeiling
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 10 * time.Second
	}
	if cfg.MinEvidence <= 0 {
		cfg.MinEvidence = 3
	}
	return &Engine{
		toolbox:         toolbox,
		gen:             gen,
		cfg:             cfg,
		counter:         NewTokenCounter(),
		AnswerMaxTokens: 1024,
	}
}

// Tools lists the registry the engine draws from.
func (e *Engine) Tools() tools.Listing { return e.toolbox.List() }

// QueryTimeout is the wall-clock limit of one query.
func (e *Engine) QueryTimeout() time.Duration { return e.cfg.QueryTimeout }

// MaxIterations clamps a requested iteration count to the configured bounds.
func (e *Engine) MaxIterations(requested int) int {
	if requested <= 0 {
		return e.cfg.MaxIterations
	}
	if requested > e.cfg.HardCeiling {
		return e.cfg.HardCeiling
	}
	return requested
}

// Execute drives a run from ANALYZE to a terminal state. The returned run is never
// nil. The error is non-nil exactly when the run ends in FAILURE; the run then keeps
// whatever evidence was gathered.
func (e *Engine) Execute(ctx context.Context, query string, opts Options) (*Run, error) {
	run := newRun(query, e.MaxIterations(opts.MaxIterations))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	ctx, span := telemetry.Start(ctx, "workflow.run", attribute.Int("workflow.max_iterations", run.MaxIterations))
	logger := logging.FromContext(ctx)

	for !run.State.Terminal() {
		node := run.State
		started := time.Now()

		var (
			facts Facts
			err   error
		)
		if err = types.FromContext(ctx, "workflow"); err == nil {
			facts, err = e.step(ctx, run, node, opts)
		}

		visit := Visit{Node: node, Iteration: run.Iterations, StartedAt: started, Duration: time.Since(started)}
		if err != nil {
			visit.Error = err.Error()
			facts.Failed = true
			run.Err = err
		}
		run.Visits = append(run.Visits, visit)

		facts.Budget = run.Budget()
		facts.VerifyReturned = run.verifyReturned
		next := Next(node, facts)
		if !Allowed(node, next) {
			run.Err = types.NewError(types.CodeInternal, nil, "illegal transition %s -> %s", node, next)
			next = StateFailure
		}
		c := Advance(run.control(), next)
		run.Iterations = run.MaxIterations - c.Budget
		run.verifyReturned = c.VerifyReturned
		run.State = next

		logger.Debugf("workflow %s -> %s (iteration %d, budget %d)", node, next, run.Iterations, run.Budget())
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Node: node, Next: next, Iteration: run.Iterations, Percent: progressPercent[next]})
		}
	}

	if run.State == StateSuccess {
		run.Termination = TerminationSuccess
	} else {
		run.Termination = terminationFor(run.Err)
		run.Partial = true
		logger.WithError(run.Err).Warnf("workflow failed (%s) after %d iteration(s) with %d evidence item(s)",
			run.Termination, run.Iterations, len(run.Evidence))
	}
	span.SetAttributes(
		attribute.Int("workflow.iterations", run.Iterations),
		attribute.String("workflow.termination", run.Termination))
	telemetry.End(span, run.Err)

	if run.State == StateFailure {
		return run, run.Err
	}
	return run, nil
}

func terminationFor(err error) string {
	switch types.CodeOf(err) {
	case types.CodeCancelled:
		return TerminationCancelled
	case types.CodeTimeout:
		return TerminationTimeout
	case types.CodeToolError, types.CodeRateLimited, types.CodeNotFound:
		return TerminationToolError
	case types.CodeModelUnavailable:
		return TerminationModel
	}
	return TerminationInternal
}

func (e *Engine) step(ctx context.Context, run *Run, node State, opts Options) (Facts, error) {
	ctx, span := telemetry.Start(ctx, "workflow.node", attribute.String("workflow.node", string(node)))
	var (
		f   Facts
		err error
	)
	switch node {
	case StateAnalyze:
		err = e.analyze(run, opts)
	case StateRetrieve:
		err = e.retrieve(ctx, run)
	case StateRefine:
		f.Sufficient = e.refine(ctx, run, opts)
	case StateVerify:
		f.Sufficient = e.verify(run, opts)
	case StateSynthesize:
		err = e.synthesize(ctx, run, opts)
	default:
		err = fmt.Errorf("no handler for %s", node)
	}
	telemetry.End(span, err)
	return f, err
}

// analyze splits the query into aspects and picks the tools to run.
func (e *Engine) analyze(run *Run, opts Options) error {
	run.Aspects = SplitAspects(run.Query)
	run.Covered = make([]bool, len(run.Aspects))
	run.CurrentQuery = run.Aspects[0]
	run.Tools = e.selectTools(opts)
	if len(run.Tools) == 0 {
		return types.ToolError("retrieval", false, fmt.Errorf("no retrieval tools available"))
	}
	return nil
}

func (e *Engine) selectTools(opts Options) []string {
	listing := e.toolbox.List()
	internal := make(map[string]bool)
	external := make(map[string]bool)
	for _, d := range listing.Internal {
		internal[d.Name] = true
	}
	for _, d := range listing.External {
		external[d.Name] = true
	}

	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if seen[name] {
			return
		}
		if internal[name] || (opts.EnableTools && external[name]) {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range opts.Classification.SuggestedTools {
		add(name)
	}
	if opts.EnableTools && opts.Classification.RequiresExternalData {
		for _, d := range listing.External {
			add(d.Name)
		}
	}
	if !hasInternal(out, internal) {
		for _, name := range []string{tools.ToolHybridSearch, tools.ToolVectorSearch} {
			if internal[name] {
				add(name)
				break
			}
		}
		if !hasInternal(out, internal) {
			for _, d := range listing.Internal {
				add(d.Name)
				break
			}
		}
	}
	return out
}

func hasInternal(names []string, internal map[string]bool) bool {
	for _, n := range names {
		if internal[n] {
			return true
		}
	}
	return false
}

// retrieve runs the selected tools for the current aspect. Tool failures are
// recorded and skipped; only the run's own context ending is fatal.
func (e *Engine) retrieve(ctx context.Context, run *Run) error {
	aspect := run.currentAspect()
	logger := logging.FromContext(ctx)
	for _, name := range run.Tools {
		res, err := e.toolbox.Invoke(ctx, name, tools.Args{Query: run.CurrentQuery, TopK: 5}, e.cfg.ToolTimeout)
		call := ToolCall{Tool: name, Query: run.CurrentQuery, Iteration: run.Iterations}
		if err != nil {
			if ctxErr := types.FromContext(ctx, "workflow"); ctxErr != nil {
				call.Error = ctxErr.Error()
				run.ToolCalls = append(run.ToolCalls, call)
				return ctxErr
			}
			call.Error = err.Error()
			run.ToolCalls = append(run.ToolCalls, call)
			logger.WithError(err).Warnf("retrieval tool %s failed, continuing with partial evidence", name)
			continue
		}
		call.Elapsed = res.Elapsed
		call.Attempts = res.Attempts
		call.Items = len(res.Items)
		run.ToolCalls = append(run.ToolCalls, call)

		for _, it := range res.Items {
			if it.Score < e.cfg.MinRelevance || it.Content == "" {
				continue
			}
			if run.addEvidence(Evidence{Item: it, Tool: name, Aspect: aspect, Iteration: run.Iterations}) && aspect >= 0 {
				run.Covered[aspect] = true
			}
		}
	}
	return nil
}

// refine decides whether the evidence suffices and, if not, revises the query for the
// next RETRIEVE pass. The budget itself is consumed by the transition, not here.
func (e *Engine) refine(ctx context.Context, run *Run, opts Options) bool {
	if e.sufficient(run) {
		return true
	}
	if run.Budget() <= 0 {
		return false
	}
	if idx := run.nextUncovered(); idx >= 0 {
		run.CurrentQuery = run.Aspects[idx]
		return false
	}
	run.CurrentQuery = e.reviseQuery(ctx, run)
	if run.verifyIssue == issueSingleSource {
		e.widenTools(run)
	}
	return false
}

func (e *Engine) sufficient(run *Run) bool {
	if run.verifyIssue != "" {
		return false
	}
	if run.nextUncovered() >= 0 {
		return false
	}
	return len(run.Evidence) >= e.cfg.MinEvidence
}

// widenTools adds any internal tool not yet used.
func (e *Engine) widenTools(run *Run) {
	have := make(map[string]bool)
	for _, t := range run.Tools {
		have[t] = true
	}
	for _, d := range e.toolbox.List().Internal {
		if !have[d.Name] {
			run.Tools = append(run.Tools, d.Name)
		}
	}
}

func (e *Engine) reviseQuery(ctx context.Context, run *Run) string {
	if e.gen != nil {
		prompt := fmt.Sprintf("Rewrite the search query to find evidence not yet covered. Reply with the query only.\nOriginal question: %s\nPrevious query: %s\n", run.Query, run.CurrentQuery)
		out, err := e.gen.Generate(ctx, prompt, 64)
		if err == nil {
			if q := cleanLine(out); q != "" {
				return q
			}
		} else {
			logging.FromContext(ctx).WithError(err).Warn("query rewrite failed, using keyword form")
		}
	}
	kw := KeywordForm(run.Query)
	if kw == "" || kw == run.CurrentQuery {
		return run.Query
	}
	return kw
}

const (
	issueSingleSource = "single_source"
	issueNoExternal   = "no_external_evidence"
)

// verify checks that the evidence is consistent with what the query needs. A failed
// check is recorded on the run so REFINE knows to keep searching.
func (e *Engine) verify(run *Run, opts Options) bool {
	run.verifyIssue = ""
	switch {
	case opts.Classification.RequiresMultiDocument && len(run.Evidence) > 1 && len(run.Sources()) < 2:
		run.verifyIssue = issueSingleSource
	case opts.Classification.RequiresExternalData && run.usedExternal(e.toolbox.List()) && !run.hasExternalEvidence(e.toolbox.List()):
		run.verifyIssue = issueNoExternal
	}
	ok := run.verifyIssue == "" && e.sufficient(run)
	if !ok && (run.Budget() <= 0 || run.verifyReturned) {
		// Forced forward: the answer is flagged partial. Clearing the issue keeps
		// a later REFINE from looping on it.
		run.Partial = true
		run.verifyIssue = ""
	}
	return ok
}

func (r *Run) currentAspect() int {
	for i, a := range r.Aspects {
		if a == r.CurrentQuery {
			return i
		}
	}
	return -1
}

func (r *Run) nextUncovered() int {
	for i, c := range r.Covered {
		if !c {
			return i
		}
	}
	return -1
}

func (r *Run) addEvidence(ev Evidence) bool {
	key := ev.ID
	if key == "" {
		key = ev.Source + "|" + ev.Content
	}
	key = ev.Tool + "|" + key
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	r.Evidence = append(r.Evidence, ev)
	return true
}

func (r *Run) usedExternal(l tools.Listing) bool {
	for _, d := range l.External {
		for _, t := range r.Tools {
			if t == d.Name {
				return true
			}
		}
	}
	return false
}

func (r *Run) hasExternalEvidence(l tools.Listing) bool {
	ext := make(map[string]bool)
	for _, d := range l.External {
		ext[d.Name] = true
	}
	for _, ev := range r.Evidence {
		if ext[ev.Tool] {
			return true
		}
	}
	return false
}

// rankedEvidence returns evidence by descending score, stable on insertion order.
func (r *Run) rankedEvidence() []Evidence {
	out := append([]Evidence(nil), r.Evidence...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func init() {
	if err := CheckTransitions(maxCeiling); err != nil {
		log.Fatalf("workflow transition table is invalid: %v", err)
	}
}

// maxCeiling bounds the hard ceiling the table is checked against at startup.
const maxCeiling = 10
