// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intelligence

import (
	"context"
	"errors"
	"time"

	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/intelligence/feedback"
	"github.com/traylinx/switchAIRouter/internal/intelligence/router"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/pipeline"
	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/types"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

// QueryRequest is one route-and-execute call.
type QueryRequest struct {
	Query         string            `json:"query"`
	MaxIterations int               `json:"max_iterations,omitempty"`
	EnableTools   *bool             `json:"enable_tools,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	ForceWorkflow types.Workflow    `json:"force_workflow,omitempty"`

	// OnProgress observes node transitions. Not serialized.
	OnProgress func(workflow.Progress) `json:"-"`
}

func (r QueryRequest) toolsEnabled() bool {
	return r.EnableTools == nil || *r.EnableTools
}

func (r QueryRequest) routeRequest() router.Request {
	hints := make(map[string]any, len(r.Context))
	for k, v := range r.Context {
		hints[k] = v
	}
	return router.Request{Query: r.Query, Context: hints, ForceWorkflow: r.ForceWorkflow}
}

// QueryResponse is the answer plus provenance of how it was produced.
type QueryResponse struct {
	Answer           string              `json:"answer"`
	Sources          []string            `json:"sources"`
	Citations        []workflow.Citation `json:"citations,omitempty"`
	Iterations       int                 `json:"iterations"`
	WorkflowPath     []string            `json:"workflow_path"`
	ToolsUsed        []string            `json:"tools_used"`
	FromCache        bool                `json:"from_cache"`
	CacheNamespace   string              `json:"cache_namespace"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`

	Workflow        types.Workflow        `json:"workflow"`
	Confidence      float64               `json:"confidence"`
	ConfidenceLevel types.ConfidenceLevel `json:"confidence_level"`
	DecisionID      string                `json:"decision_id"`
	Partial         bool                  `json:"partial"`
	Termination     string                `json:"termination"`
	Degraded        []string              `json:"degraded,omitempty"`
}

func (s *Service) components() (*router.Router, *pipeline.Set, *feedback.Recorder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return nil, nil, nil, types.NewError(types.CodeInternal, nil, "routing services not initialized")
	}
	return s.router, s.pipelines, s.recorder, nil
}

// RouteAndExecute routes the query, runs the chosen pipeline and publishes the
// outcome. A failed run may still return a partial response alongside the error.
func (s *Service) RouteAndExecute(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	r, pipelines, recorder, err := s.components()
	if err != nil {
		return nil, err
	}
	start := s.now()
	logger := logging.FromContext(ctx)

	d, err := r.Route(ctx, req.routeRequest())
	if err != nil {
		return nil, err
	}

	res, runErr := pipelines.Run(ctx, d.Workflow, pipeline.Request{
		Query:          req.Query,
		MaxIterations:  req.MaxIterations,
		EnableTools:    req.toolsEnabled(),
		Context:        req.Context,
		Classification: d.Classification,
		OnProgress:     req.OnProgress,
	})
	elapsed := s.now().Sub(start)

	var resp *QueryResponse
	if res != nil {
		resp = &QueryResponse{
			Answer:           res.Answer,
			Sources:          res.Sources,
			Citations:        res.Citations,
			Iterations:       res.Iterations,
			WorkflowPath:     res.Path,
			ToolsUsed:        res.ToolsUsed,
			FromCache:        d.CacheHit,
			CacheNamespace:   d.Namespace,
			ProcessingTimeMs: elapsed.Milliseconds(),
			Workflow:         d.Workflow,
			Confidence:       d.Confidence,
			ConfidenceLevel:  d.ConfidenceLevel,
			DecisionID:       d.DecisionID,
			Partial:          res.Partial,
			Termination:      res.Termination,
			Degraded:         d.Factors.Degraded,
		}
	}

	s.publishOutcome(ctx, recorder, d, res, runErr, elapsed)

	if runErr != nil {
		logger.WithError(runErr).Warnf("%s pipeline failed after %s", d.Workflow, elapsed)
		return resp, runErr
	}
	logger.Infof("answered via %s in %s (iterations %d, partial %t, cache hit %t)",
		d.Workflow, elapsed, resp.Iterations, resp.Partial, resp.FromCache)
	return resp, nil
}

// publishOutcome hands the run's result to the feedback consumer. Caller
// cancellation says nothing about the decision, so it is not recorded.
func (s *Service) publishOutcome(ctx context.Context, recorder *feedback.Recorder, d *types.Decision, res *pipeline.Result, runErr error, elapsed time.Duration) {
	if d.DecisionID == "" || types.CodeOf(runErr) == types.CodeCancelled {
		return
	}
	outcome := types.OutcomeSuccess
	switch {
	case runErr != nil:
		outcome = types.OutcomeFailure
	case res.Partial:
		outcome = types.OutcomePartial
	}
	ev := feedback.Event{
		DecisionID:      d.DecisionID,
		CacheEntryID:    d.CacheEntryID,
		Outcome:         outcome,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if res != nil {
		ev.RunSummary = res.Summary
		ev.Metrics = map[string]float64{
			"iterations": float64(res.Iterations),
			"sources":    float64(len(res.Sources)),
			"tools_used": float64(len(res.ToolsUsed)),
		}
	}
	if err := recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		logging.FromContext(ctx).WithError(err).Warnf("failed to publish outcome for decision %s", d.DecisionID)
	}
}

// Route returns the routing decision without executing it.
func (s *Service) Route(ctx context.Context, req QueryRequest) (*types.Decision, error) {
	r, _, _, err := s.components()
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, req.routeRequest())
}

// RouteBatch routes up to router.MaxBatch queries.
func (s *Service) RouteBatch(ctx context.Context, reqs []QueryRequest) ([]router.BatchItem, error) {
	r, _, _, err := s.components()
	if err != nil {
		return nil, err
	}
	rr := make([]router.Request, len(reqs))
	for i := range reqs {
		rr[i] = reqs[i].routeRequest()
	}
	return r.RouteBatch(ctx, rr)
}

// ListTools returns the registry grouped by kind.
func (s *Service) ListTools() tools.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.comp.Tools == nil {
		return tools.Listing{Internal: []tools.Descriptor{}, External: []tools.Descriptor{}}
	}
	return s.comp.Tools.List()
}

// FeedbackRequest is a late outcome or rating from a caller.
type FeedbackRequest struct {
	DecisionID   string        `json:"decision_id"`
	CacheEntryID string        `json:"cache_entry_id,omitempty"`
	Outcome      types.Outcome `json:"outcome,omitempty"`
	Rating       *float64      `json:"rating,omitempty"`
}

// SubmitFeedback queues a late outcome or rating. Unknown decision ids and
// writes to an outcome or rating the record already holds are rejected here
// rather than discarded by the consumer.
func (s *Service) SubmitFeedback(ctx context.Context, req FeedbackRequest) error {
	_, _, recorder, err := s.components()
	if err != nil {
		return err
	}
	ev := feedback.Event{
		DecisionID:   req.DecisionID,
		CacheEntryID: req.CacheEntryID,
		Outcome:      req.Outcome,
		Rating:       req.Rating,
	}
	if err = ev.Validate(); err != nil {
		return err
	}
	if req.DecisionID != "" {
		rec, err := s.decisions().Get(ctx, req.DecisionID)
		if err != nil {
			return err
		}
		if req.Outcome != "" && rec.Outcome != "" {
			return types.Validation("outcome for decision %s already recorded", req.DecisionID)
		}
		if req.Outcome == "" && rec.Rating != nil {
			return types.Validation("rating for decision %s already recorded", req.DecisionID)
		}
	}
	if err = recorder.Record(ctx, ev); err != nil {
		if errors.Is(err, feedback.ErrQueueFull) {
			return types.RateLimited("feedback queue", err)
		}
		return err
	}
	return nil
}

func (s *Service) decisions() decisionlog.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comp.Decisions
}

// StatsResponse aggregates router, feedback and task counters.
type StatsResponse struct {
	Router   router.Stats   `json:"router"`
	Feedback feedback.Stats `json:"feedback"`
	Tasks    TaskStats      `json:"tasks"`
}

// Stats collects every counter the service keeps.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	r, _, recorder, err := s.components()
	if err != nil {
		return nil, err
	}
	return &StatsResponse{
		Router:   r.Stats(ctx),
		Feedback: recorder.Stats(),
		Tasks:    s.Tasks().Stats(),
	}, nil
}
