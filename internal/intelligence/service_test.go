// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/classifier"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
	"github.com/traylinx/switchAIRouter/internal/intelligence/feedback"
	"github.com/traylinx/switchAIRouter/internal/resilience"
	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// documents answers per topic with distinct sources.
func documents(ctx context.Context, args tools.Args) ([]tools.Item, error) {
	q := strings.ToLower(args.Query)
	switch {
	case strings.Contains(q, "refund"):
		return []tools.Item{
			{ID: "r1", Title: "Refund policy", Content: "Refunds are issued within 30 days of purchase.", Source: "refund.md", Score: 0.92},
			{ID: "r2", Title: "Returns", Content: "Items must be unused to qualify.", Source: "returns.md", Score: 0.81},
			{ID: "r3", Title: "Store credit", Content: "Store credit never expires.", Source: "credit.md", Score: 0.66},
		}, nil
	case strings.Contains(q, "policies"):
		return []tools.Item{
			{ID: "p1", Title: "Privacy policy", Content: "We retain personal data for 12 months.", Source: "policy.md", Score: 0.9},
			{ID: "p2", Title: "Handbook", Content: "Employees must honour deletion requests.", Source: "handbook.md", Score: 0.7},
		}, nil
	case strings.Contains(q, "california"):
		return []tools.Item{
			{ID: "c1", Title: "CCPA", Content: "Consumers may request deletion of personal data.", Source: "ccpa.md", Score: 0.85},
			{ID: "c2", Title: "CPRA", Content: "Businesses must disclose retention periods.", Source: "cpra.md", Score: 0.8},
		}, nil
	}
	return nil, nil
}

func webSearch(ctx context.Context, args tools.Args) ([]tools.Item, error) {
	return []tools.Item{{
		ID:      "web-" + strings.ToLower(strings.ReplaceAll(args.Query, " ", "-")),
		Title:   "Web result",
		Content: "Regulators published new guidance on " + args.Query + ".",
		Source:  "https://example.org/" + strings.ReplaceAll(args.Query, " ", "-"),
		Score:   0.75,
	}}, nil
}

func blocking(ctx context.Context, args tools.Args) ([]tools.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	svc   *Service
	store *cache.MemoryStore
	log   *decisionlog.MemoryLog
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workflow.QueryTimeout = 5 * time.Second
	cfg.Workflow.ToolTimeout = 5 * time.Second
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, internal tools.Func) *fixture {
	t.Helper()
	reg := tools.NewRegistry(resilience.RetryConfig{
		MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2,
	}, time.Second)
	for _, name := range []string{tools.ToolVectorSearch, tools.ToolGraphQuery, tools.ToolHybridSearch} {
		require.NoError(t, reg.Register(&tools.Tool{Name: name, Description: name, Kind: tools.KindInternal, Run: internal}))
	}
	require.NoError(t, reg.Register(&tools.Tool{Name: "web_search", Description: "web", Kind: tools.KindExternal, Run: webSearch}))

	cls, err := classifier.New(cfg.Classifier, nil)
	require.NoError(t, err)
	f := &fixture{store: cache.NewMemoryStore(0), log: decisionlog.NewMemoryLog(0)}
	f.svc, err = NewServiceWith(cfg, Components{
		Classifier:   cls,
		Embedder:     embedding.NewHashEmbedder(384),
		Store:        f.store,
		Decisions:    f.log,
		Tools:        reg,
		Queue:        feedback.NewChannelQueue(100),
		CacheBackend: "memory",
		LogBackend:   "memory",
		QueueBackend: "memory",
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.Recorder().Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = f.svc.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) waitOutcome(t *testing.T, decisionID string) *types.DecisionRecord {
	t.Helper()
	var rec *types.DecisionRecord
	require.Eventually(t, func() bool {
		r, err := f.log.Get(context.Background(), decisionID)
		if err != nil || r.Outcome == "" {
			return false
		}
		rec = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return rec
}

func TestRouteAndExecute_SimpleLookup(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	ctx := context.Background()

	resp, err := f.svc.RouteAndExecute(ctx, QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowDirect, resp.Workflow)
	assert.Equal(t, types.ConfidenceHigh, resp.ConfidenceLevel)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, []string{"retrieve"}, resp.WorkflowPath)
	assert.False(t, resp.FromCache)
	assert.Equal(t, "default", resp.CacheNamespace)
	assert.False(t, resp.Partial)
	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Sources, "refund.md")
	assert.NotEmpty(t, resp.DecisionID)

	rec := f.waitOutcome(t, resp.DecisionID)
	assert.Equal(t, types.OutcomeSuccess, rec.Outcome)
	require.NotNil(t, rec.RunSummary)
	assert.Equal(t, 1, rec.RunSummary.Iterations)
}

func TestRouteAndExecute_ComparisonThenCacheHit(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	ctx := context.Background()
	q := "Compare our policies with California regulations"

	first, err := f.svc.RouteAndExecute(ctx, QueryRequest{Query: q})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowIterative, first.Workflow)
	assert.GreaterOrEqual(t, first.Iterations, 2)
	assert.LessOrEqual(t, first.Iterations, 3)
	assert.Equal(t, []string{"retrieve", "refine", "verify"}, first.WorkflowPath)
	assert.Contains(t, first.ToolsUsed, "web_search")
	assert.False(t, first.FromCache)

	second, err := f.svc.RouteAndExecute(ctx, QueryRequest{Query: q})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Workflow, second.Workflow)
	assert.NotEqual(t, first.DecisionID, second.DecisionID)
}

func TestRouteAndExecute_ToolsDisabled(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	off := false

	resp, err := f.svc.RouteAndExecute(context.Background(), QueryRequest{
		Query:       "Compare our policies with California regulations",
		EnableTools: &off,
	})
	require.NoError(t, err)
	assert.NotContains(t, resp.ToolsUsed, "web_search")
}

func TestRouteAndExecute_PartialOutcomeRecorded(t *testing.T) {
	f := newFixture(t, testConfig(), func(context.Context, tools.Args) ([]tools.Item, error) { return nil, nil })

	resp, err := f.svc.RouteAndExecute(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	assert.True(t, resp.Partial)

	rec := f.waitOutcome(t, resp.DecisionID)
	assert.Equal(t, types.OutcomePartial, rec.Outcome)
}

func TestRouteAndExecute_RepeatedFailuresDeactivateEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.QueryTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg, blocking)
	ctx := context.Background()
	q := "What is our refund policy?"

	var entryID string
	for i := 0; i < 3; i++ {
		resp, err := f.svc.RouteAndExecute(ctx, QueryRequest{Query: q})
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrTimeout)
		require.NotNil(t, resp)
		rec := f.waitOutcome(t, resp.DecisionID)
		assert.Equal(t, types.OutcomeFailure, rec.Outcome)
		if entryID == "" {
			entryID = rec.CacheEntryID
		}
	}
	require.NotEmpty(t, entryID)

	require.Eventually(t, func() bool {
		e, err := f.store.Get(ctx, entryID)
		return err == nil && !e.IsActive
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), f.svc.Recorder().Stats().Deactivated)
}

func TestRouteAndExecute_Validation(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	_, err := f.svc.RouteAndExecute(context.Background(), QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = f.svc.RouteAndExecute(context.Background(), QueryRequest{Query: "hello", ForceWorkflow: "bogus"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRouteAndExecute_Forced(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	resp, err := f.svc.RouteAndExecute(context.Background(), QueryRequest{
		Query:         "Compare our policies with California regulations",
		ForceWorkflow: types.WorkflowMultiAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowMultiAgent, resp.Workflow)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.NotEmpty(t, resp.Answer)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	ctx := context.Background()

	resp, err := f.svc.RouteAndExecute(ctx, QueryRequest{Query: "What is our refund policy?"})
	require.NoError(t, err)
	rec := f.waitOutcome(t, resp.DecisionID)

	rating := 4.0
	require.NoError(t, f.svc.SubmitFeedback(ctx, FeedbackRequest{DecisionID: resp.DecisionID, Rating: &rating}))
	require.Eventually(t, func() bool {
		r, err := f.log.Get(ctx, resp.DecisionID)
		return err == nil && r.Rating != nil
	}, 2*time.Second, 10*time.Millisecond)
	rated, err := f.log.Get(ctx, resp.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, *rated.Rating)
	assert.Equal(t, types.OutcomeSuccess, rated.Outcome, "the rating does not displace the outcome")
	e, err := f.store.Get(ctx, rec.CacheEntryID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Stats.RatingCount)

	st, err := f.log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Rated)
	assert.Equal(t, 4.0, st.AvgRating)

	// Both the outcome and the rating are already taken, so later writes fail up front.
	again := 1.0
	err = f.svc.SubmitFeedback(ctx, FeedbackRequest{DecisionID: resp.DecisionID, Outcome: types.OutcomeFailure, Rating: &again})
	assert.ErrorIs(t, err, types.ErrValidation)
	err = f.svc.SubmitFeedback(ctx, FeedbackRequest{DecisionID: resp.DecisionID, Rating: &again})
	assert.ErrorIs(t, err, types.ErrValidation)
	e, _ = f.store.Get(ctx, rec.CacheEntryID)
	assert.Equal(t, int64(0), e.Stats.Failures)
	assert.Equal(t, int64(1), e.Stats.RatingCount)

	err = f.svc.SubmitFeedback(ctx, FeedbackRequest{DecisionID: "missing", Outcome: types.OutcomeSuccess})
	assert.ErrorIs(t, err, types.ErrNotFound)

	bad := 9.0
	err = f.svc.SubmitFeedback(ctx, FeedbackRequest{DecisionID: resp.DecisionID, Rating: &bad})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRouteBatchAndStats(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	ctx := context.Background()

	items, err := f.svc.RouteBatch(ctx, []QueryRequest{
		{Query: "What is our refund policy?"},
		{Query: "What is our refund policy?"},
		{Query: ""},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Decision)
	assert.NotNil(t, items[2].Error)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Router.Requests)
	require.NotNil(t, st.Router.Decisions)
	assert.Equal(t, int64(2), st.Router.Decisions.Total)
}

func TestListTools(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	listing := f.svc.ListTools()
	assert.Len(t, listing.Internal, 3)
	require.Len(t, listing.External, 1)
	assert.Equal(t, "web_search", listing.External[0].Name)
}

type downStore struct{ cache.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	h := f.svc.Health(context.Background())
	assert.Equal(t, HealthOK, h.Status)
	assert.Equal(t, BackendUp, h.Backends["cache"].Status)
	assert.Equal(t, "memory", h.Backends["cache"].Backend)
	assert.Equal(t, BackendUp, h.Backends["embedding"].Status)
	assert.Equal(t, BackendDisabled, h.Backends["llm"].Status)
	assert.Equal(t, "3 internal, 1 external", h.Backends["tools"].Backend)

	cls, err := classifier.New(config.ClassifierConfig{}, nil)
	require.NoError(t, err)
	down, err := NewServiceWith(testConfig(), Components{
		Classifier:   cls,
		Embedder:     embedding.NewHashEmbedder(384),
		Store:        downStore{Store: cache.NewMemoryStore(0)},
		Tools:        tools.NewRegistry(resilience.RetryConfig{}, time.Second),
		CacheBackend: "postgres",
	})
	require.NoError(t, err)
	h = down.Health(context.Background())
	assert.Equal(t, HealthDegraded, h.Status)
	assert.Equal(t, BackendDown, h.Backends["cache"].Status)
	assert.Equal(t, "connection refused", h.Backends["cache"].Error)

	assert.Equal(t, HealthUnavailable, NewService(nil).Health(context.Background()).Status)
}

func TestApplyConfig(t *testing.T) {
	f := newFixture(t, testConfig(), documents)
	cfg := testConfig()
	cfg.Router.SimilarityThreshold = 0.95
	require.NoError(t, f.svc.ApplyConfig(cfg))
	assert.Equal(t, 0.95, f.svc.Router().Settings().SimilarityThreshold)

	cfg.Router.Rules = []config.RouteRule{{Name: "broken", When: "((", Workflow: "direct"}}
	assert.Error(t, f.svc.ApplyConfig(cfg))
	assert.Equal(t, 0.95, f.svc.Router().Settings().SimilarityThreshold)
}

func TestServiceNotInitialized(t *testing.T) {
	s := NewService(nil)
	assert.False(t, s.IsEnabled())
	_, err := s.RouteAndExecute(context.Background(), QueryRequest{Query: "hi"})
	assert.Equal(t, types.CodeInternal, types.CodeOf(err))
	assert.NoError(t, s.Shutdown(context.Background()))
}

func ExampleService_RouteAndExecute() {
	cfg := config.Default()
	cls, _ := classifier.New(cfg.Classifier, nil)
	reg := tools.NewRegistry(resilience.FromConfig(cfg.Tools.Retry), cfg.Workflow.ToolTimeout)
	_ = reg.Register(&tools.Tool{Name: tools.ToolVectorSearch, Kind: tools.KindInternal, Run: documents})
	svc, _ := NewServiceWith(cfg, Components{Classifier: cls, Tools: reg})
	defer svc.Shutdown(context.Background())

	resp, _ := svc.RouteAndExecute(context.Background(), QueryRequest{Query: "What is our refund policy?"})
	fmt.Println(resp.Workflow, resp.Iterations, resp.WorkflowPath)
	// Output: direct-retrieval 1 [retrieve]
}
