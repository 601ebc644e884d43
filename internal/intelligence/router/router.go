// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router decides which answer-production workflow handles a query.
// It tries, in order: override rules, the exact-hash fast path, the semantic
// cache, and finally a fresh decision from the classifier.
package router

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/classifier"
	"github.com/traylinx/switchAIRouter/internal/intelligence/confidence"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/telemetry"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// maxQueryRunes bounds accepted query length.
const maxQueryRunes = 8192

// Degraded modes reported in routing factors.
const (
	DegradedCacheBypass   = "cache_bypass"
	DegradedHeuristicOnly = "heuristic_only"
)

// Request is one routing request.
type Request struct {
	Query string
	// Context carries caller hints for classification and rules.
	Context map[string]any
	// ForceWorkflow skips the cache and pins the workflow.
	ForceWorkflow types.Workflow
}

// Router holds its collaborators explicitly. store and embedder may be nil, in
// which case the router runs without a cache.
type Router struct {
	classifier *classifier.Classifier
	embedder   embedding.Provider
	store      cache.Store
	decisions  decisionlog.Log
	now        func() time.Time

	mu       sync.RWMutex
	settings config.RouterConfig
	bounds   types.ConfidenceBounds
	rules    *RuleSet

	group      singleflight.Group
	stats      counters
	confidence *confidence.Scorer
}

// New builds a router. It fails only on invalid override rules.
func New(cfg config.RouterConfig, cls *classifier.Classifier, embedder embedding.Provider, store cache.Store, decisions decisionlog.Log) (*Router, error) {
	if cls == nil {
		return nil, fmt.Errorf("router needs a classifier")
	}
	if decisions == nil {
		decisions = decisionlog.NewMemoryLog(0)
	}
	r := &Router{
		classifier: cls,
		embedder:   embedder,
		store:      store,
		decisions:  decisions,
		now:        time.Now,
		confidence: confidence.NewScorer(),
	}
	if err := r.UpdateSettings(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateSettings swaps thresholds and rules. Invalid rules leave the old settings
// in place.
func (r *Router) UpdateSettings(cfg config.RouterConfig) error {
	c := config.Config{Router: cfg}
	c.SanitizeRouter()
	rules, err := CompileRules(c.Router.Rules)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.settings = c.Router
	r.bounds = types.ConfidenceBounds{High: c.Router.HighConfidence, Medium: c.Router.MediumConfidence}
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Settings returns the active settings.
func (r *Router) Settings() config.RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Router) snapshot() (config.RouterConfig, types.ConfidenceBounds, *RuleSet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings, r.bounds, r.rules
}

// Fingerprint returns the normalized query and its hash.
func Fingerprint(query string) (normalized, hash string) {
	normalized = embedding.NormalizeQuery(query)
	return normalized, fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(normalized)))
}

// Validate rejects queries no workflow can answer. It does no I/O.
func Validate(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return types.Validation("query must not be empty")
	}
	if len([]rune(q)) > maxQueryRunes {
		return types.Validation("query exceeds %d characters", maxQueryRunes)
	}
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return nil
		}
	}
	return types.Validation("query has no searchable content")
}

// Route returns the workflow for req. Cache and embedding failures degrade the
// decision rather than fail it; only validation and cancellation are errors.
func (r *Router) Route(ctx context.Context, req Request) (*types.Decision, error) {
	if err := Validate(req.Query); err != nil {
		return nil, err
	}
	start := r.now()
	settings, bounds, rules := r.snapshot()
	normalized, hash := Fingerprint(req.Query)
	r.stats.requests.Add(1)

	ctx, span := telemetry.Start(ctx, "router.route", attribute.String("router.namespace", settings.CacheNamespace))
	logger := logging.FromContext(ctx)

	d, entry, err := r.route(ctx, req, normalized, hash, settings, bounds, rules)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	d.QueryHash = hash
	d.Namespace = settings.CacheNamespace
	d.ConfidenceLevel = bounds.LevelFor(d.Confidence)
	d.LatencyMs = r.now().Sub(start).Milliseconds()
	r.confidence.Observe(d.Workflow, d.Confidence, d.ConfidenceLevel)

	rec := &types.DecisionRecord{
		QueryText:       req.Query,
		QueryHash:       hash,
		Workflow:        d.Workflow,
		ConfidenceScore: d.Confidence,
		ConfidenceLevel: d.ConfidenceLevel,
		FromCache:       d.CacheHit,
		Factors:         d.Factors,
	}
	if entry != nil {
		rec.CacheEntryID = entry.ID
		d.CacheEntryID = entry.ID
	}
	if err := r.decisions.Append(ctx, rec); err != nil {
		logger.WithError(err).Warn("failed to append routing decision")
	} else {
		d.DecisionID = rec.ID
	}

	span.SetAttributes(
		attribute.String("router.workflow", string(d.Workflow)),
		attribute.Bool("router.cache_hit", d.CacheHit),
		attribute.Float64("router.confidence", d.Confidence))
	telemetry.End(span, nil)
	logger.Debugf("routed to %s (confidence %.2f, cache hit %t, %s)", d.Workflow, d.Confidence, d.CacheHit, d.Factors.Reason)
	return d, nil
}

func (r *Router) route(ctx context.Context, req Request, normalized, hash string, settings config.RouterConfig, bounds types.ConfidenceBounds, rules *RuleSet) (*types.Decision, *types.CacheEntry, error) {
	logger := logging.FromContext(ctx)

	if req.ForceWorkflow != "" {
		if !req.ForceWorkflow.Valid() {
			return nil, nil, types.Validation("unknown workflow %q", req.ForceWorkflow)
		}
		r.stats.forced.Add(1)
		return &types.Decision{
			Workflow:       req.ForceWorkflow,
			Confidence:     1.0,
			Classification: r.classifier.HeuristicOnly(req.Query, req.Context),
			Factors:        types.RoutingFactors{Reason: "forced"},
		}, nil, nil
	}

	if rules.Len() > 0 {
		quick := r.classifier.HeuristicOnly(req.Query, req.Context)
		if name, wf, conf, ok := rules.Match(newRuleEnv(normalized, quick, req.Context)); ok {
			r.stats.ruleMatches.Add(1)
			return &types.Decision{
				Workflow:       wf,
				Confidence:     conf,
				Classification: quick,
				Factors:        types.RoutingFactors{Reason: "rule " + name, Rule: name, Features: quick.DetectedFeatures},
			}, nil, nil
		}
	}

	var degraded []string
	cacheUp := r.store != nil

	// Exact fingerprint first: no embedding needed.
	if cacheUp {
		entry, err := r.store.FindByHash(ctx, settings.CacheNamespace, hash)
		switch {
		case err != nil:
			if ctxErr := types.FromContext(ctx, "router"); ctxErr != nil {
				return nil, nil, ctxErr
			}
			r.stats.cacheErrors.Add(1)
			logger.WithError(err).Warn("cache lookup failed, bypassing cache")
			degraded = append(degraded, DegradedCacheBypass)
			cacheUp = false
		case entry != nil && negative(entry.Stats, settings):
			r.stats.negativeSkips.Add(1)
		case entry != nil:
			r.stats.exactHits.Add(1)
			return r.reuse(ctx, entry, 1.0, settings, bounds), entry, nil
		}
	}

	var vec []float32
	if r.embedder != nil {
		v, err := r.embedder.Embed(ctx, normalized)
		if err != nil {
			if ctxErr := types.FromContext(ctx, "router"); ctxErr != nil {
				return nil, nil, ctxErr
			}
			r.stats.embeddingErrors.Add(1)
			logger.WithError(err).Warn("embedding failed, falling back to heuristic classification")
			degraded = append(degraded, DegradedHeuristicOnly)
		} else {
			vec = v
		}
	} else {
		degraded = append(degraded, DegradedHeuristicOnly)
	}

	if cacheUp && vec != nil {
		matches, err := r.store.Nearest(ctx, settings.CacheNamespace, vec, settings.NearestK, settings.SimilarityThreshold)
		if err != nil {
			if ctxErr := types.FromContext(ctx, "router"); ctxErr != nil {
				return nil, nil, ctxErr
			}
			r.stats.cacheErrors.Add(1)
			logger.WithError(err).Warn("nearest-neighbour search failed, bypassing cache")
			degraded = append(degraded, DegradedCacheBypass)
			cacheUp = false
		}
		for _, m := range matches {
			if m.Similarity < settings.SimilarityThreshold {
				break
			}
			if negative(m.Entry.Stats, settings) {
				r.stats.negativeSkips.Add(1)
				continue
			}
			return r.reuse(ctx, m.Entry, m.Similarity, settings, bounds), m.Entry, nil
		}
	}

	r.stats.misses.Add(1)
	fresh, entry, err := r.freshShared(ctx, req, normalized, hash, vec, cacheUp, degraded, settings, bounds)
	if err != nil {
		return nil, nil, err
	}
	return fresh, entry, nil
}

// negative reports a predominantly bad outcome history with enough samples.
func negative(s types.OutcomeStats, settings config.RouterConfig) bool {
	if s.Total() >= settings.MinOutcomesForJudgement && s.FailureRate() > settings.NegativeOutcomeRatio {
		return true
	}
	return s.RatingCount >= settings.MinOutcomesForJudgement && s.AverageRating() < 2.5
}

// SimilarityTier buckets a cache hit.
func SimilarityTier(sim, threshold float64) string {
	switch {
	case sim > 0.98:
		return "exact"
	case sim >= 0.93:
		return "high"
	case sim >= threshold:
		return "medium"
	}
	return ""
}

// reuse turns a cache hit into a decision. An entry whose stored level no longer
// matches its score under the active bounds is rewritten first.
func (r *Router) reuse(ctx context.Context, entry *types.CacheEntry, sim float64, settings config.RouterConfig, bounds types.ConfidenceBounds) *types.Decision {
	r.stats.hits.Add(1)
	if level := bounds.LevelFor(entry.ConfidenceScore); entry.ConfidenceLevel != level {
		entry.ConfidenceLevel = level
		if err := r.store.Upsert(ctx, entry); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("failed to refresh cache entry confidence level")
		}
	}
	if err := r.store.IncrementHit(ctx, entry.ID, r.now().UTC()); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to record cache hit")
	}
	factors := entry.Factors
	factors.Reason = "cache hit"
	factors.Similarity = sim
	factors.SimilarityTier = SimilarityTier(sim, settings.SimilarityThreshold)
	factors.Degraded = nil
	return &types.Decision{
		Workflow:       entry.Workflow,
		Confidence:     entry.ConfidenceScore,
		CacheHit:       true,
		Classification: entry.Classification,
		Factors:        factors,
	}
}

type freshResult struct {
	decision *types.Decision
	entry    *types.CacheEntry
}

// freshShared collapses concurrent misses on one fingerprint into a single
// computation when singleflight is on. Each caller still gets its own copy.
func (r *Router) freshShared(ctx context.Context, req Request, normalized, hash string, vec []float32, cacheUp bool, degraded []string, settings config.RouterConfig, bounds types.ConfidenceBounds) (*types.Decision, *types.CacheEntry, error) {
	compute := func(ctx context.Context) (*freshResult, error) {
		return r.fresh(ctx, req, normalized, hash, vec, cacheUp, degraded, settings, bounds)
	}
	if !settings.Singleflight {
		res, err := compute(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res.decision, res.entry, nil
	}

	key := settings.CacheNamespace + "\x00" + hash
	ch := r.group.DoChan(key, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return compute(detached)
	})
	select {
	case <-ctx.Done():
		return nil, nil, types.FromContext(ctx, "router")
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		if res.Shared {
			r.stats.shared.Add(1)
		}
		fr := res.Val.(*freshResult)
		d := *fr.decision
		d.Factors.Degraded = append([]string(nil), fr.decision.Factors.Degraded...)
		return &d, fr.entry, nil
	}
}

func (r *Router) fresh(ctx context.Context, req Request, normalized, hash string, vec []float32, cacheUp bool, degraded []string, settings config.RouterConfig, bounds types.ConfidenceBounds) (*freshResult, error) {
	r.stats.fresh.Add(1)
	var cls types.Classification
	if vec == nil {
		cls = r.classifier.HeuristicOnly(req.Query, req.Context)
	} else {
		cls = r.classifier.Classify(ctx, req.Query, req.Context)
	}
	f := Decide(cls)
	f.Factors.Degraded = degraded

	d := &types.Decision{
		Workflow:       f.Workflow,
		Confidence:     f.Confidence,
		Classification: cls,
		Factors:        f.Factors,
	}
	if !cacheUp || vec == nil {
		return &freshResult{decision: d}, nil
	}

	now := r.now().UTC()
	entry := &types.CacheEntry{
		Namespace:       settings.CacheNamespace,
		QueryHash:       hash,
		QueryText:       normalized,
		Embedding:       vec,
		Workflow:        f.Workflow,
		ConfidenceScore: f.Confidence,
		ConfidenceLevel: bounds.LevelFor(f.Confidence),
		Classification:  cls,
		Factors:         f.Factors,
		LastUsedAt:      now,
		CreatedAt:       now,
		ExpiresAt:       now.Add(settings.CacheTTL),
		IsActive:        true,
	}
	if err := r.store.Upsert(ctx, entry); err != nil {
		r.stats.cacheErrors.Add(1)
		log.WithError(err).Warn("failed to store routing decision, continuing uncached")
		d.Factors.Degraded = append(append([]string(nil), degraded...), DegradedCacheBypass)
		return &freshResult{decision: d}, nil
	}
	return &freshResult{decision: d, entry: entry}, nil
}
