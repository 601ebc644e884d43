// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package intelligence is the orchestrator that owns every routing collaborator:
// classifier, embedding provider, semantic cache, decision log, tool registry,
// pipelines, feedback recorder and the async task manager. Backends are chosen
// from configuration in Initialize, or injected whole through NewServiceWith.
package intelligence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/classifier"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
	"github.com/traylinx/switchAIRouter/internal/intelligence/feedback"
	"github.com/traylinx/switchAIRouter/internal/intelligence/router"
	"github.com/traylinx/switchAIRouter/internal/llm"
	"github.com/traylinx/switchAIRouter/internal/pipeline"
	"github.com/traylinx/switchAIRouter/internal/store"
	"github.com/traylinx/switchAIRouter/internal/tools"
	"github.com/traylinx/switchAIRouter/internal/workflow"
)

// Components are the collaborators a Service runs on. Store, Embedder and
// Generator may be nil; the router and pipelines degrade accordingly.
type Components struct {
	Classifier *classifier.Classifier
	Embedder   embedding.Provider
	Store      cache.Store
	Decisions  decisionlog.Log
	Tools      *tools.Registry
	Generator  llm.Generator
	Queue      feedback.Queue

	// Backend labels reported by Health.
	CacheBackend string
	LogBackend   string
	QueueBackend string
}

// Service wires the router to the pipelines and the feedback loop.
type Service struct {
	cfg *config.Config

	mu      sync.RWMutex
	enabled bool

	comp      Components
	router    *router.Router
	engine    *workflow.Engine
	pipelines *pipeline.Set
	recorder  *feedback.Recorder
	tasks     *TaskManager

	now func() time.Time
}

// NewService creates a service that builds its backends from cfg in Initialize.
func NewService(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{cfg: cfg, now: time.Now}
}

// NewServiceWith creates a ready service around injected components.
func NewServiceWith(cfg *config.Config, comp Components) (*Service, error) {
	s := NewService(cfg)
	if err := s.wire(comp); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize builds every backend from configuration, falling back to the
// in-memory variant when a networked cache or queue is unreachable.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if enabled {
		return nil
	}

	log.Info("Initializing routing services...")
	cfg := s.cfg
	var comp Components

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if gen != nil {
		comp.Generator = gen
		log.Infof("LLM generator ready: %s", gen.Name())
	} else {
		log.Info("No LLM configured, synthesis is extractive")
	}

	classifierGen := comp.Generator
	if !cfg.Classifier.LLMEnabled {
		classifierGen = nil
	}
	if comp.Classifier, err = classifier.New(cfg.Classifier, classifierGen); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	if comp.Embedder, err = embedding.New(cfg.Embedding, cfg.LLM.APIKey); err != nil {
		log.Warnf("Failed to create %s embedding provider, using hash embeddings: %v", cfg.Embedding.Provider, err)
		comp.Embedder = embedding.NewCachedProvider(embedding.NewHashEmbedder(cfg.Embedding.Dimension), cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	}
	log.Infof("Embedding provider ready: %s (dimension %d)", comp.Embedder.Name(), comp.Embedder.Dimension())

	comp.Store, comp.CacheBackend = s.openCache(ctx)

	if comp.Decisions, comp.LogBackend, err = s.openDecisionLog(ctx); err != nil {
		return err
	}

	corpus := tools.NewMemoryCorpus(comp.Embedder)
	if cfg.Tools.CorpusFile != "" {
		if err = corpus.LoadCorpusFile(ctx, cfg.Tools.CorpusFile); err != nil {
			log.Warnf("Failed to load corpus: %v", err)
		}
	}
	client := &http.Client{Timeout: cfg.Workflow.ToolTimeout}
	if comp.Tools, err = tools.Build(cfg.Tools, cfg.Workflow.ToolTimeout, corpus, client); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	comp.Queue, comp.QueueBackend = s.openQueue(ctx)

	if err = s.wire(comp); err != nil {
		return err
	}
	s.recorder.Start(context.WithoutCancel(ctx))
	log.Info("Routing services initialized successfully")
	return nil
}

func (s *Service) openCache(ctx context.Context) (cache.Store, string) {
	cfg := s.cfg
	if cfg.Cache.Backend == "postgres" {
		pg, err := store.NewPostgresCacheStore(ctx, store.PostgresCacheConfig{
			DSN:       cfg.Cache.PostgresDSN,
			Dimension: cfg.Embedding.Dimension,
		})
		if err == nil {
			if err = pg.EnsureSchema(ctx); err == nil {
				log.Info("Semantic cache: postgres")
				return cache.WithTracing(pg, "postgres"), "postgres"
			}
			_ = pg.Close()
		}
		log.Warnf("Postgres cache unavailable, using the memory cache: %v", err)
	}
	log.Infof("Semantic cache: memory (max %d entries)", cfg.Cache.MaxEntries)
	return cache.WithTracing(cache.NewMemoryStore(cfg.Cache.MaxEntries), "memory"), "memory"
}

func (s *Service) openDecisionLog(ctx context.Context) (decisionlog.Log, string, error) {
	cfg := s.cfg
	if cfg.DecisionLog.Backend != "sqlite" {
		return decisionlog.NewMemoryLog(0), "memory", nil
	}
	l, err := decisionlog.NewSQLiteLog(cfg.DecisionLog.SQLitePath, cfg.DecisionLog.RetentionDays)
	if err != nil {
		return nil, "", fmt.Errorf("decision log: %w", err)
	}
	if err = l.Initialize(ctx); err != nil {
		_ = l.Close()
		return nil, "", fmt.Errorf("decision log: %w", err)
	}
	log.Infof("Decision log: sqlite (%s, retention %d days)", cfg.DecisionLog.SQLitePath, cfg.DecisionLog.RetentionDays)
	return l, "sqlite", nil
}

func (s *Service) openQueue(ctx context.Context) (feedback.Queue, string) {
	cfg := s.cfg.Feedback
	if cfg.Queue == "redis" {
		q, err := feedback.DialRedisQueue(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err == nil {
			log.Infof("Feedback queue: redis (%s)", cfg.RedisAddr)
			return q, "redis"
		}
		log.Warnf("Redis queue unavailable, using the in-process queue: %v", err)
	}
	return feedback.NewChannelQueue(cfg.BufferSize), "memory"
}

func (s *Service) wire(comp Components) error {
	if comp.Classifier == nil {
		return errors.New("service needs a classifier")
	}
	if comp.Tools == nil {
		return errors.New("service needs a tool registry")
	}
	if comp.Decisions == nil {
		comp.Decisions = decisionlog.NewMemoryLog(0)
		comp.LogBackend = "memory"
	}
	if comp.Queue == nil {
		comp.Queue = feedback.NewChannelQueue(s.cfg.Feedback.BufferSize)
		comp.QueueBackend = "memory"
	}

	r, err := router.New(s.cfg.Router, comp.Classifier, comp.Embedder, comp.Store, comp.Decisions)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	engine := workflow.NewEngine(comp.Tools, comp.Generator, s.cfg.Workflow)
	if s.cfg.LLM.MaxTokens > 0 {
		engine.AnswerMaxTokens = s.cfg.LLM.MaxTokens
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.comp = comp
	s.router = r
	s.engine = engine
	s.pipelines = pipeline.NewSet(engine, 0)
	s.recorder = feedback.NewRecorder(comp.Decisions, comp.Store, comp.Queue, s.cfg.Feedback)
	s.tasks = NewTaskManager(s, s.cfg.Tasks)
	s.enabled = true
	return nil
}

// IsEnabled reports whether the service has been wired.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Router returns the routing component.
func (s *Service) Router() *router.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Recorder returns the feedback recorder.
func (s *Service) Recorder() *feedback.Recorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

// Tasks returns the async task manager.
func (s *Service) Tasks() *TaskManager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks
}

// ApplyConfig takes a reloaded configuration. Only router thresholds and rules
// are hot; everything else needs a restart.
func (s *Service) ApplyConfig(cfg *config.Config) error {
	r := s.Router()
	if r == nil {
		return errors.New("service not initialized")
	}
	if err := r.UpdateSettings(cfg.Router); err != nil {
		return err
	}
	log.Infof("router settings reloaded (similarity threshold %.2f, %d rules)", cfg.Router.SimilarityThreshold, len(cfg.Router.Rules))
	return nil
}

// Shutdown stops the task manager and the feedback consumer, then closes the
// backends in reverse order.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	s.enabled = false
	comp, recorder, tasks := s.comp, s.recorder, s.tasks
	s.mu.Unlock()

	log.Info("Shutting down routing services...")
	var shutdownErrors []error

	tasks.Shutdown(ctx)
	recorder.Stop()
	if err := comp.Queue.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("feedback queue: %w", err))
	}
	if err := comp.Decisions.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("decision log: %w", err))
	}
	if comp.Store != nil {
		if err := comp.Store.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("cache: %w", err))
		}
	}
	if closer, ok := comp.Embedder.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("embedding: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		log.Warnf("Routing services shutdown completed with %d errors", len(shutdownErrors))
		return errors.Join(shutdownErrors...)
	}
	log.Info("Routing services shut down successfully")
	return nil
}

// GetConfig returns the configuration the service was built from.
func (s *Service) GetConfig() *config.Config {
	return s.cfg
}
