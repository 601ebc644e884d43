// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the switchAIRouter server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to router thresholds, store backends, tool definitions, model providers
// and the feedback loop.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files. Defaults to ./logs.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxSizeMB caps a single log file before rotation.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb" json:"logs-max-size-mb"`

	Router      RouterConfig      `yaml:"router" json:"router"`
	Classifier  ClassifierConfig  `yaml:"classifier" json:"classifier"`
	Embedding   EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	DecisionLog DecisionLogConfig `yaml:"decision-log" json:"decision-log"`
	Workflow    WorkflowConfig    `yaml:"workflow" json:"workflow"`
	Tools       ToolsConfig       `yaml:"tools" json:"tools"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Feedback    FeedbackConfig    `yaml:"feedback" json:"feedback"`
	Tasks       TasksConfig       `yaml:"tasks" json:"tasks"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// RouterConfig holds the semantic cache router thresholds. Every value here is a
// calibration point and may be hot-reloaded.
type RouterConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a cache hit.
	SimilarityThreshold float64 `yaml:"similarity-threshold" json:"similarity-threshold"`
	// HighConfidence is the lower bound of the "high" bucket.
	HighConfidence float64 `yaml:"high-confidence" json:"high-confidence"`
	// MediumConfidence is the lower bound of the "medium" bucket.
	MediumConfidence float64 `yaml:"medium-confidence" json:"medium-confidence"`
	// CacheTTL is how long a fresh decision stays reusable.
	CacheTTL time.Duration `yaml:"cache-ttl" json:"cache-ttl"`
	// NearestK is how many neighbours are fetched per lookup.
	NearestK int `yaml:"nearest-k" json:"nearest-k"`
	// NegativeOutcomeRatio marks an entry's history as predominantly negative.
	NegativeOutcomeRatio float64 `yaml:"negative-outcome-ratio" json:"negative-outcome-ratio"`
	// MinOutcomesForJudgement is the sample size below which history is ignored.
	MinOutcomesForJudgement int64 `yaml:"min-outcomes-for-judgement" json:"min-outcomes-for-judgement"`
	// CacheNamespace partitions the cache between tenants or deployments.
	CacheNamespace string `yaml:"cache-namespace" json:"cache-namespace"`
	// Singleflight collapses concurrent fresh decisions for the same fingerprint.
	Singleflight bool `yaml:"singleflight" json:"singleflight"`
	// Rules are expression overrides evaluated before the cache.
	Rules []RouteRule `yaml:"rules" json:"rules"`
}

// RouteRule pins a workflow when its expression matches.
// The expression sees: query, length, words, complexity, category, features, context.
type RouteRule struct {
	Name       string  `yaml:"name" json:"name"`
	When       string  `yaml:"when" json:"when"`
	Workflow   string  `yaml:"workflow" json:"workflow"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// ClassifierConfig controls the heuristic and model-backed classification passes.
type ClassifierConfig struct {
	// LLMEnabled allows the deeper model-backed pass for ambiguous queries.
	LLMEnabled bool `yaml:"llm-enabled" json:"llm-enabled"`
	// AmbiguityMargin is the category score gap below which a query is ambiguous.
	AmbiguityMargin float64 `yaml:"ambiguity-margin" json:"ambiguity-margin"`
	// PatternsFile optionally replaces the built-in feature patterns.
	PatternsFile string `yaml:"patterns-file" json:"patterns-file"`
	// Timeout bounds the model-backed pass.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "hash", "openai", "onnx".
	Provider  string `yaml:"provider" json:"provider"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	Model     string `yaml:"model" json:"model"`
	// CacheTTL and CacheSize bound the in-process embedding cache.
	CacheTTL  time.Duration `yaml:"cache-ttl" json:"cache-ttl"`
	CacheSize int           `yaml:"cache-size" json:"cache-size"`
	// ONNXModelPath and ONNXSharedLib locate the MiniLM model for the onnx provider.
	ONNXModelPath string `yaml:"onnx-model-path" json:"onnx-model-path"`
	ONNXVocabPath string `yaml:"onnx-vocab-path" json:"onnx-vocab-path"`
	ONNXSharedLib string `yaml:"onnx-shared-lib" json:"onnx-shared-lib"`
}

// CacheConfig selects the semantic cache backend.
type CacheConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string `yaml:"backend" json:"backend"`
	PostgresDSN string `yaml:"postgres-dsn" json:"-"`
	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"max-entries" json:"max-entries"`
}

// DecisionLogConfig selects the decision log backend.
type DecisionLogConfig struct {
	// Backend is "memory" or "sqlite".
	Backend       string `yaml:"backend" json:"backend"`
	SQLitePath    string `yaml:"sqlite-path" json:"sqlite-path"`
	RetentionDays int    `yaml:"retention-days" json:"retention-days"`
}

// WorkflowConfig bounds the iterative refinement state machine.
type WorkflowConfig struct {
	MaxIterations int           `yaml:"max-iterations" json:"max-iterations"`
	HardCeiling   int           `yaml:"hard-ceiling" json:"hard-ceiling"`
	QueryTimeout  time.Duration `yaml:"query-timeout" json:"query-timeout"`
	ToolTimeout   time.Duration `yaml:"tool-timeout" json:"tool-timeout"`
	// MinEvidence is the number of relevant passages that counts as sufficient.
	MinEvidence int `yaml:"min-evidence" json:"min-evidence"`
	// MinRelevance filters out weak passages.
	MinRelevance float64 `yaml:"min-relevance" json:"min-relevance"`
	// SynthesisTokenBudget caps evidence tokens passed to synthesis.
	SynthesisTokenBudget int `yaml:"synthesis-token-budget" json:"synthesis-token-budget"`
}

// RetryConfig configures exponential backoff for transient tool failures.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max-attempts" json:"max-attempts"`
	InitialDelay  time.Duration `yaml:"initial-delay" json:"initial-delay"`
	MaxDelay      time.Duration `yaml:"max-delay" json:"max-delay"`
	BackoffFactor float64       `yaml:"backoff-factor" json:"backoff-factor"`
	// Jitter spreads retries of concurrent callers apart.
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// ToolsConfig declares the tool registry contents.
type ToolsConfig struct {
	Retry    RetryConfig          `yaml:"retry" json:"retry"`
	Internal []InternalToolConfig `yaml:"internal" json:"internal"`
	External []ExternalToolConfig `yaml:"external" json:"external"`
	// CorpusFile seeds the in-memory retriever with YAML documents.
	CorpusFile string `yaml:"corpus-file" json:"corpus-file"`
}

// InternalToolConfig declares an in-process tool.
type InternalToolConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	// Kind is "vector", "graph", "hybrid" or "lua".
	Kind string `yaml:"kind" json:"kind"`
	// Script is the Lua source (inline) or a path ending in .lua, for kind "lua".
	Script    string        `yaml:"script" json:"-"`
	RateLimit float64       `yaml:"rate-limit" json:"rate-limit"`
	Burst     int           `yaml:"burst" json:"burst"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// ExternalToolConfig declares an HTTP JSON tool.
type ExternalToolConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	URL         string            `yaml:"url" json:"url"`
	Method      string            `yaml:"method" json:"method"`
	Headers     map[string]string `yaml:"headers" json:"-"`
	// QueryPath is the sjson path the query is written to (POST) or the query parameter name (GET).
	QueryPath string `yaml:"query-path" json:"query-path"`
	// ResultsPath, TitlePath, ContentPath and SourcePath are gjson paths into the response.
	ResultsPath string        `yaml:"results-path" json:"results-path"`
	TitlePath   string        `yaml:"title-path" json:"title-path"`
	ContentPath string        `yaml:"content-path" json:"content-path"`
	SourcePath  string        `yaml:"source-path" json:"source-path"`
	RateLimit   float64       `yaml:"rate-limit" json:"rate-limit"`
	Burst       int           `yaml:"burst" json:"burst"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	// Provider is one of "none", "openai", "anthropic", "google", "mock".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	APIKey     string `yaml:"api-key" json:"-"`
	MaxTokens  int    `yaml:"max-tokens" json:"max-tokens"`
	MaxRetries int    `yaml:"max-retries" json:"max-retries"`
}

// FeedbackConfig controls the outcome queue and deactivation policy.
type FeedbackConfig struct {
	// Queue is "memory" or "redis".
	Queue      string `yaml:"queue" json:"queue"`
	RedisAddr  string `yaml:"redis-addr" json:"redis-addr"`
	RedisKey   string `yaml:"redis-key" json:"redis-key"`
	BufferSize int    `yaml:"buffer-size" json:"buffer-size"`
	// FailureRateThreshold deactivates an entry once its failure rate exceeds it.
	FailureRateThreshold float64 `yaml:"failure-rate-threshold" json:"failure-rate-threshold"`
	// ConsecutiveFailures deactivates an entry after this many failures in a row.
	ConsecutiveFailures int64 `yaml:"consecutive-failures" json:"consecutive-failures"`
	// MinSamples is the outcome count required before the failure rate applies.
	MinSamples int64 `yaml:"min-samples" json:"min-samples"`
}

// TasksConfig bounds asynchronous query execution.
type TasksConfig struct {
	MaxConcurrent int           `yaml:"max-concurrent" json:"max-concurrent"`
	Retention     time.Duration `yaml:"retention" json:"retention"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service-name" json:"service-name"`
}

// Default returns a Config populated with every default.
func Default() *Config {
	var cfg Config
	cfg.Port = 8320
	cfg.LogDir = "./logs"
	cfg.LogsMaxSizeMB = 10

	cfg.Router.SimilarityThreshold = 0.85
	cfg.Router.HighConfidence = 0.8
	cfg.Router.MediumConfidence = 0.5
	cfg.Router.CacheTTL = 7 * 24 * time.Hour
	cfg.Router.NearestK = 5
	cfg.Router.NegativeOutcomeRatio = 0.5
	cfg.Router.MinOutcomesForJudgement = 3
	cfg.Router.CacheNamespace = "default"
	cfg.Router.Singleflight = true

	cfg.Classifier.AmbiguityMargin = 0.1
	cfg.Classifier.Timeout = 5 * time.Second

	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 384
	cfg.Embedding.CacheTTL = time.Hour
	cfg.Embedding.CacheSize = 10000

	cfg.Cache.Backend = "memory"
	cfg.Cache.MaxEntries = 10000

	cfg.DecisionLog.Backend = "memory"
	cfg.DecisionLog.SQLitePath = "./data/decisions.db"
	cfg.DecisionLog.RetentionDays = 90

	cfg.Workflow.MaxIterations = 3
	cfg.Workflow.HardCeiling = 5
	cfg.Workflow.QueryTimeout = 60 * time.Second
	cfg.Workflow.ToolTimeout = 10 * time.Second
	cfg.Workflow.MinEvidence = 3
	cfg.Workflow.MinRelevance = 0.3
	cfg.Workflow.SynthesisTokenBudget = 2048

	cfg.Tools.Retry = RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2.0, Jitter: true}

	cfg.LLM.Provider = "none"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.MaxRetries = 2

	cfg.Feedback.Queue = "memory"
	cfg.Feedback.RedisKey = "router:outcomes"
	cfg.Feedback.BufferSize = 1000
	cfg.Feedback.FailureRateThreshold = 0.6
	cfg.Feedback.ConsecutiveFailures = 3
	cfg.Feedback.MinSamples = 5

	cfg.Tasks.MaxConcurrent = 16
	cfg.Tasks.Retention = time.Hour

	cfg.Telemetry.ServiceName = "switchai-router"
	return &cfg
}

// LoadConfig reads YAML from configFile. A missing file is an error.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := Default()
			cfg.Sanitize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and sanitizes the result.
func Parse(data []byte) (*Config, error) {
	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment-provided secrets and endpoints.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("PGSTORE_DSN"); ok && v != "" {
		cfg.Cache.PostgresDSN = v
		if cfg.Cache.Backend == "memory" {
			cfg.Cache.Backend = "postgres"
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		cfg.Feedback.RedisAddr = v
	}
	if cfg.LLM.APIKey == "" {
		key := ""
		switch cfg.LLM.Provider {
		case "openai":
			key = "OPENAI_API_KEY"
		case "anthropic":
			key = "ANTHROPIC_API_KEY"
		case "google":
			key = "GEMINI_API_KEY"
		}
		if key != "" {
			if v, ok := lookup(key); ok {
				cfg.LLM.APIKey = v
			}
		}
	}
}

// Validate rejects combinations Sanitize cannot repair.
func (cfg *Config) Validate() error {
	if cfg.Cache.Backend == "postgres" && cfg.Cache.PostgresDSN == "" {
		return errors.New("cache backend postgres requires postgres-dsn")
	}
	if cfg.Feedback.Queue == "redis" && cfg.Feedback.RedisAddr == "" {
		return errors.New("feedback queue redis requires redis-addr")
	}
	for _, r := range cfg.Router.Rules {
		if r.When == "" || r.Workflow == "" {
			return fmt.Errorf("router rule %q requires when and workflow", r.Name)
		}
	}
	return nil
}

// Sanitize clamps out-of-range values back to their defaults.
func (cfg *Config) Sanitize() {
	cfg.SanitizeRouter()
	cfg.SanitizeWorkflow()
	cfg.SanitizeTools()
	cfg.SanitizeFeedback()

	cfg.Embedding.Provider = strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider))
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = 384
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	cfg.DecisionLog.Backend = strings.ToLower(strings.TrimSpace(cfg.DecisionLog.Backend))
	if cfg.DecisionLog.Backend == "" {
		cfg.DecisionLog.Backend = "memory"
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "none"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = 0
	}
	if cfg.Tasks.MaxConcurrent <= 0 {
		cfg.Tasks.MaxConcurrent = 16
	}
	if cfg.Tasks.Retention <= 0 {
		cfg.Tasks.Retention = time.Hour
	}
	if cfg.LogsMaxSizeMB <= 0 {
		cfg.LogsMaxSizeMB = 10
	}
}

// SanitizeRouter keeps the router thresholds ordered and inside [0,1].
func (cfg *Config) SanitizeRouter() {
	r := &cfg.Router
	if r.SimilarityThreshold <= 0 || r.SimilarityThreshold > 1 {
		r.SimilarityThreshold = 0.85
	}
	if r.HighConfidence <= 0 || r.HighConfidence > 1 {
		r.HighConfidence = 0.8
	}
	if r.MediumConfidence <= 0 || r.MediumConfidence >= r.HighConfidence {
		r.MediumConfidence = r.HighConfidence * 0.625
	}
	if r.CacheTTL <= 0 {
		r.CacheTTL = 7 * 24 * time.Hour
	}
	if r.NearestK <= 0 {
		r.NearestK = 5
	}
	if r.NegativeOutcomeRatio <= 0 || r.NegativeOutcomeRatio > 1 {
		r.NegativeOutcomeRatio = 0.5
	}
	if r.MinOutcomesForJudgement <= 0 {
		r.MinOutcomesForJudgement = 3
	}
	r.CacheNamespace = strings.TrimSpace(r.CacheNamespace)
	if r.CacheNamespace == "" {
		r.CacheNamespace = "default"
	}
}

// SanitizeWorkflow enforces max-iterations <= hard-ceiling <= 5.
func (cfg *Config) SanitizeWorkflow() {
	w := &cfg.Workflow
	if w.HardCeiling <= 0 || w.HardCeiling > 5 {
		w.HardCeiling = 5
	}
	if w.MaxIterations <= 0 {
		w.MaxIterations = 3
	}
	if w.MaxIterations > w.HardCeiling {
		w.MaxIterations = w.HardCeiling
	}
	if w.QueryTimeout <= 0 {
		w.QueryTimeout = 60 * time.Second
	}
	if w.ToolTimeout <= 0 {
		w.ToolTimeout = 10 * time.Second
	}
	if w.MinEvidence <= 0 {
		w.MinEvidence = 3
	}
	if w.MinRelevance < 0 || w.MinRelevance >= 1 {
		w.MinRelevance = 0.3
	}
	if w.SynthesisTokenBudget <= 0 {
		w.SynthesisTokenBudget = 2048
	}
}

// SanitizeTools normalizes tool declarations and drops entries without a name.
func (cfg *Config) SanitizeTools() {
	r := &cfg.Tools.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 100 * time.Millisecond
	}
	if r.MaxDelay < r.InitialDelay {
		r.MaxDelay = 2 * time.Second
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = 2.0
	}

	internal := cfg.Tools.Internal[:0]
	for _, t := range cfg.Tools.Internal {
		t.Name = strings.TrimSpace(t.Name)
		t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
		if t.Name == "" {
			continue
		}
		internal = append(internal, t)
	}
	cfg.Tools.Internal = internal

	external := cfg.Tools.External[:0]
	for _, t := range cfg.Tools.External {
		t.Name = strings.TrimSpace(t.Name)
		t.URL = strings.TrimSpace(t.URL)
		if t.Name == "" || t.URL == "" {
			continue
		}
		t.Method = strings.ToUpper(strings.TrimSpace(t.Method))
		if t.Method == "" {
			t.Method = "GET"
		}
		if t.QueryPath == "" {
			t.QueryPath = "q"
		}
		t.Headers = NormalizeHeaders(t.Headers)
		external = append(external, t)
	}
	cfg.Tools.External = external
}

// SanitizeFeedback fills the deactivation policy.
func (cfg *Config) SanitizeFeedback() {
	f := &cfg.Feedback
	f.Queue = strings.ToLower(strings.TrimSpace(f.Queue))
	if f.Queue == "" {
		f.Queue = "memory"
	}
	if f.RedisKey == "" {
		f.RedisKey = "router:outcomes"
	}
	if f.BufferSize <= 0 {
		f.BufferSize = 1000
	}
	if f.FailureRateThreshold <= 0 || f.FailureRateThreshold > 1 {
		f.FailureRateThreshold = 0.6
	}
	if f.ConsecutiveFailures <= 0 {
		f.ConsecutiveFailures = 3
	}
	if f.MinSamples <= 0 {
		f.MinSamples = 5
	}
}

// NormalizeHeaders trims header keys and values and drops empty entries.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		clean[key] = val
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
