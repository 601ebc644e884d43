// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package embedding turns query text into vectors for the semantic cache.
// Providers: a deterministic feature-hashing embedder (no external service),
// an OpenAI embeddings client and a local ONNX MiniLM model. Any provider can be
// wrapped in a TTL cache.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Provider computes embeddings. Failures are reported as types.EmbeddingUnavailable.
type Provider interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension is the vector length Embed produces.
	Dimension() int

	// Name identifies the provider in health output.
	Name() string
}

// NormalizeQuery lowercases, trims and collapses whitespace. Hashing and embedding
// both operate on the normalized form so that cosmetic differences never split the cache.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// L2Normalize scales v to unit length in place and returns it.
func L2Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// New builds the provider selected by cfg, wrapped in the embedding cache when
// cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, apiKey string) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "", "hash":
		p = NewHashEmbedder(cfg.Dimension)
	case "openai":
		p = NewOpenAIProvider(apiKey, cfg.Model, cfg.Dimension)
	case "onnx":
		engine, err := NewONNXProvider(ONNXConfig{
			ModelPath:         cfg.ONNXModelPath,
			VocabPath:         cfg.ONNXVocabPath,
			SharedLibraryPath: cfg.ONNXSharedLib,
		})
		if err != nil {
			return nil, err
		}
		p = engine
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		p = NewCachedProvider(p, cfg.CacheSize, cfg.CacheTTL)
	}
	return p, nil
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return types.EmbeddingUnavailable(err)
}
