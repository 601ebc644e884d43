// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-features embedder. Words and character
// trigrams are hashed into signed buckets and the result is L2-normalized, so
// texts sharing vocabulary land close together. It needs no model or network
// and is the default for development and tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns an embedder producing vectors of length dim (384 when dim <= 0).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string   { return "hash" }
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed never fails except on cancellation.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(NormalizeQuery(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		h.add(vec, "w:"+w, 1.0)
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "t:"+string(runes[i:i+3]), 0.35)
		}
	}
	return L2Normalize(vec), nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "of": true,
	"to": true, "in": true, "and": true, "or": true, "for": true, "on": true,
	"with": true, "our": true, "we": true, "it": true, "be": true, "do": true,
}
