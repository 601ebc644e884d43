// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider calls the OpenAI embeddings endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAIProvider builds a provider. An empty apiKey falls back to OPENAI_API_KEY
// via the client's own environment lookup.
func NewOpenAIProvider(apiKey, model string, dim int, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    dim,
	}
}

func (p *OpenAIProvider) Name() string   { return "openai:" + p.model }
func (p *OpenAIProvider) Dimension() int { return p.dim }

// Embed requests a single embedding truncated to the configured dimension.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dim > 0 {
		params.Dimensions = openai.Int(int64(p.dim))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, unavailable(fmt.Errorf("openai embeddings: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, unavailable(fmt.Errorf("openai embeddings: empty response"))
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return L2Normalize(vec), nil
}
