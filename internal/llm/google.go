// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Google generates text with the Gemini API.
type Google struct {
	client *genai.Client
	model  string
}

// NewGoogle creates an adapter.
func NewGoogle(ctx context.Context, apiKey, model string) (*Google, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &Google{client: client, model: model}, nil
}

func (a *Google) Name() string { return "google" }

func (a *Google) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	// Output length is left to the model default; maxTokens only bounds the other adapters.
	_ = maxTokens
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", Classify(a.Name(), fmt.Errorf("google API error: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", Classify(a.Name(), fmt.Errorf("google returned no candidates"))
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
