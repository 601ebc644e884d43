// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI generates text with the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an adapter. An empty apiKey defers to OPENAI_API_KEY.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (a *OpenAI) Name() string { return "openai" }

func (a *OpenAI) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", Classify(a.Name(), fmt.Errorf("openai API error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", Classify(a.Name(), fmt.Errorf("openai returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
