// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package llm provides text-generation adapters used by the classifier's deep pass
// and by answer synthesis. Every adapter reports failures as typed errors:
// throttling becomes types.RateLimited, everything else types.ModelUnavailable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/resilience"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// New builds the generator selected by cfg wrapped in capped retries.
// Provider "none" returns nil: callers fall back to extractive behaviour.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	var g Generator
	var err error
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		g = NewOpenAI(cfg.APIKey, cfg.Model)
	case "anthropic":
		g = NewAnthropic(cfg.APIKey, cfg.Model)
	case "google":
		g, err = NewGoogle(ctx, cfg.APIKey, cfg.Model)
	case "mock":
		g = NewMock(nil, "")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(g, cfg.MaxRetries), nil
}

// Classify converts a provider SDK error into the typed taxonomy.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return types.Cancelled(err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.Timeout(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.Timeout(provider, err)
	}

	status := statusOf(err)
	switch {
	case status == http.StatusTooManyRequests:
		return types.RateLimited(provider, err)
	case status >= 400 && status < 500:
		e := types.ModelUnavailable(err)
		e.Retryable = false
		return e
	}
	return types.ModelUnavailable(err)
}

func statusOf(err error) int {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var genErr genai.APIError
	if errors.As(err, &genErr) {
		return genErr.Code
	}
	var genErrPtr *genai.APIError
	if errors.As(err, &genErrPtr) {
		return genErrPtr.Code
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

// StatusError carries an HTTP status from providers without a typed SDK error.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("status %d", e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

type retryingGenerator struct {
	inner Generator
	cfg   resilience.RetryConfig
}

// WithRetry retries transient failures of g up to maxRetries extra times.
func WithRetry(g Generator, maxRetries int) Generator {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxRetries + 1
	cfg.InitialDelay = 250 * time.Millisecond
	cfg.MaxDelay = 4 * time.Second
	return &retryingGenerator{inner: g, cfg: cfg}
}

func (r *retryingGenerator) Name() string { return r.inner.Name() }

func (r *retryingGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	cfg := r.cfg
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.WithError(err).Warnf("llm %s attempt %d failed, retrying in %s", r.inner.Name(), attempt, delay)
	}
	_, err := resilience.Retry(ctx, cfg, func(ctx context.Context, _ int) error {
		text, errGen := r.inner.Generate(ctx, prompt, maxTokens)
		if errGen != nil {
			return Classify(r.inner.Name(), errGen)
		}
		out = text
		return nil
	})
	return out, err
}
