// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resilience provides capped exponential backoff for transient failures
// of tools and model providers.
package resilience

import (
	"context"
	"math"
	"time"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// Retryable decides whether an error is worth another attempt.
	// Defaults to types.IsRetryable.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig provides the standard three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// FromConfig converts the YAML retry section.
func FromConfig(c config.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts:   c.MaxAttempts,
		InitialDelay:  c.InitialDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: c.BackoffFactor,
		JitterEnabled: c.Jitter,
	}
}

// Delay returns the backoff before attempt n+1, given n failed attempts (n >= 1).
func (c RetryConfig) Delay(n int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < n; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}

// Backoff is Delay(n) shifted by up to 10% when jitter is enabled, so callers
// retrying in lockstep drift apart.
func (c RetryConfig) Backoff(n int) time.Duration {
	delay := c.Delay(n)
	if c.JitterEnabled {
		delay += time.Duration(float64(delay) * 0.1 * math.Sin(float64(n)))
	}
	return delay
}

// Retry runs fn until it succeeds, fails permanently, exhausts MaxAttempts or ctx ends.
// It returns the number of attempts made and the last error. Permanent errors are
// returned after a single attempt. If ctx ends during a backoff sleep the context
// error is returned as a typed timeout or cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) (int, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = types.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := types.FromContext(ctx, "retry"); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !retryable(lastErr) || attempt == cfg.MaxAttempts {
			return attempt, lastErr
		}

		delay := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}
	return cfg.MaxAttempts, lastErr
}
