// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the stable, caller-visible identifier of a failure class.
type ErrorCode string

const (
	CodeValidation           ErrorCode = "validation_error"
	CodeCacheUnavailable     ErrorCode = "cache_unavailable"
	CodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	CodeToolError            ErrorCode = "tool_error"
	CodeModelUnavailable     ErrorCode = "model_unavailable"
	CodeRateLimited          ErrorCode = "rate_limited"
	CodeTimeout              ErrorCode = "timeout"
	CodeCancelled            ErrorCode = "cancelled"
	CodeNotFound             ErrorCode = "not_found"
	CodeInternal             ErrorCode = "internal_error"
)

// Sentinels for errors.Is matching. Any *Error with the same code matches.
var (
	ErrValidation           = &Error{Code: CodeValidation}
	ErrCacheUnavailable     = &Error{Code: CodeCacheUnavailable}
	ErrEmbeddingUnavailable = &Error{Code: CodeEmbeddingUnavailable}
	ErrToolError            = &Error{Code: CodeToolError}
	ErrModelUnavailable     = &Error{Code: CodeModelUnavailable}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrCancelled            = &Error{Code: CodeCancelled}
	ErrNotFound             = &Error{Code: CodeNotFound}
)

// Error is the typed error carried across component boundaries.
type Error struct {
	// Code is the stable failure class.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Retryable marks transient failures that a caller may retry.
	Retryable bool `json:"retryable"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an *Error.
func NewError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err, Retryable: defaultRetryable(code)}
}

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case CodeCacheUnavailable, CodeEmbeddingUnavailable, CodeModelUnavailable, CodeRateLimited, CodeTimeout:
		return true
	}
	return false
}

// Validation reports a malformed request rejected before any I/O.
func Validation(format string, args ...any) *Error {
	return NewError(CodeValidation, nil, format, args...)
}

// CacheUnavailable wraps a vector store failure.
func CacheUnavailable(err error) *Error {
	return NewError(CodeCacheUnavailable, err, "semantic cache unavailable")
}

// EmbeddingUnavailable wraps an embedding provider failure.
func EmbeddingUnavailable(err error) *Error {
	return NewError(CodeEmbeddingUnavailable, err, "embedding provider unavailable")
}

// ToolError wraps a tool failure. transient controls whether the invocation layer retries it.
func ToolError(tool string, transient bool, err error) *Error {
	e := NewError(CodeToolError, err, "tool %s failed", tool)
	e.Retryable = transient
	return e
}

// ModelUnavailable wraps a text-generation provider failure.
func ModelUnavailable(err error) *Error {
	return NewError(CodeModelUnavailable, err, "text generation unavailable")
}

// RateLimited reports a throttled call.
func RateLimited(subject string, err error) *Error {
	return NewError(CodeRateLimited, err, "%s rate limited", subject)
}

// Timeout reports an exceeded deadline.
func Timeout(subject string, err error) *Error {
	return NewError(CodeTimeout, err, "%s timed out", subject)
}

// Cancelled reports a revoked request.
func Cancelled(err error) *Error {
	return NewError(CodeCancelled, err, "request cancelled")
}

// NotFound reports an unknown identifier.
func NotFound(kind, id string) *Error {
	return NewError(CodeNotFound, nil, "%s %s not found", kind, id)
}

// CodeOf extracts the code of err. Context errors map onto timeout and cancelled,
// anything unrecognised is internal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeInternal
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// FromContext converts a context error into the matching typed error.
func FromContext(ctx context.Context, subject string) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(subject, err)
	default:
		return Cancelled(err)
	}
}
