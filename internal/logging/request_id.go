// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the log field and gin context key carrying the request id.
const RequestIDKey = "request_id"

// RequestIDHeader is echoed back to clients and honoured when supplied.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a child context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id stored on ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewRequestID returns a short random id suitable for log correlation.
func NewRequestID() string {
	return uuid.NewString()[:8]
}

// FromContext returns a log entry tagged with the request id on ctx.
func FromContext(ctx context.Context) *log.Entry {
	entry := log.NewEntry(log.StandardLogger())
	if id := RequestID(ctx); id != "" {
		entry = entry.WithField(RequestIDKey, id)
	}
	return entry
}

// GinRequestID assigns a request id to every request, propagates it through the
// request context and writes one access line when the handler returns.
func GinRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = NewRequestID()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()

		FromContext(c.Request.Context()).WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond),
		}).Debugf("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}
