// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// StatusClientClosedRequest is the non-standard status for requests the caller abandoned.
const StatusClientClosedRequest = 499

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeTimeout:
		return http.StatusGatewayTimeout
	case types.CodeCancelled:
		return StatusClientClosedRequest
	case types.CodeModelUnavailable, types.CodeCacheUnavailable, types.CodeEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func typed(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	return types.NewError(types.CodeOf(err), err, "%s", err.Error())
}

// abortWithError writes {"error": {...}} plus any extra fields. Internal
// failures are logged with the request id; the cause never reaches the body.
func abortWithError(c *gin.Context, err error, extra gin.H) {
	e := typed(err)
	status := httpStatus(e.Code)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	}
	body := gin.H{"error": e}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
