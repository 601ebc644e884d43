// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/switchAIRouter/internal/intelligence"
	"github.com/traylinx/switchAIRouter/internal/intelligence/router"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// queryBody is the wire form of a query. force_workflow accepts the aliases
// understood by types.ParseWorkflow.
type queryBody struct {
	Query         string            `json:"query"`
	MaxIterations int               `json:"max_iterations"`
	EnableTools   *bool             `json:"enable_tools"`
	Context       map[string]string `json:"context"`
	ForceWorkflow string            `json:"force_workflow"`
}

func (b queryBody) request() (intelligence.QueryRequest, error) {
	req := intelligence.QueryRequest{
		Query:         b.Query,
		MaxIterations: b.MaxIterations,
		EnableTools:   b.EnableTools,
		Context:       b.Context,
	}
	if b.ForceWorkflow != "" {
		w, err := types.ParseWorkflow(b.ForceWorkflow)
		if err != nil {
			return req, types.Validation("%s", err.Error())
		}
		req.ForceWorkflow = w
	}
	if b.MaxIterations < 0 {
		return req, types.Validation("max_iterations must not be negative")
	}
	return req, nil
}

type batchBody struct {
	Queries []queryBody `json:"queries"`
}

type queryHandler struct {
	svc *intelligence.Service
}

// ready rejects requests while the service has not been initialized.
func (h *queryHandler) ready(c *gin.Context) bool {
	if h.svc == nil || !h.svc.IsEnabled() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": types.NewError(types.CodeInternal, nil, "routing services not initialized"),
		})
		return false
	}
	return true
}

func bindQuery(c *gin.Context) (intelligence.QueryRequest, bool) {
	var body queryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, types.Validation("invalid request body: %v", err), nil)
		return intelligence.QueryRequest{}, false
	}
	req, err := body.request()
	if err != nil {
		abortWithError(c, err, nil)
		return req, false
	}
	return req, true
}

// auto handles POST /api/query/auto. A timed-out run still returns what it
// gathered under partial_result.
func (h *queryHandler) auto(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	req, ok := bindQuery(c)
	if !ok {
		return
	}
	resp, err := h.svc.RouteAndExecute(c.Request.Context(), req)
	if err != nil {
		var extra gin.H
		if resp != nil {
			extra = gin.H{"partial_result": resp}
		}
		abortWithError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *queryHandler) route(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	req, ok := bindQuery(c)
	if !ok {
		return
	}
	d, err := h.svc.Route(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *queryHandler) batch(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, types.Validation("invalid request body: %v", err), nil)
		return
	}
	reqs := make([]intelligence.QueryRequest, 0, len(body.Queries))
	for _, q := range body.Queries {
		req, err := q.request()
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		reqs = append(reqs, req)
	}
	items, err := h.svc.RouteBatch(c.Request.Context(), reqs)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": items, "count": len(items), "limit": router.MaxBatch})
}

func (h *queryHandler) submit(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	req, ok := bindQuery(c)
	if !ok {
		return
	}
	st, err := h.svc.Tasks().Submit(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.Header("Location", "/api/query/status/"+st.TaskID)
	c.JSON(http.StatusAccepted, st)
}

func (h *queryHandler) status(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	st, err := h.svc.Tasks().Status(c.Param("task_id"))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *queryHandler) cancel(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	st, err := h.svc.Tasks().Cancel(c.Param("task_id"))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": st.TaskID, "state": st.State, "cancel_requested": !st.State.Terminal()})
}

func (h *queryHandler) tools(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusOK, gin.H{"internal": []any{}, "external": []any{}})
		return
	}
	c.JSON(http.StatusOK, h.svc.ListTools())
}

// health always answers; an unavailable service maps to 503.
func (h *queryHandler) health(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, intelligence.Health{Status: intelligence.HealthUnavailable})
		return
	}
	hs := h.svc.Health(c.Request.Context())
	status := http.StatusOK
	if hs.Status == intelligence.HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, hs)
}

func (h *queryHandler) feedback(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req intelligence.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, types.Validation("invalid request body: %v", err), nil)
		return
	}
	if err := h.svc.SubmitFeedback(c.Request.Context(), req); err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "decision_id": req.DecisionID})
}

func (h *queryHandler) stats(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, st)
}
