// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence"
	"github.com/traylinx/switchAIRouter/internal/logging"
)

// Server is the HTTP surface of the router.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	svc    *intelligence.Service
}

// NewServer builds the gin engine and registers every /api/query route.
func NewServer(cfg *config.Config, svc *intelligence.Service) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinRequestID())

	s := &Server{engine: engine, svc: svc}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	h := &queryHandler{svc: s.svc}
	q := s.engine.Group("/api/query")
	q.POST("/auto", h.auto)
	q.POST("/route", h.route)
	q.POST("/batch", h.batch)
	q.POST("/auto/async", h.submit)
	q.GET("/status/:task_id", h.status)
	q.DELETE("/status/:task_id", h.cancel)
	q.GET("/ws/:task_id", h.stream)
	q.GET("/tools", h.tools)
	q.GET("/health", h.health)
	q.POST("/feedback", h.feedback)
	q.GET("/stats", h.stats)
}

// Handler exposes the engine, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called.
func (s *Server) Start() error {
	log.Infof("router API listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
