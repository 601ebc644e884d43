// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIRouter/internal/api"
	"github.com/traylinx/switchAIRouter/internal/buildinfo"
	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence"
	"github.com/traylinx/switchAIRouter/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	log.Infof("switchai-router %s", buildinfo.String())

	flush, err := telemetry.Setup(cfg.Telemetry, os.Stderr)
	if err != nil {
		return err
	}

	svc := intelligence.NewService(cfg)
	if err = svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize routing services: %w", err)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		go func() {
			watchErr := config.Watch(ctx, path, func(next *config.Config) {
				next.ApplyEnv(os.LookupEnv)
				svc.ApplyConfig(next)
			})
			if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
				log.WithError(watchErr).Warn("config hot reload disabled")
			}
		}()
	}

	srv := api.NewServer(cfg, svc)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(
		err,
		srv.Stop(shutdownCtx),
		svc.Shutdown(shutdownCtx),
		flush(shutdownCtx),
	)
}
