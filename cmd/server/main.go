// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main is the entry point of the adaptive query router. It serves the
// HTTP API by default and offers one-off route and tools commands.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIRouter/internal/buildinfo"
	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

const defaultConfigFile = "config.yaml"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "switchai-router",
		Short:         "Adaptive query router with semantic routing cache",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default $ROUTER_CONFIG or ./config.yaml)")
	root.AddCommand(newServeCmd(), newRouteCmd(), newToolsCmd())
	return root
}

// loadConfig resolves the config path, loads .env and overlays the environment.
// The default path may be absent; an explicitly named file must exist.
func loadConfig() (*config.Config, string, error) {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	path, optional := configPath, false
	if path == "" {
		if v, ok := os.LookupEnv("ROUTER_CONFIG"); ok && strings.TrimSpace(v) != "" {
			path = strings.TrimSpace(v)
		} else {
			path, optional = defaultConfigFile, true
		}
	}
	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, path, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err = cfg.Validate(); err != nil {
		return nil, path, err
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir, cfg.LogsMaxSizeMB, cfg.Debug); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
