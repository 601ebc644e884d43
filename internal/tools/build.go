// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/resilience"
)

// Build populates a registry from configuration. With no internal tools declared the
// three retrieval tools are registered under their default names.
func Build(cfg config.ToolsConfig, toolTimeout time.Duration, retriever Retriever, client *http.Client) (*Registry, error) {
	reg := NewRegistry(resilience.FromConfig(cfg.Retry), toolTimeout)

	internal := cfg.Internal
	if len(internal) == 0 {
		internal = []config.InternalToolConfig{
			{Name: ToolVectorSearch, Kind: "vector"},
			{Name: ToolGraphQuery, Kind: "graph"},
			{Name: ToolHybridSearch, Kind: "hybrid"},
		}
	}

	for _, tc := range internal {
		t, err := buildInternal(tc, retriever)
		if err != nil {
			return nil, err
		}
		t.Name = tc.Name
		if tc.Description != "" {
			t.Description = tc.Description
		}
		if tc.Timeout > 0 {
			t.Timeout = tc.Timeout
		}
		t.WithRateLimit(tc.RateLimit, tc.Burst)
		if err = reg.Register(t); err != nil {
			return nil, err
		}
	}

	for _, ec := range cfg.External {
		if ec.URL == "" {
			return nil, fmt.Errorf("external tool %s: url is required", ec.Name)
		}
		if err := reg.Register(NewHTTPTool(ec, client)); err != nil {
			return nil, err
		}
	}

	log.Infof("tool registry ready: %v", reg.Names())
	return reg, nil
}

func buildInternal(tc config.InternalToolConfig, retriever Retriever) (*Tool, error) {
	if tc.Kind != "lua" && retriever == nil {
		return nil, fmt.Errorf("internal tool %s: no retriever configured", tc.Name)
	}
	switch tc.Kind {
	case "vector":
		return NewVectorSearchTool(retriever), nil
	case "graph":
		return NewGraphQueryTool(retriever), nil
	case "hybrid":
		return NewHybridSearchTool(retriever), nil
	case "lua":
		if tc.Script == "" {
			return nil, fmt.Errorf("internal tool %s: script is required", tc.Name)
		}
		return NewLuaTool(tc.Name, tc.Description, tc.Script, retriever)
	default:
		return nil, fmt.Errorf("internal tool %s: unknown kind %q", tc.Name, tc.Kind)
	}
}
