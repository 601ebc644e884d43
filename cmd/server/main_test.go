// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.yaml")
	require.NoError(t, os.WriteFile(corpus, []byte(`documents:
  - title: Refund policy
    content: Refunds are issued within 30 days of purchase.
`), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  min-relevance: 0.01\ntools:\n  corpus-file: "+corpus+"\n"), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	t.Cleanup(func() { configPath = "" })
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRouteCommand(t *testing.T) {
	path := writeTestConfig(t)
	out, err := execute(t, "--config", path, "route", "What", "is", "our", "refund", "policy?")
	require.NoError(t, err)

	var resp struct {
		Workflow   string   `json:"workflow"`
		Answer     string   `json:"answer"`
		DecisionID string   `json:"decision_id"`
		Path       []string `json:"workflow_path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "direct-retrieval", resp.Workflow)
	assert.Contains(t, resp.Answer, "30 days")
	assert.NotEmpty(t, resp.DecisionID)
	assert.Equal(t, []string{"retrieve"}, resp.Path)
}

func TestRouteCommand_DecisionOnly(t *testing.T) {
	path := writeTestConfig(t)
	out, err := execute(t, "--config", path, "route", "--decision-only", "--workflow", "iterative", "anything at all")
	require.NoError(t, err)

	var d struct {
		Workflow   string  `json:"workflow"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &d), out)
	assert.Equal(t, "iterative-refinement", d.Workflow)
	assert.Equal(t, 1.0, d.Confidence)

	_, err = execute(t, "--config", path, "route", "--workflow", "bogus", "anything")
	assert.Error(t, err)
}

func TestToolsCommand(t *testing.T) {
	out, err := execute(t, "--config", writeTestConfig(t), "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "vector_search")
	assert.Contains(t, out, "hybrid_search")
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configPath = "" })
	_, _, err := loadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_EnvFallback(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("ROUTER_CONFIG", path)
	configPath = ""
	cfg, got, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.NotEmpty(t, cfg.Tools.CorpusFile)
}
