// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/types"
)

const policyScript = `
local Tool = {}

function Tool:run(args)
  local hits = router.search(args.query, args.top_k)
  local out = {}
  for i, h in ipairs(hits) do
    out[#out + 1] = { id = h.id, title = "[policy] " .. h.title, content = h.content, source = h.source, score = h.score }
  end
  if args.filters.note then
    out[#out + 1] = { title = "note", content = args.filters.note, score = 0.1 }
  end
  return out
end

return Tool
`

func TestLuaTool_RunUsesRetriever(t *testing.T) {
	tool, err := NewLuaTool("policy_search", "policies", policyScript, testCorpus(t))
	require.NoError(t, err)
	assert.Equal(t, KindInternal, tool.Kind)

	items, err := tool.Run(context.Background(), Args{Query: "refund policy", TopK: 1, Filters: map[string]string{"note": "internal"}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "[policy] Refund policy", items[0].Title)
	assert.Equal(t, "internal", items[1].Content)
}

func TestLuaTool_GlobalRunFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function run(args) return { { content = "static " .. args.query } } end`), 0o600))

	reg, err := Build(config.ToolsConfig{
		Retry:    config.RetryConfig{MaxAttempts: 1},
		Internal: []config.InternalToolConfig{{Name: "static", Kind: "lua", Script: path}},
	}, time.Second, nil, nil)
	require.NoError(t, err)

	res, err := reg.Invoke(context.Background(), "static", Args{Query: "hi"}, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "static hi", res.Items[0].Content)
}

func TestLuaTool_Sandbox(t *testing.T) {
	tool, err := NewLuaTool("probe", "", `return { run = function(self, args) return {} end }`, nil)
	require.NoError(t, err)
	_ = tool

	lt := &LuaTool{name: "probe"}
	L := lt.newState()
	defer L.Close()
	for _, name := range []string{"io", "debug", "dofile", "loadfile"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), name)
	}
	osTbl, ok := L.GetGlobal("os").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LNil, L.GetField(osTbl, "execute"))
	assert.NotEqual(t, lua.LNil, L.GetField(osTbl, "time"))
}

func TestLuaTool_Errors(t *testing.T) {
	_, err := NewLuaTool("broken", "", "this is not lua", nil)
	assert.Error(t, err)

	tool, err := NewLuaTool("norun", "", "local x = 1", nil)
	require.NoError(t, err)
	_, err = tool.Run(context.Background(), Args{})
	assert.ErrorIs(t, err, types.ErrToolError)

	tool, err = NewLuaTool("raises", "", `function run(args) error("bad input") end`, nil)
	require.NoError(t, err)
	_, err = tool.Run(context.Background(), Args{})
	assert.ErrorIs(t, err, types.ErrToolError)
	assert.False(t, types.IsRetryable(err))
}
