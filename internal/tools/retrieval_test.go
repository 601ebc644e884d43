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

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
)

func testCorpus(t *testing.T) *MemoryCorpus {
	t.Helper()
	c := NewMemoryCorpus(embedding.NewHashEmbedder(256))
	require.NoError(t, c.Add(context.Background(),
		Document{ID: "refund", Title: "Refund policy", Content: "Customers may request a refund within 30 days of purchase.", Source: "policies/refund.md", Entities: []string{"refund", "customer"}},
		Document{ID: "privacy", Title: "Privacy policy", Content: "We store personal data in accordance with California privacy regulations.", Source: "policies/privacy.md", Entities: []string{"California", "personal data"}},
		Document{ID: "ccpa", Title: "CCPA summary", Content: "The California Consumer Privacy Act grants consumers rights over personal data.", Source: "legal/ccpa.md", Entities: []string{"personal data", "CCPA"}},
	))
	return c
}

func TestMemoryCorpus_VectorSearch(t *testing.T) {
	c := testCorpus(t)
	items, err := c.VectorSearch(context.Background(), "what is the refund policy", 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "refund", items[0].ID)
	assert.LessOrEqual(t, len(items), 2)
}

func TestMemoryCorpus_GraphQueryFollowsSharedEntities(t *testing.T) {
	c := testCorpus(t)
	items, err := c.GraphQuery(context.Background(), "How do California rules apply?", 5)
	require.NoError(t, err)

	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	require.NotEmpty(t, ids)
	assert.Equal(t, "privacy", ids[0], "direct entity hit ranks first")
	assert.Contains(t, ids, "ccpa", "one hop through personal data")
	assert.NotContains(t, ids, "refund")
}

func TestMemoryCorpus_KeywordSearch(t *testing.T) {
	c := testCorpus(t)
	items, err := c.KeywordSearch(context.Background(), "consumer privacy act", 5)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "ccpa", items[0].ID)
}

func TestFuse_ReciprocalRank(t *testing.T) {
	a := []Item{{ID: "x"}, {ID: "y"}}
	b := []Item{{ID: "y"}, {ID: "z"}}
	out := fuse(3, a, b)
	require.Len(t, out, 3)
	assert.Equal(t, "y", out[0].ID, "present in both lists")
}

func TestRetrievalTools_ThroughRegistry(t *testing.T) {
	reg, err := Build(config.ToolsConfig{Retry: config.RetryConfig{MaxAttempts: 1}}, time.Second, testCorpus(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ToolGraphQuery, ToolHybridSearch, ToolVectorSearch}, reg.Names())

	res, err := reg.Invoke(context.Background(), ToolHybridSearch, Args{Query: "refund within 30 days", TopK: 2}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "refund", res.Items[0].ID)
	assert.LessOrEqual(t, len(res.Items), 2)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(config.ToolsConfig{Internal: []config.InternalToolConfig{{Name: "v", Kind: "vector"}}}, time.Second, nil, nil)
	assert.Error(t, err, "retrieval tools need a retriever")

	_, err = Build(config.ToolsConfig{Internal: []config.InternalToolConfig{{Name: "s", Kind: "lua"}}}, time.Second, nil, nil)
	assert.Error(t, err, "lua tools need a script")

	_, err = Build(config.ToolsConfig{Internal: []config.InternalToolConfig{{Name: "q", Kind: "sql"}}}, time.Second, testCorpus(t), nil)
	assert.Error(t, err)
}

func TestMemoryCorpus_LoadCorpusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`documents:
  - id: refund
    title: Refund policy
    content: Refunds are issued within 30 days of purchase.
    entities: [refund]
  - title: Shipping
    content: Orders ship within two business days.
`), 0o600))

	c := NewMemoryCorpus(embedding.NewHashEmbedder(64))
	require.NoError(t, c.LoadCorpusFile(context.Background(), path))
	assert.Equal(t, 2, c.Len())

	items, err := c.KeywordSearch(context.Background(), "refund policy", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "refund", items[0].ID)

	assert.Error(t, c.LoadCorpusFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")))
}
