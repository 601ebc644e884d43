// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
)

// Retriever is the document index the internal tools search. Indexing is owned elsewhere.
type Retriever interface {
	VectorSearch(ctx context.Context, query string, k int) ([]Item, error)
	GraphQuery(ctx context.Context, query string, k int) ([]Item, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]Item, error)
}

// Document is one entry of a MemoryCorpus.
type Document struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Source   string   `json:"source" yaml:"source"`
	Entities []string `json:"entities" yaml:"entities"`
}

type indexedDoc struct {
	doc      Document
	vec      []float32
	terms    map[string]int
	entities map[string]struct{}
}

// MemoryCorpus is an in-process Retriever for development and tests.
type MemoryCorpus struct {
	embedder embedding.Provider

	mu   sync.RWMutex
	docs []indexedDoc
}

// NewMemoryCorpus creates an empty corpus embedding with p.
func NewMemoryCorpus(p embedding.Provider) *MemoryCorpus {
	return &MemoryCorpus{embedder: p}
}

// Add indexes docs.
func (c *MemoryCorpus) Add(ctx context.Context, docs ...Document) error {
	indexed := make([]indexedDoc, 0, len(docs))
	for _, d := range docs {
		vec, err := c.embedder.Embed(ctx, d.Title+" "+d.Content)
		if err != nil {
			return err
		}
		ents := make(map[string]struct{}, len(d.Entities))
		for _, e := range d.Entities {
			ents[strings.ToLower(e)] = struct{}{}
		}
		indexed = append(indexed, indexedDoc{doc: d, vec: vec, terms: termCounts(d.Title + " " + d.Content), entities: ents})
	}
	c.mu.Lock()
	c.docs = append(c.docs, indexed...)
	c.mu.Unlock()
	return nil
}

// Len returns the number of documents.
func (c *MemoryCorpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *MemoryCorpus) VectorSearch(ctx context.Context, query string, k int) ([]Item, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]Item, 0, len(c.docs))
	for _, d := range c.docs {
		score := embedding.CosineSimilarity(vec, d.vec)
		if score <= 0 {
			continue
		}
		items = append(items, toItem(d.doc, score))
	}
	return topK(items, k), nil
}

// GraphQuery scores documents by the entities they share with the query, plus one hop:
// documents sharing an entity with a direct hit score half.
func (c *MemoryCorpus) GraphQuery(ctx context.Context, query string, k int) ([]Item, error) {
	terms := termCounts(query)
	c.mu.RLock()
	defer c.mu.RUnlock()

	direct := make(map[string]struct{})
	scores := make(map[int]float64)
	for i, d := range c.docs {
		for e := range d.entities {
			if entityMentioned(e, query, terms) {
				scores[i]++
				direct[e] = struct{}{}
			}
		}
	}
	hits := make([]int, 0, len(scores))
	for i := range scores {
		hits = append(hits, i)
	}
	for i, d := range c.docs {
		if _, hit := scores[i]; hit {
			continue
		}
		for e := range d.entities {
			for _, j := range hits {
				if _, shared := c.docs[j].entities[e]; shared {
					scores[i] += 0.5
					break
				}
			}
		}
	}

	items := make([]Item, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			items = append(items, toItem(c.docs[i].doc, s/float64(len(direct)+1)))
		}
	}
	return topK(items, k), nil
}

func (c *MemoryCorpus) KeywordSearch(ctx context.Context, query string, k int) ([]Item, error) {
	q := termCounts(query)
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]Item, 0, len(c.docs))
	for _, d := range c.docs {
		var hits float64
		for t := range q {
			if d.terms[t] > 0 {
				hits++
			}
		}
		if hits > 0 && len(q) > 0 {
			items = append(items, toItem(d.doc, hits/float64(len(q))))
		}
	}
	return topK(items, k), nil
}

func entityMentioned(entity, query string, terms map[string]int) bool {
	if strings.Contains(entity, " ") {
		return strings.Contains(strings.ToLower(query), entity)
	}
	return terms[entity] > 0
}

func toItem(d Document, score float64) Item {
	return Item{ID: d.ID, Title: d.Title, Content: d.Content, Source: d.Source, Score: score}
}

func topK(items []Item, k int) []Item {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

func termCounts(s string) map[string]int {
	out := make(map[string]int)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(f) > 2 {
			out[f]++
		}
	}
	return out
}

// rrfK is the reciprocal rank fusion damping constant.
const rrfK = 60.0

// fuse merges ranked lists by reciprocal rank fusion.
func fuse(k int, lists ...[]Item) []Item {
	scores := make(map[string]float64)
	byID := make(map[string]Item)
	for _, list := range lists {
		for rank, it := range list {
			key := it.ID
			if key == "" {
				key = it.Source + "|" + it.Title
			}
			scores[key] += 1 / (rrfK + float64(rank+1))
			if _, seen := byID[key]; !seen {
				byID[key] = it
			}
		}
	}
	out := make([]Item, 0, len(scores))
	for key, s := range scores {
		it := byID[key]
		it.Score = s
		out = append(out, it)
	}
	return topK(out, k)
}

// Retrieval tool names. The classifier suggests these per category.
const (
	ToolVectorSearch = "vector_search"
	ToolGraphQuery   = "graph_query"
	ToolHybridSearch = "hybrid_search"
	ToolWebSearch    = "web_search"
)

const defaultTopK = 5

func withTopK(args Args) int {
	if args.TopK > 0 {
		return args.TopK
	}
	return defaultTopK
}

// NewVectorSearchTool builds the semantic search tool.
func NewVectorSearchTool(r Retriever) *Tool {
	return &Tool{
		Name:        ToolVectorSearch,
		Description: "Semantic search over the document index",
		Kind:        KindInternal,
		Run: func(ctx context.Context, args Args) ([]Item, error) {
			return r.VectorSearch(ctx, args.Query, withTopK(args))
		},
	}
}

// NewGraphQueryTool builds the entity graph traversal tool.
func NewGraphQueryTool(r Retriever) *Tool {
	return &Tool{
		Name:        ToolGraphQuery,
		Description: "Entity and relationship lookup in the knowledge graph",
		Kind:        KindInternal,
		Run: func(ctx context.Context, args Args) ([]Item, error) {
			return r.GraphQuery(ctx, args.Query, withTopK(args))
		},
	}
}

// NewHybridSearchTool fuses semantic and keyword rankings.
func NewHybridSearchTool(r Retriever) *Tool {
	return &Tool{
		Name:        ToolHybridSearch,
		Description: "Combined semantic and keyword search",
		Kind:        KindInternal,
		Run: func(ctx context.Context, args Args) ([]Item, error) {
			k := withTopK(args)
			vec, err := r.VectorSearch(ctx, args.Query, k*2)
			if err != nil {
				return nil, err
			}
			kw, err := r.KeywordSearch(ctx, args.Query, k*2)
			if err != nil {
				return nil, err
			}
			return fuse(k, vec, kw), nil
		},
	}
}
