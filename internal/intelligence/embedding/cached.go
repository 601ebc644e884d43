// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// CachedProvider memoizes embeddings of normalized text with LRU eviction and a TTL.
type CachedProvider struct {
	inner   Provider
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	hits   int64
	misses int64
}

type cachedVector struct {
	key      string
	vec      []float32
	storedAt time.Time
}

// NewCachedProvider wraps inner. A zero ttl keeps entries until evicted.
func NewCachedProvider(inner Provider, maxSize int, ttl time.Duration) *CachedProvider {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CachedProvider{
		inner:   inner,
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (c *CachedProvider) Name() string   { return c.inner.Name() }
func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

// Close releases the wrapped provider when it holds resources.
func (c *CachedProvider) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Embed returns the cached vector for text or computes and stores it.
// The returned slice is shared; callers must not modify it.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := NormalizeQuery(text)

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		cv := elem.Value.(*cachedVector)
		if c.ttl <= 0 || c.now().Sub(cv.storedAt) < c.ttl {
			c.lru.MoveToFront(elem)
			c.hits++
			c.mu.Unlock()
			return cv.vec, nil
		}
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
	}
	c.entries[key] = c.lru.PushFront(&cachedVector{key: key, vec: vec, storedAt: c.now()})
	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedVector).key)
	}
	return vec, nil
}

// Stats returns hit and miss counts.
func (c *CachedProvider) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached vectors.
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
