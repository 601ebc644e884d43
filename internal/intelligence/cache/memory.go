// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traylinx/switchAIRouter/internal/intelligence/embedding"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// MemoryStore is an in-process Store with LRU eviction at maxSize.
// Lookups scan every entry, which is fine up to tens of thousands of entries.
type MemoryStore struct {
	maxSize int
	now     func() time.Time

	// mu protects every field below.
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	// active maps namespace+hash to the id of the active entry.
	active  map[string]string
	lruList *list.List

	evictions int64
	hits      int64
}

type memoryEntry struct {
	entry   types.CacheEntry
	element *list.Element
}

// NewMemoryStore creates a store holding at most maxSize entries (10000 when <= 0).
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
		active:  make(map[string]string),
		lruList: list.New(),
	}
}

func hashKey(namespace, hash string) string { return namespace + "\x00" + hash }

// Upsert stores entry. If an active entry with the same hash exists its id and
// counters are kept and everything else is replaced.
func (s *MemoryStore) Upsert(ctx context.Context, entry *types.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return types.CacheUnavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashKey(entry.Namespace, entry.QueryHash)
	if id, ok := s.active[key]; ok {
		if existing, found := s.entries[id]; found {
			next := cloneEntry(entry)
			next.ID = id
			next.HitCount = existing.entry.HitCount
			next.Stats = existing.entry.Stats
			next.IsActive = true
			existing.entry = *next
			s.lruList.MoveToFront(existing.element)
			entry.ID = id
			return nil
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	for len(s.entries) >= s.maxSize {
		s.evictLRU()
	}
	me := &memoryEntry{entry: *cloneEntry(entry)}
	me.entry.IsActive = true
	me.element = s.lruList.PushFront(entry.ID)
	s.entries[entry.ID] = me
	s.active[key] = entry.ID
	return nil
}

// Nearest scans active entries for the best matches.
func (s *MemoryStore) Nearest(ctx context.Context, namespace string, vec []float32, k int, threshold float64) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.CacheUnavailable(err)
	}
	if k <= 0 {
		k = 1
	}
	now := s.now()

	s.mu.RLock()
	var matches []Match
	for _, me := range s.entries {
		e := &me.entry
		if e.Namespace != namespace || !e.Usable(now) {
			continue
		}
		sim := embedding.CosineSimilarity(vec, e.Embedding)
		if sim >= threshold {
			matches = append(matches, Match{Entry: cloneEntry(e), Similarity: sim})
		}
	}
	s.mu.RUnlock()

	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// SortMatches orders by similarity, then most recent use, then id for stability.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Entry.LastUsedAt.Equal(b.Entry.LastUsedAt) {
			return a.Entry.LastUsedAt.After(b.Entry.LastUsedAt)
		}
		return a.Entry.ID < b.Entry.ID
	})
}

// FindByHash returns the usable entry with the exact hash.
func (s *MemoryStore) FindByHash(ctx context.Context, namespace, hash string) (*types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.CacheUnavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[hashKey(namespace, hash)]
	if !ok {
		return nil, nil
	}
	me, ok := s.entries[id]
	if !ok || !me.entry.Usable(s.now()) {
		return nil, nil
	}
	return cloneEntry(&me.entry), nil
}

// Get returns a copy of the entry with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.entries[id]
	if !ok {
		return nil, types.NotFound("cache entry", id)
	}
	return cloneEntry(&me.entry), nil
}

// IncrementHit bumps the hit counter.
func (s *MemoryStore) IncrementHit(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[id]
	if !ok {
		return types.NotFound("cache entry", id)
	}
	me.entry.HitCount++
	if at.After(me.entry.LastUsedAt) {
		me.entry.LastUsedAt = at
	}
	s.lruList.MoveToFront(me.element)
	s.hits++
	return nil
}

// Deactivate marks the entry inactive and frees its hash for a new entry.
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[id]
	if !ok {
		return types.NotFound("cache entry", id)
	}
	me.entry.IsActive = false
	key := hashKey(me.entry.Namespace, me.entry.QueryHash)
	if s.active[key] == id {
		delete(s.active, key)
	}
	return nil
}

// RecordOutcome applies an outcome under the write lock.
func (s *MemoryStore) RecordOutcome(ctx context.Context, id string, outcome types.Outcome, rating *float64) (types.OutcomeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[id]
	if !ok {
		return types.OutcomeStats{}, types.NotFound("cache entry", id)
	}
	applyOutcome(&me.entry.Stats, outcome, rating)
	return me.entry.Stats, nil
}

// Stats counts entries by state.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	st := Stats{Entries: int64(len(s.entries)), Hits: s.hits}
	for _, me := range s.entries {
		switch {
		case !me.entry.IsActive:
			st.Inactive++
		case !now.Before(me.entry.ExpiresAt):
			st.Expired++
		default:
			st.Active++
		}
	}
	return st, nil
}

// Evictions returns how many entries were dropped by the LRU policy.
func (s *MemoryStore) Evictions() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evictions
}

// Sweep removes expired and inactive entries and returns how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, me := range s.entries {
		if me.entry.Usable(now) {
			continue
		}
		s.remove(id, me)
		removed++
	}
	return removed
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

// evictLRU removes the least recently used entry. Must be called with lock held.
func (s *MemoryStore) evictLRU() {
	oldest := s.lruList.Back()
	if oldest == nil {
		return
	}
	id := oldest.Value.(string)
	if me, ok := s.entries[id]; ok {
		s.remove(id, me)
	} else {
		s.lruList.Remove(oldest)
	}
	s.evictions++
}

func (s *MemoryStore) remove(id string, me *memoryEntry) {
	s.lruList.Remove(me.element)
	delete(s.entries, id)
	key := hashKey(me.entry.Namespace, me.entry.QueryHash)
	if s.active[key] == id {
		delete(s.active, key)
	}
}

func cloneEntry(e *types.CacheEntry) *types.CacheEntry {
	c := *e
	c.Embedding = append([]float32(nil), e.Embedding...)
	c.Classification.DetectedFeatures = append([]string(nil), e.Classification.DetectedFeatures...)
	c.Classification.SuggestedTools = append([]string(nil), e.Classification.SuggestedTools...)
	c.Factors.Features = append([]string(nil), e.Factors.Features...)
	c.Factors.Degraded = append([]string(nil), e.Factors.Degraded...)
	if e.Factors.Scores != nil {
		c.Factors.Scores = make(map[types.Workflow]float64, len(e.Factors.Scores))
		for k, v := range e.Factors.Scores {
			c.Factors.Scores[k] = v
		}
	}
	return &c
}
