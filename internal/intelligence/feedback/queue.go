// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package feedback hands execution outcomes and user ratings from the request path
// to a separate consumer that updates the decision log and the cache counters.
package feedback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// Event is one outcome or rating.
type Event struct {
	DecisionID      string             `json:"decision_id,omitempty"`
	CacheEntryID    string             `json:"cache_entry_id,omitempty"`
	Outcome         types.Outcome      `json:"outcome,omitempty"`
	Rating          *float64           `json:"rating,omitempty"`
	ExecutionTimeMs int64              `json:"execution_time_ms,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	RunSummary      *types.RunSummary  `json:"run_summary,omitempty"`
	At              time.Time          `json:"at"`
}

// Validate checks the event before it is queued.
func (e Event) Validate() error {
	if e.DecisionID == "" && e.CacheEntryID == "" {
		return types.Validation("feedback needs a decision id or cache entry id")
	}
	if e.Outcome != "" && !e.Outcome.Valid() {
		return types.Validation("unknown outcome %q", e.Outcome)
	}
	if e.Outcome == "" && e.Rating == nil {
		return types.Validation("feedback needs an outcome or a rating")
	}
	if e.Rating != nil && (*e.Rating < 1 || *e.Rating > 5) {
		return types.Validation("rating must be between 1 and 5")
	}
	return nil
}

// Queue is the handoff between producers and the consumer.
type Queue interface {
	Publish(ctx context.Context, ev Event) error
	// Consume delivers events to handle until ctx ends or the queue closes.
	Consume(ctx context.Context, handle func(context.Context, Event)) error
	Close() error
}

var (
	// ErrQueueFull is returned when the in-process buffer is saturated.
	ErrQueueFull = errors.New("feedback queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("feedback queue closed")
)

// ChannelQueue is a buffered in-process queue. Publish never blocks; a full buffer
// drops the event.
type ChannelQueue struct {
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewChannelQueue creates a queue holding up to size events (1000 when <= 0).
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 1000
	}
	return &ChannelQueue{events: make(chan Event, size), closed: make(chan struct{})}
}

func (q *ChannelQueue) Publish(ctx context.Context, ev Event) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.events <- ev:
		return nil
	default:
		q.dropped.Add(1)
		log.Warnf("feedback queue full, dropping event for decision %s", ev.DecisionID)
		return ErrQueueFull
	}
}

func (q *ChannelQueue) Consume(ctx context.Context, handle func(context.Context, Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			// Deliver what was accepted before Close.
			for {
				select {
				case ev := <-q.events:
					deliver(ctx, handle, ev)
				default:
					return nil
				}
			}
		case ev := <-q.events:
			deliver(ctx, handle, ev)
		}
	}
}

// Dropped returns how many events were lost to a full buffer.
func (q *ChannelQueue) Dropped() int64 { return q.dropped.Load() }

// Len returns the number of buffered events.
func (q *ChannelQueue) Len() int { return len(q.events) }

func (q *ChannelQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func deliver(ctx context.Context, handle func(context.Context, Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in feedback consumer for decision %s: %v", ev.DecisionID, r)
		}
	}()
	handle(ctx, ev)
}
