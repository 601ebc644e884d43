// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/intelligence/decisionlog"
	"github.com/traylinx/switchAIRouter/internal/types"
)

type fixture struct {
	log      *decisionlog.MemoryLog
	store    *cache.MemoryStore
	queue    *ChannelQueue
	recorder *Recorder
}

func newFixture(t *testing.T, cfg config.FeedbackConfig) *fixture {
	t.Helper()
	f := &fixture{
		log:   decisionlog.NewMemoryLog(0),
		store: cache.NewMemoryStore(0),
		queue: NewChannelQueue(16),
	}
	f.recorder = NewRecorder(f.log, f.store, f.queue, cfg)
	return f
}

// seed stores a cache entry and a decision pointing at it.
func (f *fixture) seed(t *testing.T, query string) (entryID, decisionID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	entry := &types.CacheEntry{
		Namespace: "default", QueryHash: "sha256:" + query, QueryText: query,
		Embedding: []float32{1, 0}, Workflow: types.WorkflowDirect,
		CreatedAt: now, LastUsedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, f.store.Upsert(ctx, entry))
	rec := &types.DecisionRecord{CacheEntryID: entry.ID, QueryText: query, Workflow: types.WorkflowDirect}
	require.NoError(t, f.log.Append(ctx, rec))
	return entry.ID, rec.ID
}

func rating(v float64) *float64 { return &v }

func TestRecorder_ApplyOutcomeOnce(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{})
	ctx := context.Background()
	entryID, decisionID := f.seed(t, "refunds")

	require.NoError(t, f.recorder.Apply(ctx, Event{
		DecisionID: decisionID, Outcome: types.OutcomeSuccess, Rating: rating(5), ExecutionTimeMs: 42,
		RunSummary: &types.RunSummary{Iterations: 1},
	}))
	rec, err := f.log.Get(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, int64(42), rec.ExecutionTimeMs)
	require.NotNil(t, rec.RunSummary)

	entry, err := f.store.Get(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Stats.Successes)
	assert.Equal(t, 5.0, entry.Stats.AverageRating())

	err = f.recorder.Apply(ctx, Event{DecisionID: decisionID, Outcome: types.OutcomeFailure})
	assert.ErrorIs(t, err, types.ErrValidation)
	entry, _ = f.store.Get(ctx, entryID)
	assert.Equal(t, int64(0), entry.Stats.Failures, "rejected update leaves the cache alone")
	assert.Equal(t, int64(1), f.recorder.Stats().Failed)
}

func TestRecorder_LateRatingUpdatesRecordOnce(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{})
	ctx := context.Background()
	entryID, decisionID := f.seed(t, "privacy")
	require.NoError(t, f.recorder.Apply(ctx, Event{DecisionID: decisionID, Outcome: types.OutcomeSuccess}))

	require.NoError(t, f.recorder.Apply(ctx, Event{DecisionID: decisionID, Rating: rating(2)}))
	rec, err := f.log.Get(ctx, decisionID)
	require.NoError(t, err)
	require.NotNil(t, rec.Rating)
	assert.Equal(t, 2.0, *rec.Rating)
	assert.Equal(t, types.OutcomeSuccess, rec.Outcome)
	entry, _ := f.store.Get(ctx, entryID)
	assert.Equal(t, int64(1), entry.Stats.Successes)
	assert.Equal(t, int64(1), entry.Stats.RatingCount)
	assert.Equal(t, int64(1), f.recorder.Stats().LateRatings)

	err = f.recorder.Apply(ctx, Event{DecisionID: decisionID, Rating: rating(5)})
	assert.ErrorIs(t, err, types.ErrValidation)
	rec, _ = f.log.Get(ctx, decisionID)
	assert.Equal(t, 2.0, *rec.Rating)
	entry, _ = f.store.Get(ctx, entryID)
	assert.Equal(t, int64(1), entry.Stats.RatingCount, "rejected rating leaves the cache alone")
}

func TestRecorder_RatingBeforeOutcomeIsKept(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{})
	ctx := context.Background()
	_, decisionID := f.seed(t, "early")

	require.NoError(t, f.recorder.Apply(ctx, Event{DecisionID: decisionID, Rating: rating(3)}))
	require.NoError(t, f.recorder.Apply(ctx, Event{DecisionID: decisionID, Outcome: types.OutcomePartial, Rating: rating(1)}))
	rec, err := f.log.Get(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePartial, rec.Outcome)
	assert.Equal(t, 3.0, *rec.Rating)
}

func TestRecorder_ConsecutiveFailuresDeactivate(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{ConsecutiveFailures: 3, MinSamples: 100, FailureRateThreshold: 0.9})
	ctx := context.Background()
	entryID, _ := f.seed(t, "flaky")

	for i := 0; i < 2; i++ {
		require.NoError(t, f.recorder.Apply(ctx, Event{CacheEntryID: entryID, Outcome: types.OutcomeFailure}))
	}
	found, err := f.store.FindByHash(ctx, "default", "sha256:flaky")
	require.NoError(t, err)
	require.NotNil(t, found)

	require.NoError(t, f.recorder.Apply(ctx, Event{CacheEntryID: entryID, Outcome: types.OutcomeFailure}))
	found, err = f.store.FindByHash(ctx, "default", "sha256:flaky")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Equal(t, int64(1), f.recorder.Stats().Deactivated)
}

func TestRecorder_FailureRateDeactivates(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{ConsecutiveFailures: 10, MinSamples: 4, FailureRateThreshold: 0.5})
	ctx := context.Background()
	entryID, _ := f.seed(t, "mixed")

	seq := []types.Outcome{types.OutcomeFailure, types.OutcomeSuccess, types.OutcomeFailure, types.OutcomeFailure}
	for _, o := range seq {
		require.NoError(t, f.recorder.Apply(ctx, Event{CacheEntryID: entryID, Outcome: o}))
	}
	entry, err := f.store.Get(ctx, entryID)
	require.NoError(t, err)
	assert.False(t, entry.IsActive)
}

func TestRecorder_SuccessResetsStreak(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{ConsecutiveFailures: 2, MinSamples: 100})
	ctx := context.Background()
	entryID, _ := f.seed(t, "recovering")

	for _, o := range []types.Outcome{types.OutcomeFailure, types.OutcomeSuccess, types.OutcomeFailure} {
		require.NoError(t, f.recorder.Apply(ctx, Event{CacheEntryID: entryID, Outcome: o}))
	}
	entry, _ := f.store.Get(ctx, entryID)
	assert.True(t, entry.IsActive)
	assert.Equal(t, int64(1), entry.Stats.ConsecutiveFailures)
}

func TestRecorder_RecordValidates(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, f.recorder.Record(ctx, Event{Outcome: types.OutcomeSuccess}), types.ErrValidation)
	assert.ErrorIs(t, f.recorder.Record(ctx, Event{DecisionID: "d"}), types.ErrValidation)
	assert.ErrorIs(t, f.recorder.Record(ctx, Event{DecisionID: "d", Outcome: "meh"}), types.ErrValidation)
	assert.ErrorIs(t, f.recorder.Record(ctx, Event{DecisionID: "d", Rating: rating(9)}), types.ErrValidation)
	assert.Equal(t, 0, f.queue.Len())
}

func TestRecorder_ConsumerAppliesQueuedEvents(t *testing.T) {
	f := newFixture(t, config.FeedbackConfig{})
	ctx := context.Background()
	entryID, decisionID := f.seed(t, "async")

	f.recorder.Start(ctx)
	defer f.recorder.Stop()
	require.NoError(t, f.recorder.Record(ctx, Event{DecisionID: decisionID, Outcome: types.OutcomePartial}))

	assert.Eventually(t, func() bool {
		entry, err := f.store.Get(ctx, entryID)
		return err == nil && entry.Stats.Partials == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.recorder.Stats().Published)
}

func TestChannelQueue_FullAndClosed(t *testing.T) {
	q := NewChannelQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Event{DecisionID: "a"}))
	assert.ErrorIs(t, q.Publish(ctx, Event{DecisionID: "b"}), ErrQueueFull)
	assert.Equal(t, int64(1), q.Dropped())

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, Event{DecisionID: "c"}), ErrQueueClosed)

	var got []string
	require.NoError(t, q.Consume(ctx, func(_ context.Context, ev Event) { got = append(got, ev.DecisionID) }))
	assert.Equal(t, []string{"a"}, got, "buffered events drain after close")
}
