// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/types"
)

var columns = []string{
	"id", "namespace", "query_hash", "query_text", "query_embedding", "selected_workflow",
	"confidence_score", "confidence_level", "classification", "routing_factors", "hit_count", "last_used_at",
	"created_at", "expires_at", "is_active", "successes", "failures", "partials", "consecutive_failures",
	"rating_count", "rating_sum",
}

func newMockStore(t *testing.T) (*PostgresCacheStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresCacheStore(db, PostgresCacheConfig{Schema: "router", Dimension: 3}), mock
}

func entryRow(now time.Time) []driver.Value {
	return []driver.Value{
		"e1", "default", "sha256:abc", "what is the refund policy", "[1,0,0]", "direct-retrieval",
		0.9, "high", []byte(`{"complexity":"low","category":"document_lookup"}`), []byte(`{"reason":"rule"}`),
		int64(2), now, now.Add(-time.Hour), now.Add(time.Hour), true,
		int64(3), int64(1), int64(0), int64(0), int64(1), 4.5,
	}
}

func TestPostgresCache_FullTableName(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Equal(t, `"router"."routing_cache"`, s.table())

	s.cfg.Schema = ""
	assert.Equal(t, `"routing_cache"`, s.table())
}

func TestPostgresCache_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "router"."routing_cache"`)).
		WithArgs(sqlmock.AnyArg(), "default", "sha256:abc", "q", "[1,0.5,0]", "multi-agent", 0.7, "medium",
			sqlmock.AnyArg(), sqlmock.AnyArg(), now, now, now.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	e := &types.CacheEntry{
		Namespace: "default", QueryHash: "sha256:abc", QueryText: "q",
		Embedding: []float32{1, 0.5, 0}, Workflow: types.WorkflowMultiAgent,
		ConfidenceScore: 0.7, ConfidenceLevel: types.ConfidenceMedium,
		LastUsedAt: now, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.Upsert(context.Background(), e))
	assert.Equal(t, "existing-id", e.ID)
	assert.True(t, e.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCache_Nearest(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(append(append([]string{}, columns...), "similarity")).
		AddRow(append(entryRow(now), 0.97)...)
	mock.ExpectQuery(regexp.QuoteMeta(`1 - (query_embedding <=> $1::vector) AS similarity FROM "router"."routing_cache"`)).
		WithArgs("[1,0,0]", "default", sqlmock.AnyArg(), 0.85, 5).
		WillReturnRows(rows)

	matches, err := s.Nearest(context.Background(), "default", []float32{1, 0, 0}, 5, 0.85)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.InDelta(t, 0.97, m.Similarity, 1e-9)
	assert.Equal(t, "e1", m.Entry.ID)
	assert.Equal(t, types.WorkflowDirect, m.Entry.Workflow)
	assert.Equal(t, []float32{1, 0, 0}, m.Entry.Embedding)
	assert.Equal(t, types.CategoryDocumentLookup, m.Entry.Classification.Category)
	assert.Equal(t, "rule", m.Entry.Factors.Reason)
	assert.Equal(t, int64(3), m.Entry.Stats.Successes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCache_NearestBackendFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	_, err := s.Nearest(context.Background(), "default", []float32{1}, 5, 0.85)
	assert.ErrorIs(t, err, types.ErrCacheUnavailable)
}

func TestPostgresCache_FindByHashMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE namespace = $1 AND query_hash = $2")).
		WithArgs("default", "sha256:none", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	entry, err := s.FindByHash(context.Background(), "default", "sha256:none")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCache_GetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostgresCache_IncrementHitAndDeactivate(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET hit_count = hit_count + 1")).
		WithArgs("e1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET is_active = FALSE")).
		WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.IncrementHit(context.Background(), "e1", at))
	err := s.Deactivate(context.Background(), "gone")
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCache_RecordOutcome(t *testing.T) {
	s, mock := newMockStore(t)
	rating := 2.0

	mock.ExpectQuery(regexp.QuoteMeta("consecutive_failures = CASE WHEN $2 = 'failure'")).
		WithArgs("e1", "failure", sql.NullFloat64{Float64: 2, Valid: true}).
		WillReturnRows(sqlmock.NewRows([]string{"successes", "failures", "partials", "consecutive_failures", "rating_count", "rating_sum"}).
			AddRow(1, 2, 0, 2, 1, 2.0))

	st, err := s.RecordOutcome(context.Background(), "e1", types.OutcomeFailure, &rating)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.ConsecutiveFailures)
	assert.InDelta(t, 2.0/3.0, st.FailureRate(), 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCache_Stats(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER")).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "expired", "inactive", "hits"}).AddRow(10, 7, 2, 1, 40))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Active)
	assert.Equal(t, int64(40), st.Hits)
}

func TestPostgresCache_EnsureSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("query_embedding vector(3) NOT NULL")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("WHERE is_active")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("vector_cosine_ops")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorFormatRoundTrip(t *testing.T) {
	v := []float32{0.25, -1, 3.5}
	assert.Equal(t, "[0.25,-1,3.5]", FormatVector(v))

	parsed, err := ParseVector(" [0.25, -1, 3.5] ")
	require.NoError(t, err)
	assert.Equal(t, v, parsed)

	empty, err := ParseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseVector("0.25,1")
	assert.Error(t, err)
}
