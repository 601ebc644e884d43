// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store holds the SQL-backed persistence for routing decisions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/intelligence/cache"
	"github.com/traylinx/switchAIRouter/internal/types"
)

// PostgresCacheConfig configures the pgvector cache backend.
type PostgresCacheConfig struct {
	DSN       string
	Schema    string
	Table     string
	Dimension int
}

// PostgresCacheStore implements cache.Store on PostgreSQL with the pgvector extension.
type PostgresCacheStore struct {
	db  *sql.DB
	cfg PostgresCacheConfig
}

// NewPostgresCacheStore opens a connection pool and verifies connectivity.
func NewPostgresCacheStore(ctx context.Context, cfg PostgresCacheConfig) (*PostgresCacheStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, types.Validation("postgres cache: DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: open: %w", err))
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	s := newPostgresCacheStore(db, cfg)
	if err = s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresCacheStore(db *sql.DB, cfg PostgresCacheConfig) *PostgresCacheStore {
	if cfg.Table == "" {
		cfg.Table = "routing_cache"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	return &PostgresCacheStore{db: db, cfg: cfg}
}

func (s *PostgresCacheStore) fullTableName(name string) string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(name)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(name)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *PostgresCacheStore) table() string { return s.fullTableName(s.cfg.Table) }

// EnsureSchema creates the extension, table and indexes when missing.
func (s *PostgresCacheStore) EnsureSchema(ctx context.Context) error {
	table := s.table()
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	query_hash TEXT NOT NULL,
	query_text TEXT NOT NULL,
	query_embedding vector(%d) NOT NULL,
	selected_workflow TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	confidence_level TEXT NOT NULL,
	classification JSONB NOT NULL,
	routing_factors JSONB NOT NULL,
	hit_count BIGINT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	successes BIGINT NOT NULL DEFAULT 0,
	failures BIGINT NOT NULL DEFAULT 0,
	partials BIGINT NOT NULL DEFAULT 0,
	consecutive_failures BIGINT NOT NULL DEFAULT 0,
	rating_count BIGINT NOT NULL DEFAULT 0,
	rating_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
	CHECK (expires_at > created_at)
)`, table, s.cfg.Dimension),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (namespace, query_hash) WHERE is_active",
			quoteIdentifier(s.cfg.Table+"_active_hash"), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (query_embedding vector_cosine_ops)",
			quoteIdentifier(s.cfg.Table+"_embedding"), table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return types.CacheUnavailable(fmt.Errorf("postgres cache: schema: %w", err))
		}
	}
	return nil
}

const entryColumns = "id, namespace, query_hash, query_text, query_embedding::text, selected_workflow, " +
	"confidence_score, confidence_level, classification, routing_factors, hit_count, last_used_at, " +
	"created_at, expires_at, is_active, successes, failures, partials, consecutive_failures, rating_count, rating_sum"

// Upsert inserts or replaces the active entry for (namespace, query_hash).
func (s *PostgresCacheStore) Upsert(ctx context.Context, entry *types.CacheEntry) error {
	classification, err := json.Marshal(entry.Classification)
	if err != nil {
		return types.NewError(types.CodeInternal, err, "encode classification")
	}
	factors, err := json.Marshal(entry.Factors)
	if err != nil {
		return types.NewError(types.CodeInternal, err, "encode routing factors")
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, namespace, query_hash, query_text, query_embedding, selected_workflow, confidence_score, confidence_level, classification, routing_factors, last_used_at, created_at, expires_at, is_active)
VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9, $10, $11, $12, $13, TRUE)
ON CONFLICT (namespace, query_hash) WHERE is_active DO UPDATE SET
query_text = EXCLUDED.query_text, query_embedding = EXCLUDED.query_embedding, selected_workflow = EXCLUDED.selected_workflow,
confidence_score = EXCLUDED.confidence_score, confidence_level = EXCLUDED.confidence_level,
classification = EXCLUDED.classification, routing_factors = EXCLUDED.routing_factors,
last_used_at = EXCLUDED.last_used_at, expires_at = EXCLUDED.expires_at
RETURNING id`, s.table())

	var stored string
	err = s.db.QueryRowContext(ctx, query,
		id, entry.Namespace, entry.QueryHash, entry.QueryText, FormatVector(entry.Embedding),
		string(entry.Workflow), entry.ConfidenceScore, string(entry.ConfidenceLevel),
		classification, factors, entry.LastUsedAt, entry.CreatedAt, entry.ExpiresAt,
	).Scan(&stored)
	if err != nil {
		return types.CacheUnavailable(fmt.Errorf("postgres cache: upsert: %w", err))
	}
	entry.ID = stored
	entry.IsActive = true
	return nil
}

// Nearest runs a cosine-distance scan restricted to usable rows.
func (s *PostgresCacheStore) Nearest(ctx context.Context, namespace string, vec []float32, k int, threshold float64) ([]cache.Match, error) {
	if k <= 0 {
		k = 1
	}
	query := fmt.Sprintf(`SELECT %s, 1 - (query_embedding <=> $1::vector) AS similarity FROM %s
WHERE namespace = $2 AND is_active AND expires_at > $3 AND 1 - (query_embedding <=> $1::vector) >= $4
ORDER BY similarity DESC, last_used_at DESC, id LIMIT $5`, entryColumns, s.table())

	rows, err := s.db.QueryContext(ctx, query, FormatVector(vec), namespace, time.Now().UTC(), threshold, k)
	if err != nil {
		return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: nearest: %w", err))
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.WithError(errClose).Warn("postgres cache: close rows")
		}
	}()

	var matches []cache.Match
	for rows.Next() {
		var sim float64
		entry, err := scanEntry(rows, &sim)
		if err != nil {
			return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: scan: %w", err))
		}
		matches = append(matches, cache.Match{Entry: entry, Similarity: sim})
	}
	if err = rows.Err(); err != nil {
		return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: rows: %w", err))
	}
	return matches, nil
}

// FindByHash returns the active entry for the exact hash.
func (s *PostgresCacheStore) FindByHash(ctx context.Context, namespace, hash string) (*types.CacheEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE namespace = $1 AND query_hash = $2 AND is_active AND expires_at > $3",
		entryColumns, s.table())
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, namespace, hash, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: find: %w", err))
	}
	return entry, nil
}

// Get returns an entry by id.
func (s *PostgresCacheStore) Get(ctx context.Context, id string) (*types.CacheEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", entryColumns, s.table())
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("cache entry", id)
	}
	if err != nil {
		return nil, types.CacheUnavailable(fmt.Errorf("postgres cache: get: %w", err))
	}
	return entry, nil
}

// IncrementHit bumps hit_count in place.
func (s *PostgresCacheStore) IncrementHit(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET hit_count = hit_count + 1, last_used_at = GREATEST(last_used_at, $2) WHERE id = $1", s.table())
	return s.execOne(ctx, "increment hit", id, query, id, at)
}

// Deactivate clears is_active.
func (s *PostgresCacheStore) Deactivate(ctx context.Context, id string) error {
	query := fmt.Sprintf("UPDATE %s SET is_active = FALSE WHERE id = $1", s.table())
	return s.execOne(ctx, "deactivate", id, query, id)
}

// RecordOutcome updates the outcome counters in one statement.
func (s *PostgresCacheStore) RecordOutcome(ctx context.Context, id string, outcome types.Outcome, rating *float64) (types.OutcomeStats, error) {
	query := fmt.Sprintf(`UPDATE %s SET
successes = successes + CASE WHEN $2 = 'success' THEN 1 ELSE 0 END,
failures = failures + CASE WHEN $2 = 'failure' THEN 1 ELSE 0 END,
partials = partials + CASE WHEN $2 = 'partial' THEN 1 ELSE 0 END,
consecutive_failures = CASE WHEN $2 = 'failure' THEN consecutive_failures + 1 WHEN $2 = '' THEN consecutive_failures ELSE 0 END,
rating_count = rating_count + CASE WHEN $3::double precision IS NULL THEN 0 ELSE 1 END,
rating_sum = rating_sum + COALESCE($3::double precision, 0)
WHERE id = $1
RETURNING successes, failures, partials, consecutive_failures, rating_count, rating_sum`, s.table())

	var ratingArg sql.NullFloat64
	if rating != nil {
		ratingArg = sql.NullFloat64{Float64: *rating, Valid: true}
	}
	var st types.OutcomeStats
	err := s.db.QueryRowContext(ctx, query, id, string(outcome), ratingArg).Scan(
		&st.Successes, &st.Failures, &st.Partials, &st.ConsecutiveFailures, &st.RatingCount, &st.RatingSum)
	if errors.Is(err, sql.ErrNoRows) {
		return types.OutcomeStats{}, types.NotFound("cache entry", id)
	}
	if err != nil {
		return types.OutcomeStats{}, types.CacheUnavailable(fmt.Errorf("postgres cache: record outcome: %w", err))
	}
	return st, nil
}

// Stats aggregates row counts by state.
func (s *PostgresCacheStore) Stats(ctx context.Context) (cache.Stats, error) {
	query := fmt.Sprintf(`SELECT COUNT(*),
COUNT(*) FILTER (WHERE is_active AND expires_at > $1),
COUNT(*) FILTER (WHERE is_active AND expires_at <= $1),
COUNT(*) FILTER (WHERE NOT is_active),
COALESCE(SUM(hit_count), 0) FROM %s`, s.table())
	var st cache.Stats
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC()).Scan(&st.Entries, &st.Active, &st.Expired, &st.Inactive, &st.Hits)
	if err != nil {
		return cache.Stats{}, types.CacheUnavailable(fmt.Errorf("postgres cache: stats: %w", err))
	}
	return st, nil
}

// Purge deletes inactive rows and rows expired before cutoff.
func (s *PostgresCacheStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE NOT is_active OR expires_at <= $1", s.table())
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, types.CacheUnavailable(fmt.Errorf("postgres cache: purge: %w", err))
	}
	return res.RowsAffected()
}

// Ping checks the connection.
func (s *PostgresCacheStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return types.CacheUnavailable(fmt.Errorf("postgres cache: ping: %w", err))
	}
	return nil
}

// Close closes the pool.
func (s *PostgresCacheStore) Close() error { return s.db.Close() }

func (s *PostgresCacheStore) execOne(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return types.CacheUnavailable(fmt.Errorf("postgres cache: %s: %w", op, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.CacheUnavailable(fmt.Errorf("postgres cache: %s: %w", op, err))
	}
	if n == 0 {
		return types.NotFound("cache entry", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, extra ...any) (*types.CacheEntry, error) {
	var (
		e                       types.CacheEntry
		vec, workflow, level    string
		classification, factors []byte
	)
	dest := []any{
		&e.ID, &e.Namespace, &e.QueryHash, &e.QueryText, &vec, &workflow,
		&e.ConfidenceScore, &level, &classification, &factors, &e.HitCount, &e.LastUsedAt,
		&e.CreatedAt, &e.ExpiresAt, &e.IsActive,
		&e.Stats.Successes, &e.Stats.Failures, &e.Stats.Partials, &e.Stats.ConsecutiveFailures,
		&e.Stats.RatingCount, &e.Stats.RatingSum,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var err error
	if e.Embedding, err = ParseVector(vec); err != nil {
		return nil, err
	}
	e.Workflow = types.Workflow(workflow)
	e.ConfidenceLevel = types.ConfidenceLevel(level)
	if err = json.Unmarshal(classification, &e.Classification); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if err = json.Unmarshal(factors, &e.Factors); err != nil {
		return nil, fmt.Errorf("decode routing factors: %w", err)
	}
	return &e, nil
}

// FormatVector renders v in pgvector text form, e.g. "[0.1,0.2]".
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses pgvector text form.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

var _ cache.Store = (*PostgresCacheStore)(nil)
