// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decisionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/types"
)

// SQLiteLog persists decisions in a local SQLite database.
type SQLiteLog struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	mu            sync.RWMutex
	enabled       bool
}

// NewSQLiteLog creates a log at dbPath. Call Initialize before use.
//
// Parameters:
//   - dbPath: Path to the SQLite database file
//   - retentionDays: Records older than this are deleted on startup and shutdown
func NewSQLiteLog(dbPath string, retentionDays int) (*SQLiteLog, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &SQLiteLog{dbPath: dbPath, retentionDays: retentionDays}, nil
}

// Initialize opens the database and creates the schema.
func (l *SQLiteLog) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(l.dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", l.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS routing_decisions (
		id TEXT PRIMARY KEY,
		cache_entry_id TEXT,
		query_text TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		workflow TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		confidence_level TEXT NOT NULL,
		from_cache INTEGER NOT NULL DEFAULT 0,
		routing_factors TEXT,
		outcome TEXT,
		rating REAL,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		metrics TEXT,
		run_summary TEXT,
		created_at DATETIME NOT NULL,
		outcome_updated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON routing_decisions(created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_workflow ON routing_decisions(workflow);
	CREATE INDEX IF NOT EXISTS idx_decisions_cache_entry ON routing_decisions(cache_entry_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	l.db = db
	l.enabled = true
	log.Infof("Decision log initialized (db: %s, retention: %d days)", l.dbPath, l.retentionDays)

	go l.cleanupOldRecords(context.Background())
	return nil
}

func (l *SQLiteLog) ready() error {
	if !l.enabled {
		return fmt.Errorf("decision log not initialized")
	}
	return nil
}

// Append inserts rec.
func (l *SQLiteLog) Append(ctx context.Context, rec *types.DecisionRecord) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return err
	}
	prepare(rec)

	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		log.Warnf("Failed to marshal routing factors: %v", err)
		factors = []byte("{}")
	}

	query := `
	INSERT INTO routing_decisions (
		id, cache_entry_id, query_text, query_hash, workflow, confidence_score,
		confidence_level, from_cache, routing_factors, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query,
		rec.ID, rec.CacheEntryID, rec.QueryText, rec.QueryHash, string(rec.Workflow),
		rec.ConfidenceScore, string(rec.ConfidenceLevel), boolToInt(rec.FromCache),
		string(factors), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// UpdateOutcome sets the outcome if none has been recorded yet.
func (l *SQLiteLog) UpdateOutcome(ctx context.Context, id string, update OutcomeUpdate) (*types.DecisionRecord, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}
	l.mu.RLock()
	if err := l.ready(); err != nil {
		l.mu.RUnlock()
		return nil, err
	}

	metrics, _ := json.Marshal(update.Metrics)
	var summary []byte
	if update.RunSummary != nil {
		summary, _ = json.Marshal(update.RunSummary)
	}
	var rating sql.NullFloat64
	if update.Rating != nil {
		rating = sql.NullFloat64{Float64: *update.Rating, Valid: true}
	}

	res, err := l.db.ExecContext(ctx, `
	UPDATE routing_decisions
	SET outcome = ?, rating = COALESCE(rating, ?), execution_time_ms = ?, metrics = ?, run_summary = ?, outcome_updated_at = ?
	WHERE id = ? AND outcome IS NULL
	`, string(update.Outcome), rating, update.ExecutionTimeMs, string(metrics), nullString(summary), time.Now().UTC(), id)
	l.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rec, errGet := l.Get(ctx, id)
		if errGet != nil {
			return nil, errGet
		}
		if rec.Outcome != "" {
			return nil, types.Validation("outcome for decision %s already recorded", id)
		}
		return nil, fmt.Errorf("failed to update outcome for decision %s", id)
	}
	return l.Get(ctx, id)
}

// UpdateRating sets the rating if none has been recorded yet.
func (l *SQLiteLog) UpdateRating(ctx context.Context, id string, rating float64) (*types.DecisionRecord, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}
	l.mu.RLock()
	if err := l.ready(); err != nil {
		l.mu.RUnlock()
		return nil, err
	}
	res, err := l.db.ExecContext(ctx,
		"UPDATE routing_decisions SET rating = ? WHERE id = ? AND rating IS NULL", rating, id)
	l.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rec, errGet := l.Get(ctx, id)
		if errGet != nil {
			return nil, errGet
		}
		if rec.Rating != nil {
			return nil, types.Validation("rating for decision %s already recorded", id)
		}
		return nil, fmt.Errorf("failed to update rating for decision %s", id)
	}
	return l.Get(ctx, id)
}

const selectColumns = `id, cache_entry_id, query_text, query_hash, workflow, confidence_score,
	confidence_level, from_cache, routing_factors, outcome, rating, execution_time_ms,
	metrics, run_summary, created_at, outcome_updated_at`

// Get returns one record.
func (l *SQLiteLog) Get(ctx context.Context, id string) (*types.DecisionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return nil, err
	}
	row := l.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM routing_decisions WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("decision", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision: %w", err)
	}
	return rec, nil
}

// Recent returns the latest records, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]*types.DecisionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM routing_decisions ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []*types.DecisionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			log.Warnf("Failed to scan decision record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision records: %w", err)
	}
	return records, nil
}

// Stats aggregates counts, success rate and workflow distribution.
func (l *SQLiteLog) Stats(ctx context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.ready(); err != nil {
		return Stats{}, err
	}

	st := Stats{WorkflowDistribution: make(map[types.Workflow]int64)}
	var successes int64
	var avg, avgRating sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN outcome IS NOT NULL THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(from_cache), 0),
	       COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
	       AVG(CASE WHEN outcome IS NOT NULL THEN execution_time_ms END),
	       COUNT(rating),
	       AVG(rating)
	FROM routing_decisions`).Scan(&st.Total, &st.WithOutcome, &st.FromCache, &successes, &avg, &st.Rated, &avgRating)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get decision stats: %w", err)
	}
	if st.WithOutcome > 0 {
		st.SuccessRate = float64(successes) / float64(st.WithOutcome)
	}
	st.AvgExecutionMs = avg.Float64
	st.AvgRating = avgRating.Float64

	rows, err := l.db.QueryContext(ctx, "SELECT workflow, COUNT(*) FROM routing_decisions GROUP BY workflow")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get workflow distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wf string
		var count int64
		if err := rows.Scan(&wf, &count); err != nil {
			continue
		}
		st.WorkflowDistribution[types.Workflow(wf)] = count
	}
	return st, rows.Err()
}

// cleanupOldRecords removes records past retention. Must be called without holding the lock.
func (l *SQLiteLog) cleanupOldRecords(ctx context.Context) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.enabled {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	result, err := l.db.ExecContext(ctx, "DELETE FROM routing_decisions WHERE created_at < ?", cutoff)
	if err != nil {
		log.Warnf("Failed to cleanup old decision records: %v", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Infof("Cleaned up %d old decision records (older than %d days)", n, l.retentionDays)
	}
}

// Close runs a final cleanup and closes the database.
func (l *SQLiteLog) Close() error {
	l.cleanupOldRecords(context.Background())

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil
	}
	l.enabled = false
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Info("Decision log shut down")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*types.DecisionRecord, error) {
	var (
		rec                       types.DecisionRecord
		cacheEntryID, outcome     sql.NullString
		factors, metrics, summary sql.NullString
		workflow, level           string
		fromCache                 int
		rating                    sql.NullFloat64
		outcomeAt                 sql.NullTime
	)
	err := row.Scan(&rec.ID, &cacheEntryID, &rec.QueryText, &rec.QueryHash, &workflow,
		&rec.ConfidenceScore, &level, &fromCache, &factors, &outcome, &rating,
		&rec.ExecutionTimeMs, &metrics, &summary, &rec.CreatedAt, &outcomeAt)
	if err != nil {
		return nil, err
	}
	rec.CacheEntryID = cacheEntryID.String
	rec.Workflow = types.Workflow(workflow)
	rec.ConfidenceLevel = types.ConfidenceLevel(level)
	rec.FromCache = fromCache == 1
	rec.Outcome = types.Outcome(outcome.String)
	if rating.Valid {
		r := rating.Float64
		rec.Rating = &r
	}
	if outcomeAt.Valid {
		t := outcomeAt.Time
		rec.OutcomeUpdatedAt = &t
	}
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &rec.Factors); err != nil {
			log.Warnf("Failed to unmarshal routing factors: %v", err)
		}
	}
	if metrics.Valid && metrics.String != "" && metrics.String != "null" {
		if err := json.Unmarshal([]byte(metrics.String), &rec.Metrics); err != nil {
			log.Warnf("Failed to unmarshal metrics: %v", err)
		}
	}
	if summary.Valid && summary.String != "" {
		rec.RunSummary = &types.RunSummary{}
		if err := json.Unmarshal([]byte(summary.String), rec.RunSummary); err != nil {
			log.Warnf("Failed to unmarshal run summary: %v", err)
		}
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var (
	_ Log = (*SQLiteLog)(nil)
	_ Log = (*MemoryLog)(nil)
)
