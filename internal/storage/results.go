/**
 * PostgreSQL Result Store for the Screen OCR Worker
 *
 * Keeps a history of delivered results in screenocr.results. The schema is
 * created on startup when missing.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS screenocr;
	CREATE TABLE IF NOT EXISTS screenocr.results (
		id                 UUID PRIMARY KEY,
		text               TEXT NOT NULL,
		confidence         NUMERIC(5,4),
		engine             TEXT NOT NULL,
		engine_class       TEXT NOT NULL,
		processing_time_ms BIGINT NOT NULL,
		word_count         INTEGER NOT NULL,
		region_confidences NUMERIC(5,4)[],
		source             TEXT,
		captured_at        TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS results_completed_at_idx ON screenocr.results (completed_at DESC);
`

const insertSQL = `
	INSERT INTO screenocr.results (
		id, text, confidence, engine, engine_class,
		processing_time_ms, word_count, region_confidences,
		source, captured_at, completed_at
	) VALUES (
		$1::uuid, $2, $3::NUMERIC(5,4), $4, $5,
		$6, $7, $8,
		NULLIF($9, ''), $10, $11
	)
	ON CONFLICT (id) DO NOTHING
`

const recentSQL = `
	SELECT id, text, confidence, engine, engine_class, processing_time_ms, completed_at
	FROM screenocr.results
	ORDER BY completed_at DESC
	LIMIT $1
`

// StoredResult is one row of the results table
type StoredResult struct {
	ID               string
	Text             string
	Confidence       float64
	Engine           string
	Class            string
	ProcessingTimeMs int64
	CompletedAt      time.Time
}

// ResultStore is a result sink writing to PostgreSQL
type ResultStore struct {
	db *sql.DB
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0, 1] so it always fits NUMERIC(5,4)
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewResultStore opens the database, checks the connection and ensures the schema
func NewResultStore(ctx context.Context, databaseURL string) (*ResultStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One delivery at a time per sink; a small pool is enough.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &ResultStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the schema, table and index when missing
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create results schema: %w", err)
	}
	return nil
}

func (s *ResultStore) Name() string { return "postgres" }

func (s *ResultStore) Deliver(ctx context.Context, r ocr.Result) error {
	if r.ID == "" {
		return fmt.Errorf("result ID is required")
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, insertArgs(r)...); err != nil {
		return fmt.Errorf("failed to store result (id=%s, confidence=%.4f): %w",
			r.ID, sanitizeConfidence(r.Confidence), err)
	}
	return nil
}

// Recent returns the last n stored results, newest first
func (s *ResultStore) Recent(ctx context.Context, n int) ([]StoredResult, error) {
	rows, err := s.db.QueryContext(ctx, recentSQL, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var sr StoredResult
		var confidence sql.NullFloat64
		if err := rows.Scan(&sr.ID, &sr.Text, &confidence, &sr.Engine, &sr.Class,
			&sr.ProcessingTimeMs, &sr.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		sr.Confidence = confidence.Float64
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func insertArgs(r ocr.Result) []interface{} {
	var captured interface{}
	if !r.CapturedAt.IsZero() {
		captured = r.CapturedAt
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	return []interface{}{
		r.ID,                             // $1 - id
		r.Text,                           // $2 - text
		sanitizeConfidence(r.Confidence), // $3 - confidence
		r.Engine,                         // $4 - engine
		r.Class,                          // $5 - engine_class
		r.Duration.Milliseconds(),        // $6 - processing_time_ms
		r.WordCount(),                    // $7 - word_count
		pq.Array(regionConfidences(r)),   // $8 - region_confidences
		r.Source,                         // $9 - source
		captured,                         // $10 - captured_at
		completed,                        // $11 - completed_at
	}
}

func regionConfidences(r ocr.Result) []float64 {
	out := make([]float64, len(r.Regions))
	for i, reg := range r.Regions {
		out[i] = sanitizeConfidence(reg.Confidence)
	}
	return out
}
