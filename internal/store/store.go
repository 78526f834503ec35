// Package store persists a log of relayed requests.
//
// DESIGN: One row per /v1/messages relay, written after the upstream
// response completes. Backed by SQLite (modernc.org/sqlite, no cgo) so the
// log survives restarts; a NopStore stands in when no path is configured.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RelayRecord is one relayed request.
type RelayRecord struct {
	RequestID      string
	Timestamp      time.Time
	RequestedModel string
	ResolvedModel  string
	Stream         bool
	StatusCode     int
	DurationMs     int64
	InputTokens    int
	OutputTokens   int
}

// UsageStats aggregates the relay log.
type UsageStats struct {
	Requests     int64 `json:"requests"`
	Successes    int64 `json:"successes"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store records relayed requests and answers aggregate queries.
type Store interface {
	Record(ctx context.Context, rec *RelayRecord) error
	Stats(ctx context.Context) (*UsageStats, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS relays (
	request_id      TEXT NOT NULL,
	ts              INTEGER NOT NULL,
	requested_model TEXT NOT NULL,
	resolved_model  TEXT NOT NULL,
	stream          INTEGER NOT NULL,
	status_code     INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL,
	input_tokens    INTEGER NOT NULL,
	output_tokens   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relays_ts ON relays(ts);
`

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) the relay log at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create usage db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage db: %w", err)
	}

	// Single writer; the proxy serializes writes through database/sql anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage db: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record inserts one relay row.
func (s *SQLiteStore) Record(ctx context.Context, rec *RelayRecord) error {
	stream := 0
	if rec.Stream {
		stream = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relays (request_id, ts, requested_model, resolved_model, stream, status_code, duration_ms, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Timestamp.Unix(), rec.RequestedModel, rec.ResolvedModel,
		stream, rec.StatusCode, rec.DurationMs, rec.InputTokens, rec.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to record relay: %w", err)
	}
	return nil
}

// Stats aggregates the relay log.
func (s *SQLiteStore) Stats(ctx context.Context) (*UsageStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status_code < 400 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0)
		 FROM relays`)

	var stats UsageStats
	if err := row.Scan(&stats.Requests, &stats.Successes, &stats.InputTokens, &stats.OutputTokens); err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// NopStore discards records; used when no usage DB is configured.
type NopStore struct{}

func (NopStore) Record(context.Context, *RelayRecord) error { return nil }
func (NopStore) Stats(context.Context) (*UsageStats, error) { return &UsageStats{}, nil }
func (NopStore) Close() error                               { return nil }

// Ensure implementations satisfy Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = NopStore{}
)
