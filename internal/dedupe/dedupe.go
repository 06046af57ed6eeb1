// Package dedupe keeps a ledger of workflow submissions keyed by the SHA-256
// of the submitted image.
package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Tracker tracks repeated workflow submissions of the same image
type Tracker struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to databaseURL and prepares the ledger table
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Tracker, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedupe database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach dedupe database: %w", err)
	}
	t, err := NewTracker(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// NewTracker creates a tracker on an open database
func NewTracker(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := &Tracker{db: db, logger: logger}

	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

// ensureTable creates the process_dedupe table if it doesn't exist
func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS process_dedupe (
			content_hash TEXT PRIMARY KEY,
			pipeline TEXT,
			pipeline_version INTEGER,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create process_dedupe table: %w", err)
	}

	t.logger.Info("process_dedupe table ready")
	return nil
}

// Record records a submission of contentHash and returns how many times it has been seen
func (t *Tracker) Record(ctx context.Context, contentHash string, pipeline string, pipelineVersion int) (int, error) {
	query := `
		INSERT INTO process_dedupe (content_hash, pipeline, pipeline_version, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (content_hash) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = process_dedupe.seen_count + 1,
		    pipeline = EXCLUDED.pipeline,
		    pipeline_version = EXCLUDED.pipeline_version
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, contentHash, pipeline, pipelineVersion).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	if seenCount > 1 {
		t.logger.Info("Image submitted again",
			zap.String("content_hash", contentHash),
			zap.Int("seen_count", seenCount))
	}
	return seenCount, nil
}

// GetSeenCount retrieves the seen count for a content hash
func (t *Tracker) GetSeenCount(ctx context.Context, contentHash string) (int, error) {
	query := `SELECT seen_count FROM process_dedupe WHERE content_hash = $1`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, contentHash).Scan(&seenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}

// Close closes the underlying database
func (t *Tracker) Close() error {
	return t.db.Close()
}
