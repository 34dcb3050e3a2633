package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RangeLedger/internal/event"
)

// CheckpointStore persists per-kind ingestion cursors in state.checkpoints.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load returns the stored cursor for kind, ok=false when the kind has never
// been checkpointed.
func (s *CheckpointStore) Load(ctx context.Context, kind event.Kind) (int64, bool, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM state.checkpoints WHERE event_kind = $1`,
		kind.String(),
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %s: %w", kind, err)
	}
	return cursor, true, nil
}

// Save upserts the cursor for kind.
func (s *CheckpointStore) Save(ctx context.Context, kind event.Kind, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state.checkpoints (event_kind, cursor, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_kind) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			updated_at = EXCLUDED.updated_at`,
		kind.String(), cursor, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", kind, err)
	}
	return nil
}
