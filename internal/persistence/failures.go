package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"RangeLedger/internal/settlement"
)

// FailureStore persists failed settlements in state.failed_settlements.
// Implements both the engine's enqueue side and the retry worker's queue.
type FailureStore struct {
	db *sql.DB
}

func NewFailureStore(db *sql.DB) *FailureStore {
	return &FailureStore{db: db}
}

// Enqueue records a failed settlement. One open job per market: a second
// failure for the same market updates the existing job instead of stacking a
// duplicate behind it.
func (s *FailureStore) Enqueue(ctx context.Context, marketID string, resolvedValue int64, cause error) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state.failed_settlements
			(id, market_id, resolved_value, last_error, retry_count, last_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (market_id) DO UPDATE SET
			last_error      = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.last_attempt_at`,
		uuid.New(), marketID, resolvedValue, cause.Error(), now,
	)
	if err != nil {
		return fmt.Errorf("enqueue failed settlement %s: %w", marketID, err)
	}
	return nil
}

// ListRetryable returns jobs under the retry bound, oldest first.
func (s *FailureStore) ListRetryable(ctx context.Context, maxRetries int) ([]settlement.Job, error) {
	return s.list(ctx, `retry_count < $1`, maxRetries)
}

// ListExhausted returns jobs that hit the retry bound.
func (s *FailureStore) ListExhausted(ctx context.Context, maxRetries int) ([]settlement.Job, error) {
	return s.list(ctx, `retry_count >= $1`, maxRetries)
}

func (s *FailureStore) list(ctx context.Context, cond string, maxRetries int) ([]settlement.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, resolved_value, last_error, retry_count, last_attempt_at, created_at
		FROM state.failed_settlements
		WHERE `+cond+`
		ORDER BY created_at`,
		maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed settlements: %w", err)
	}
	defer rows.Close()

	var jobs []settlement.Job
	for rows.Next() {
		var j settlement.Job
		if err := rows.Scan(&j.ID, &j.MarketID, &j.ResolvedValue, &j.LastError,
			&j.RetryCount, &j.LastAttemptAt, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed settlement: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Delete removes a job after a successful retry.
func (s *FailureStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM state.failed_settlements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete failed settlement %s: %w", id, err)
	}
	return nil
}

// RecordFailure bumps the retry count after another unsuccessful attempt.
func (s *FailureStore) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE state.failed_settlements
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    last_attempt_at = $3
		WHERE id = $1`,
		id, cause.Error(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record settlement failure %s: %w", id, err)
	}
	return nil
}
