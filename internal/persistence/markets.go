package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RangeLedger/internal/event"
)

// Market is a row in the denormalized market cache.
type Market struct {
	MarketID       string
	Name           string
	Category       string
	MinValue       int64
	MaxValue       int64
	RangeWidth     int64
	ResolutionTime time.Time
	Status         event.MarketStatus
	ResolvedValue  *int64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// MarketCache owns state.markets. Lifecycle events go through the same
// log-then-mutate transaction as trades, so redelivery is a no-op here too.
type MarketCache struct {
	db *sql.DB
}

func NewMarketCache(db *sql.DB) *MarketCache {
	return &MarketCache{db: db}
}

// CreateMarket records a new market.
func (c *MarketCache) CreateMarket(ctx context.Context, e *event.MarketCreated) (bool, error) {
	payload, err := MarshalPayload(e)
	if err != nil {
		return false, fmt.Errorf("marshal market created %s: %w", e.TxID, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := EventRow{
		TransactionID:  e.TxID,
		EventKind:      event.KindMarketCreated.String(),
		CheckpointSeq:  e.CheckpointSeq,
		EventTimestamp: e.Timestamp,
		MarketID:       e.MarketID,
		Payload:        payload,
	}
	inserted, err := insertEventTx(ctx, tx, row)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO state.markets
			(market_id, name, category, min_value, max_value, range_width,
			 resolution_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id) DO NOTHING`,
		e.MarketID, e.Name, e.Category, e.MinValue, e.MaxValue, e.RangeWidth,
		e.ResolutionTime, event.MarketStatusActive, e.Timestamp,
	); err != nil {
		return false, fmt.Errorf("insert market %s: %w", e.MarketID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit market created %s: %w", e.TxID, err)
	}
	return true, nil
}

// ResolveMarket marks the market resolved with its outcome value. The market
// row may be absent when the creation event predates our fast-forward point;
// resolution is still logged and settlement still runs off the positions.
func (c *MarketCache) ResolveMarket(ctx context.Context, e *event.MarketResolved) (bool, error) {
	payload, err := MarshalPayload(e)
	if err != nil {
		return false, fmt.Errorf("marshal market resolved %s: %w", e.TxID, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := EventRow{
		TransactionID:  e.TxID,
		EventKind:      event.KindMarketResolved.String(),
		CheckpointSeq:  e.CheckpointSeq,
		EventTimestamp: e.Timestamp,
		MarketID:       e.MarketID,
		Payload:        payload,
	}
	inserted, err := insertEventTx(ctx, tx, row)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE state.markets
		SET status = $2, resolved_value = $3, resolved_at = $4
		WHERE market_id = $1`,
		e.MarketID, event.MarketStatusResolved, e.ResolvedValue, e.Timestamp,
	); err != nil {
		return false, fmt.Errorf("resolve market %s: %w", e.MarketID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit market resolved %s: %w", e.TxID, err)
	}
	return true, nil
}

// GetMarket fetches one market, nil when unknown.
func (c *MarketCache) GetMarket(ctx context.Context, marketID string) (*Market, error) {
	var (
		m          Market
		resolved   sql.NullInt64
		resolvedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT market_id, name, category, min_value, max_value, range_width,
		       resolution_time, status, resolved_value, created_at, resolved_at
		FROM state.markets
		WHERE market_id = $1`,
		marketID,
	).Scan(&m.MarketID, &m.Name, &m.Category, &m.MinValue, &m.MaxValue, &m.RangeWidth,
		&m.ResolutionTime, &m.Status, &resolved, &m.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", marketID, err)
	}
	if resolved.Valid {
		v := resolved.Int64
		m.ResolvedValue = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

// ResolvedValue returns the stored outcome for a resolved market.
func (c *MarketCache) ResolvedValue(ctx context.Context, marketID string) (int64, error) {
	m, err := c.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, fmt.Errorf("market %s not found", marketID)
	}
	if m.ResolvedValue == nil {
		return 0, fmt.Errorf("market %s not resolved", marketID)
	}
	return *m.ResolvedValue, nil
}
