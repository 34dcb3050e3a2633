package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RangeLedger/internal/position"
)

// Service provides read-only access to the reconciled state tables.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const positionSelect = `
	SELECT user_address, market_id, range_lower, range_upper,
	       total_shares, total_cost_basis, realized_pnl,
	       total_shares_sold, total_proceeds, unrealized_pnl,
	       is_active, close_reason, first_purchase_at, last_updated_at, last_event_ref
	FROM state.positions`

// UserPositions returns a user's positions across markets, newest first.
// activeOnly restricts to open positions.
func (s *Service) UserPositions(ctx context.Context, userAddress string, activeOnly bool) ([]PositionResponse, error) {
	q := positionSelect + ` WHERE user_address = $1`
	if activeOnly {
		q += ` AND is_active`
	}
	q += ` ORDER BY last_updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q, userAddress)
	if err != nil {
		return nil, fmt.Errorf("user positions %s: %w", userAddress, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// MarketPositions returns every position in one market.
func (s *Service) MarketPositions(ctx context.Context, marketID string) ([]PositionResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		positionSelect+` WHERE market_id = $1 ORDER BY user_address, range_lower`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("market positions %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows *sql.Rows) ([]PositionResponse, error) {
	var out []PositionResponse
	for rows.Next() {
		var (
			r               PositionResponse
			unrealized      sql.NullInt64
			firstPurchaseAt sql.NullTime
		)
		if err := rows.Scan(
			&r.UserAddress, &r.MarketID, &r.RangeLower, &r.RangeUpper,
			&r.TotalShares, &r.TotalCostBasis, &r.RealizedPnl,
			&r.TotalSharesSold, &r.TotalProceeds, &unrealized,
			&r.IsActive, &r.CloseReason, &firstPurchaseAt, &r.LastUpdatedAt, &r.LastEventRef,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if unrealized.Valid {
			v := unrealized.Int64
			r.UnrealizedPnl = &v
		}
		if firstPurchaseAt.Valid {
			t := firstPurchaseAt.Time
			r.FirstPurchaseAt = &t
		}
		r.AvgEntryPrice = (&position.Position{
			TotalShares:    r.TotalShares,
			TotalCostBasis: r.TotalCostBasis,
		}).AvgEntryPrice()
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetMarket fetches one market, nil when unknown.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*MarketResponse, error) {
	var (
		m          MarketResponse
		resolved   sql.NullInt64
		resolvedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
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

// FailedSettlements lists the retry queue, oldest first.
func (s *Service) FailedSettlements(ctx context.Context) ([]FailedSettlementResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, resolved_value, last_error, retry_count, last_attempt_at, created_at
		FROM state.failed_settlements
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed settlements: %w", err)
	}
	defer rows.Close()

	var out []FailedSettlementResponse
	for rows.Next() {
		var (
			r             FailedSettlementResponse
			lastAttemptAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.MarketID, &r.ResolvedValue, &r.LastError,
			&r.RetryCount, &lastAttemptAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed settlement: %w", err)
		}
		r.LastAttemptAt = lastAttemptAt
		out = append(out, r)
	}
	return out, rows.Err()
}
