package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"RangeLedger/internal/event"
	"RangeLedger/internal/observability"
	"RangeLedger/internal/position"
)

// PositionStore owns state.positions. Every apply runs as one transaction:
// append the event to the log, fold it into the locked position row, write
// the row back. A duplicate event rolls the whole thing back untouched.
type PositionStore struct {
	db      *sql.DB
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPositionStore(db *sql.DB, logger zerolog.Logger, metrics *observability.Metrics) *PositionStore {
	return &PositionStore{db: db, logger: logger, metrics: metrics}
}

// ApplyPurchase folds a purchase, creating the position on first buy.
func (s *PositionStore) ApplyPurchase(ctx context.Context, e *event.SharesPurchased) (bool, error) {
	payload, err := MarshalPayload(e)
	if err != nil {
		return false, fmt.Errorf("marshal purchase %s: %w", e.TxID, err)
	}
	row := tradeRow(event.KindSharesPurchased, e.TxID, e.CheckpointSeq, e.Timestamp,
		e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper,
		e.SharesDelta, e.CashDelta, e.PricePerShare, payload)

	return s.applyTx(ctx, row, keyOf(e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper),
		func(tx *sql.Tx, pos *position.Position) error {
			if pos == nil {
				pos = position.New(keyOf(e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper))
			}
			if pos.IsTerminal() {
				s.logger.Warn().
					Str("tx_id", e.TxID).
					Str("user", e.UserAddress).
					Str("market", e.MarketID).
					Stringer("close_reason", pos.CloseReason).
					Msg("purchase against closed position, applying anyway")
			}
			pos.ApplyPurchase(e.SharesDelta, -e.CashDelta, e.Timestamp, e.TxID)
			return upsertPositionTx(ctx, tx, pos)
		})
}

// ApplySale folds a sale. A sale against a position that was never opened is
// a data-completeness gap: the event is logged and kept, the state untouched.
func (s *PositionStore) ApplySale(ctx context.Context, e *event.SharesSold) (bool, error) {
	payload, err := MarshalPayload(e)
	if err != nil {
		return false, fmt.Errorf("marshal sale %s: %w", e.TxID, err)
	}
	mode := e.Mode.String()
	row := tradeRow(event.KindSharesSold, e.TxID, e.CheckpointSeq, e.Timestamp,
		e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper,
		e.SharesDelta, e.CashDelta, e.PricePerShare, payload)
	row.SellMode = &mode
	row.LotIndex = e.LotIndex

	return s.applyTx(ctx, row, keyOf(e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper),
		func(tx *sql.Tx, pos *position.Position) error {
			if pos == nil {
				s.missingPosition(e.TxID, e.UserAddress, e.MarketID, "sale")
				return nil
			}
			res := pos.ApplySale(-e.SharesDelta, e.CashDelta, e.Mode, e.Timestamp, e.TxID)
			if res.Oversold {
				s.logger.Warn().
					Str("tx_id", e.TxID).
					Str("user", e.UserAddress).
					Str("market", e.MarketID).
					Int64("sold", -e.SharesDelta).
					Int64("resulting_shares", pos.TotalShares).
					Msg("sale exceeds recorded balance")
				if s.metrics != nil {
					s.metrics.OversellWarnings.Inc()
				}
			}
			if err := upsertPositionTx(ctx, tx, pos); err != nil {
				return err
			}
			return setRealizedPnlDeltaTx(ctx, tx, e.TxID, row.EventKind, res.PnlDelta)
		})
}

// ApplyClaim folds a post-resolution payout claim.
func (s *PositionStore) ApplyClaim(ctx context.Context, e *event.RewardsClaimed) (bool, error) {
	payload, err := MarshalPayload(e)
	if err != nil {
		return false, fmt.Errorf("marshal claim %s: %w", e.TxID, err)
	}
	row := tradeRow(event.KindRewardsClaimed, e.TxID, e.CheckpointSeq, e.Timestamp,
		e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper,
		e.SharesDelta, e.CashDelta, 0, payload)

	return s.applyTx(ctx, row, keyOf(e.UserAddress, e.MarketID, e.RangeLower, e.RangeUpper),
		func(tx *sql.Tx, pos *position.Position) error {
			if pos == nil {
				s.missingPosition(e.TxID, e.UserAddress, e.MarketID, "claim")
				return nil
			}
			pnlDelta := pos.ApplyClaim(e.CashDelta, e.Timestamp, e.TxID)
			if err := upsertPositionTx(ctx, tx, pos); err != nil {
				return err
			}
			return setRealizedPnlDeltaTx(ctx, tx, e.TxID, row.EventKind, pnlDelta)
		})
}

// applyTx runs the log-append + locked-fold transaction. fold receives nil
// when the position does not exist yet.
func (s *PositionStore) applyTx(ctx context.Context, row EventRow, key position.Key,
	fold func(tx *sql.Tx, pos *position.Position) error) (bool, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertEventTx(ctx, tx, row)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	pos, err := selectPositionForUpdate(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if err := fold(tx, pos); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s/%s: %w", row.EventKind, row.TransactionID, err)
	}
	return true, nil
}

func (s *PositionStore) missingPosition(txID, user, market, op string) {
	s.logger.Warn().
		Str("tx_id", txID).
		Str("user", user).
		Str("market", market).
		Str("op", op).
		Msg("event references unknown position, state untouched")
	if s.metrics != nil {
		s.metrics.MissingPositionSkips.Inc()
	}
}

func keyOf(user, market string, lower, upper int64) position.Key {
	return position.Key{UserAddress: user, MarketID: market, RangeLower: lower, RangeUpper: upper}
}

const positionColumns = `
	user_address, market_id, range_lower, range_upper,
	total_shares, total_cost_basis, realized_pnl,
	total_shares_sold, total_proceeds, unrealized_pnl,
	is_active, close_reason, first_purchase_at, last_updated_at, last_event_ref`

func selectPositionForUpdate(ctx context.Context, tx *sql.Tx, key position.Key) (*position.Position, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+positionColumns+`
		FROM state.positions
		WHERE user_address = $1 AND market_id = $2
		  AND range_lower = $3 AND range_upper = $4
		FOR UPDATE`,
		key.UserAddress, key.MarketID, key.RangeLower, key.RangeUpper,
	)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*position.Position, error) {
	var (
		pos             position.Position
		unrealized      sql.NullInt64
		closeReason     string
		firstPurchaseAt sql.NullTime
	)
	err := row.Scan(
		&pos.UserAddress, &pos.MarketID, &pos.RangeLower, &pos.RangeUpper,
		&pos.TotalShares, &pos.TotalCostBasis, &pos.RealizedPnl,
		&pos.TotalSharesSold, &pos.TotalProceeds, &unrealized,
		&pos.IsActive, &closeReason, &firstPurchaseAt, &pos.LastUpdatedAt, &pos.LastEventRef,
	)
	if err != nil {
		return nil, err
	}
	if unrealized.Valid {
		v := unrealized.Int64
		pos.UnrealizedPnl = &v
	}
	pos.CloseReason = position.ParseCloseReason(closeReason)
	if firstPurchaseAt.Valid {
		pos.FirstPurchaseAt = firstPurchaseAt.Time
	}
	return &pos, nil
}

func upsertPositionTx(ctx context.Context, tx *sql.Tx, pos *position.Position) error {
	var unrealized interface{}
	if pos.UnrealizedPnl != nil {
		unrealized = *pos.UnrealizedPnl
	}
	var firstPurchase interface{}
	if !pos.FirstPurchaseAt.IsZero() {
		firstPurchase = pos.FirstPurchaseAt
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO state.positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_address, market_id, range_lower, range_upper) DO UPDATE SET
			total_shares      = EXCLUDED.total_shares,
			total_cost_basis  = EXCLUDED.total_cost_basis,
			realized_pnl      = EXCLUDED.realized_pnl,
			total_shares_sold = EXCLUDED.total_shares_sold,
			total_proceeds    = EXCLUDED.total_proceeds,
			unrealized_pnl    = EXCLUDED.unrealized_pnl,
			is_active         = EXCLUDED.is_active,
			close_reason      = EXCLUDED.close_reason,
			first_purchase_at = EXCLUDED.first_purchase_at,
			last_updated_at   = EXCLUDED.last_updated_at,
			last_event_ref    = EXCLUDED.last_event_ref`,
		pos.UserAddress, pos.MarketID, pos.RangeLower, pos.RangeUpper,
		pos.TotalShares, pos.TotalCostBasis, pos.RealizedPnl,
		pos.TotalSharesSold, pos.TotalProceeds, unrealized,
		pos.IsActive, pos.CloseReason.String(), firstPurchase, pos.LastUpdatedAt, pos.LastEventRef,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", pos.UserAddress, pos.MarketID, err)
	}
	return nil
}

// SettleMarket runs the bulk winner/loser classification for a resolved
// market. Both updates filter on is_active, so a re-run after a partial
// failure touches only what the first run missed.
func (s *PositionStore) SettleMarket(ctx context.Context, marketID string, resolvedValue int64) (losers, winners int64, err error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE state.positions
		SET is_active       = FALSE,
		    close_reason    = 'lost_resolution',
		    unrealized_pnl  = -total_cost_basis,
		    last_updated_at = $3
		WHERE market_id = $1
		  AND is_active
		  AND ($2 < range_lower OR $2 > range_upper)`,
		marketID, resolvedValue, now,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("settle losers for %s: %w", marketID, err)
	}
	losers, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE state.positions
		SET unrealized_pnl  = total_shares - total_cost_basis,
		    last_updated_at = $3
		WHERE market_id = $1
		  AND is_active
		  AND $2 BETWEEN range_lower AND range_upper`,
		marketID, resolvedValue, now,
	)
	if err != nil {
		return losers, 0, fmt.Errorf("settle winners for %s: %w", marketID, err)
	}
	winners, _ = res.RowsAffected()

	return losers, winners, nil
}

// LoadMarketPositions returns every position row for a market, keyed for
// replay comparison.
func (s *PositionStore) LoadMarketPositions(ctx context.Context, marketID string) (map[position.Key]*position.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM state.positions
		WHERE market_id = $1`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("load positions for %s: %w", marketID, err)
	}
	defer rows.Close()

	out := make(map[position.Key]*position.Position)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out[pos.Key] = pos
	}
	return out, rows.Err()
}
