package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"RangeLedger/internal/event"
)

// EventRow is a row in event_log.events. The typed columns carry everything
// the aggregator folds; the raw payload rides along for audit.
type EventRow struct {
	TransactionID    string
	EventKind        string
	CheckpointSeq    int64
	EventTimestamp   time.Time
	UserAddress      string
	MarketID         string
	RangeLower       int64
	RangeUpper       int64
	SharesDelta      int64
	CashDelta        int64
	PricePerShare    int64
	SellMode         *string
	LotIndex         *int64
	RealizedPnlDelta *int64
	Payload          []byte
}

// insertEventTx appends the event to the log inside tx, reporting whether the
// row was new. The unique constraint on (transaction_id, event_kind) turns
// redelivery into a silent no-op.
func insertEventTx(ctx context.Context, tx *sql.Tx, row EventRow) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO event_log.events
			(transaction_id, event_kind, checkpoint_seq, event_timestamp,
			 user_address, market_id, range_lower, range_upper,
			 shares_delta, cash_delta, price_per_share,
			 sell_mode, lot_index, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (transaction_id, event_kind) DO NOTHING`,
		row.TransactionID, row.EventKind, row.CheckpointSeq, row.EventTimestamp,
		row.UserAddress, row.MarketID, row.RangeLower, row.RangeUpper,
		row.SharesDelta, row.CashDelta, row.PricePerShare,
		row.SellMode, row.LotIndex, row.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s/%s: %w", row.EventKind, row.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// setRealizedPnlDeltaTx backfills the pnl delta computed by the fold onto the
// already inserted event row, inside the same transaction.
func setRealizedPnlDeltaTx(ctx context.Context, tx *sql.Tx, txID, kind string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE event_log.events
		SET realized_pnl_delta = $3
		WHERE transaction_id = $1 AND event_kind = $2`,
		txID, kind, delta,
	)
	if err != nil {
		return fmt.Errorf("set realized pnl delta %s/%s: %w", kind, txID, err)
	}
	return nil
}

func tradeRow(kind event.Kind, txID string, checkpoint int64, ts time.Time,
	user, market string, lower, upper, shares, cash, price int64, payload []byte) EventRow {
	return EventRow{
		TransactionID:  txID,
		EventKind:      kind.String(),
		CheckpointSeq:  checkpoint,
		EventTimestamp: ts,
		UserAddress:    user,
		MarketID:       market,
		RangeLower:     lower,
		RangeUpper:     upper,
		SharesDelta:    shares,
		CashDelta:      cash,
		PricePerShare:  price,
		Payload:        payload,
	}
}

// MarshalPayload serializes the typed event for the audit column.
func MarshalPayload(evt event.Event) ([]byte, error) {
	return json.Marshal(evt)
}

// EventLog reads the append-only log back out for replay.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// LoadTradeEvents returns the market's trade events in timestamp order,
// rebuilt into their typed forms from the typed columns. Checkpoints are
// monotonic within a kind only, so they break ties but never lead the sort.
func (l *EventLog) LoadTradeEvents(ctx context.Context, marketID string) ([]event.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT transaction_id, event_kind, checkpoint_seq, event_timestamp,
		       user_address, range_lower, range_upper,
		       shares_delta, cash_delta, price_per_share,
		       sell_mode, lot_index
		FROM event_log.events
		WHERE market_id = $1
		  AND event_kind IN ($2, $3, $4)
		ORDER BY event_timestamp, checkpoint_seq, id`,
		marketID,
		event.KindSharesPurchased.String(),
		event.KindSharesSold.String(),
		event.KindRewardsClaimed.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("load trade events for %s: %w", marketID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			txID, kindStr, user string
			checkpoint          int64
			ts                  time.Time
			lower, upper        int64
			shares, cash, price int64
			sellMode            sql.NullString
			lotIndex            sql.NullInt64
		)
		if err := rows.Scan(&txID, &kindStr, &checkpoint, &ts,
			&user, &lower, &upper, &shares, &cash, &price,
			&sellMode, &lotIndex); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}

		evt, err := rebuildTradeEvent(kindStr, txID, checkpoint, ts, user, marketID,
			lower, upper, shares, cash, price, sellMode, lotIndex)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func rebuildTradeEvent(kindStr, txID string, checkpoint int64, ts time.Time,
	user, market string, lower, upper, shares, cash, price int64,
	sellMode sql.NullString, lotIndex sql.NullInt64) (event.Event, error) {

	kind, err := event.ParseKind(kindStr)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", txID, err)
	}

	switch kind {
	case event.KindSharesPurchased:
		return &event.SharesPurchased{
			TxID: txID, CheckpointSeq: checkpoint, Timestamp: ts,
			UserAddress: user, MarketID: market,
			RangeLower: lower, RangeUpper: upper,
			SharesDelta: shares, CashDelta: cash, PricePerShare: price,
		}, nil

	case event.KindSharesSold:
		mode := event.SellModeFIFO
		if sellMode.Valid && sellMode.String == "targeted" {
			mode = event.SellModeTargeted
		}
		var lot *int64
		if lotIndex.Valid {
			v := lotIndex.Int64
			lot = &v
		}
		return &event.SharesSold{
			TxID: txID, CheckpointSeq: checkpoint, Timestamp: ts,
			UserAddress: user, MarketID: market,
			RangeLower: lower, RangeUpper: upper,
			SharesDelta: shares, CashDelta: cash, PricePerShare: price,
			Mode: mode, LotIndex: lot,
		}, nil

	case event.KindRewardsClaimed:
		return &event.RewardsClaimed{
			TxID: txID, CheckpointSeq: checkpoint, Timestamp: ts,
			UserAddress: user, MarketID: market,
			RangeLower: lower, RangeUpper: upper,
			SharesDelta: shares, CashDelta: cash,
		}, nil

	default:
		return nil, fmt.Errorf("event %s: unexpected kind %s in trade query", txID, kindStr)
	}
}
