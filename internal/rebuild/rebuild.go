package rebuild

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"RangeLedger/internal/event"
	"RangeLedger/internal/observability"
	"RangeLedger/internal/position"
)

// EventSource replays a market's trade events in timestamp order.
type EventSource interface {
	LoadTradeEvents(ctx context.Context, marketID string) ([]event.Event, error)
}

// LiveStore reads the incrementally maintained position state.
type LiveStore interface {
	LoadMarketPositions(ctx context.Context, marketID string) (map[position.Key]*position.Position, error)
}

// FieldDiff is one diverging field on a position.
type FieldDiff struct {
	Name     string `json:"name"`
	Live     string `json:"live"`
	Replayed string `json:"replayed"`
}

// Mismatch is one position whose live row diverges from replay.
type Mismatch struct {
	Key    position.Key `json:"key"`
	Fields []FieldDiff  `json:"fields"`
}

// Report summarizes a reconciliation pass.
type Report struct {
	MarketID       string     `json:"market_id"`
	EventsReplayed int        `json:"events_replayed"`
	Checked        int        `json:"positions_checked"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
}

// Clean reports whether live state matched the replay exactly.
func (r Report) Clean() bool {
	return len(r.Mismatches) == 0
}

// Rebuilder derives position state from the event log alone and compares it
// against the live store. The fold is the same pure code the aggregator runs,
// so any divergence means the live state was corrupted outside the ledger.
type Rebuilder struct {
	events  EventSource
	live    LiveStore
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewRebuilder(events EventSource, live LiveStore, logger zerolog.Logger, metrics *observability.Metrics) *Rebuilder {
	return &Rebuilder{events: events, live: live, logger: logger, metrics: metrics}
}

// Rebuild folds the market's trade events into fresh positions. The returned
// count is the number of events replayed.
func (r *Rebuilder) Rebuild(ctx context.Context, marketID string) (map[position.Key]*position.Position, int, error) {
	events, err := r.events.LoadTradeEvents(ctx, marketID)
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild %s: %w", marketID, err)
	}

	positions := make(map[position.Key]*position.Position)
	for _, evt := range events {
		r.fold(positions, evt)
	}
	return positions, len(events), nil
}

func (r *Rebuilder) fold(positions map[position.Key]*position.Position, evt event.Event) {
	switch e := evt.(type) {
	case *event.SharesPurchased:
		key := position.Key{UserAddress: e.UserAddress, MarketID: e.MarketID,
			RangeLower: e.RangeLower, RangeUpper: e.RangeUpper}
		pos, ok := positions[key]
		if !ok {
			pos = position.New(key)
			positions[key] = pos
		}
		pos.ApplyPurchase(e.SharesDelta, -e.CashDelta, e.Timestamp, e.TxID)

	case *event.SharesSold:
		key := position.Key{UserAddress: e.UserAddress, MarketID: e.MarketID,
			RangeLower: e.RangeLower, RangeUpper: e.RangeUpper}
		pos, ok := positions[key]
		if !ok {
			// Same gap handling as the live path: logged, state untouched.
			r.logger.Warn().Str("tx_id", e.TxID).Str("user", e.UserAddress).
				Msg("replayed sale references unknown position")
			return
		}
		pos.ApplySale(-e.SharesDelta, e.CashDelta, e.Mode, e.Timestamp, e.TxID)

	case *event.RewardsClaimed:
		key := position.Key{UserAddress: e.UserAddress, MarketID: e.MarketID,
			RangeLower: e.RangeLower, RangeUpper: e.RangeUpper}
		pos, ok := positions[key]
		if !ok {
			r.logger.Warn().Str("tx_id", e.TxID).Str("user", e.UserAddress).
				Msg("replayed claim references unknown position")
			return
		}
		pos.ApplyClaim(e.CashDelta, e.Timestamp, e.TxID)
	}
}

// Reconcile replays the market and diffs the result against live state.
// resolvedValue is non-nil for resolved markets; the replay then applies the
// same classification settlement ran, so settled live state compares clean.
func (r *Rebuilder) Reconcile(ctx context.Context, marketID string, resolvedValue *int64) (Report, error) {
	report := Report{MarketID: marketID}

	replayed, count, err := r.Rebuild(ctx, marketID)
	if err != nil {
		r.countRun("error")
		return report, err
	}
	report.EventsReplayed = count

	if resolvedValue != nil {
		for _, pos := range replayed {
			pos.ApplyResolution(*resolvedValue, pos.LastUpdatedAt)
		}
	}

	live, err := r.live.LoadMarketPositions(ctx, marketID)
	if err != nil {
		r.countRun("error")
		return report, fmt.Errorf("reconcile %s: %w", marketID, err)
	}
	report.Checked = len(live)

	for key, livePos := range live {
		replayPos, ok := replayed[key]
		if !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Key:    key,
				Fields: []FieldDiff{{Name: "existence", Live: "present", Replayed: "absent"}},
			})
			continue
		}
		if diffs := diffPositions(livePos, replayPos); len(diffs) > 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{Key: key, Fields: diffs})
		}
	}
	for key := range replayed {
		if _, ok := live[key]; !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Key:    key,
				Fields: []FieldDiff{{Name: "existence", Live: "absent", Replayed: "present"}},
			})
		}
	}

	if report.Clean() {
		r.countRun("clean")
		r.logger.Info().Str("market", marketID).Int("events", count).
			Int("positions", report.Checked).Msg("reconciliation clean")
	} else {
		r.countRun("mismatch")
		if r.metrics != nil {
			r.metrics.ReconcileMismatches.Add(float64(len(report.Mismatches)))
		}
		r.logger.Error().Str("market", marketID).
			Int("mismatches", len(report.Mismatches)).
			Msg("reconciliation found divergent positions")
	}
	return report, nil
}

func (r *Rebuilder) countRun(result string) {
	if r.metrics != nil {
		r.metrics.ReconcileRuns.WithLabelValues(result).Inc()
	}
}

func diffPositions(live, replayed *position.Position) []FieldDiff {
	var diffs []FieldDiff
	addInt := func(name string, l, rp int64) {
		if l != rp {
			diffs = append(diffs, FieldDiff{name, fmt.Sprint(l), fmt.Sprint(rp)})
		}
	}

	addInt("total_shares", live.TotalShares, replayed.TotalShares)
	addInt("total_cost_basis", live.TotalCostBasis, replayed.TotalCostBasis)
	addInt("realized_pnl", live.RealizedPnl, replayed.RealizedPnl)
	addInt("total_shares_sold", live.TotalSharesSold, replayed.TotalSharesSold)
	addInt("total_proceeds", live.TotalProceeds, replayed.TotalProceeds)

	if !equalOptInt(live.UnrealizedPnl, replayed.UnrealizedPnl) {
		diffs = append(diffs, FieldDiff{"unrealized_pnl",
			formatOptInt(live.UnrealizedPnl), formatOptInt(replayed.UnrealizedPnl)})
	}
	if live.IsActive != replayed.IsActive {
		diffs = append(diffs, FieldDiff{"is_active",
			fmt.Sprint(live.IsActive), fmt.Sprint(replayed.IsActive)})
	}
	if live.CloseReason != replayed.CloseReason {
		diffs = append(diffs, FieldDiff{"close_reason",
			live.CloseReason.String(), replayed.CloseReason.String()})
	}
	return diffs
}

func equalOptInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatOptInt(v *int64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}
