package rebuild

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"RangeLedger/internal/event"
	"RangeLedger/internal/position"
)

type fakeEvents struct {
	events []event.Event
}

func (f *fakeEvents) LoadTradeEvents(_ context.Context, _ string) ([]event.Event, error) {
	return f.events, nil
}

type fakeLive struct {
	positions map[position.Key]*position.Position
}

func (f *fakeLive) LoadMarketPositions(_ context.Context, _ string) (map[position.Key]*position.Position, error) {
	return f.positions, nil
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func purchase(txID, user string, shares, cost int64) *event.SharesPurchased {
	return &event.SharesPurchased{
		TxID: txID, Timestamp: baseTime, UserAddress: user, MarketID: "mkt-1",
		RangeLower: 90000, RangeUpper: 91000,
		SharesDelta: shares, CashDelta: -cost,
	}
}

func sale(txID, user string, shares, proceeds int64) *event.SharesSold {
	return &event.SharesSold{
		TxID: txID, Timestamp: baseTime.Add(time.Minute), UserAddress: user, MarketID: "mkt-1",
		RangeLower: 90000, RangeUpper: 91000,
		SharesDelta: -shares, CashDelta: proceeds,
	}
}

func claim(txID, user string, shares, payout int64) *event.RewardsClaimed {
	return &event.RewardsClaimed{
		TxID: txID, Timestamp: baseTime.Add(2 * time.Minute), UserAddress: user, MarketID: "mkt-1",
		RangeLower: 90000, RangeUpper: 91000,
		SharesDelta: -shares, CashDelta: payout,
	}
}

// liveFold mirrors the aggregator: apply events one by one with resolution
// interleaved at its live point, not appended at the end.
func liveFold(events []event.Event, resolveAfter int, resolvedValue int64) map[position.Key]*position.Position {
	positions := make(map[position.Key]*position.Position)
	apply := func(evt event.Event) {
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
			if pos, ok := positions[key]; ok {
				pos.ApplySale(-e.SharesDelta, e.CashDelta, e.Mode, e.Timestamp, e.TxID)
			}
		case *event.RewardsClaimed:
			key := position.Key{UserAddress: e.UserAddress, MarketID: e.MarketID,
				RangeLower: e.RangeLower, RangeUpper: e.RangeUpper}
			if pos, ok := positions[key]; ok {
				pos.ApplyClaim(e.CashDelta, e.Timestamp, e.TxID)
			}
		}
	}

	for i, evt := range events {
		if i == resolveAfter {
			for _, pos := range positions {
				pos.ApplyResolution(resolvedValue, baseTime)
			}
		}
		apply(evt)
	}
	if resolveAfter == len(events) {
		for _, pos := range positions {
			pos.ApplyResolution(resolvedValue, baseTime)
		}
	}
	return positions
}

func newRebuilder(events []event.Event, live map[position.Key]*position.Position) *Rebuilder {
	return NewRebuilder(&fakeEvents{events: events}, &fakeLive{positions: live}, zerolog.Nop(), nil)
}

func TestReconcileCleanUnresolvedMarket(t *testing.T) {
	events := []event.Event{
		purchase("t1", "alice", 100, 50),
		sale("t2", "alice", 40, 25),
		purchase("t3", "bob", 200, 120),
	}
	live := liveFold(events, len(events)+1, 0) // never resolved

	report, err := newRebuilder(events, live).Reconcile(context.Background(), "mkt-1", nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report, got mismatches: %+v", report.Mismatches)
	}
	if report.EventsReplayed != 3 || report.Checked != 2 {
		t.Errorf("report counts: %+v", report)
	}
}

func TestReconcileCleanResolvedAndClaimed(t *testing.T) {
	// Live order: buy, resolve (win), claim. Replay applies resolution after
	// all trades; the claim fold clears the provisional unrealized figure so
	// both paths land on identical state.
	events := []event.Event{
		purchase("t1", "alice", 100, 50),
		sale("t2", "alice", 40, 25),
		claim("t3", "alice", 60, 60),
	}
	resolved := int64(90500)
	live := liveFold(events, 2, resolved) // resolution lands before the claim

	report, err := newRebuilder(events, live).Reconcile(context.Background(), "mkt-1", &resolved)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("resolved+claimed market should reconcile clean: %+v", report.Mismatches)
	}

	key := position.Key{UserAddress: "alice", MarketID: "mkt-1", RangeLower: 90000, RangeUpper: 91000}
	pos := live[key]
	if pos.RealizedPnl != 35 {
		t.Errorf("realized pnl: got %d, want 35", pos.RealizedPnl)
	}
	if pos.UnrealizedPnl != nil {
		t.Errorf("unrealized pnl after claim: got %v, want nil", *pos.UnrealizedPnl)
	}
}

func TestReconcileCleanLosingResolution(t *testing.T) {
	events := []event.Event{purchase("t1", "alice", 100, 50)}
	resolved := int64(95000) // outside [90000, 91000]
	live := liveFold(events, 1, resolved)

	report, err := newRebuilder(events, live).Reconcile(context.Background(), "mkt-1", &resolved)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("lost market should reconcile clean: %+v", report.Mismatches)
	}

	key := position.Key{UserAddress: "alice", MarketID: "mkt-1", RangeLower: 90000, RangeUpper: 91000}
	pos := live[key]
	if pos.IsActive || pos.CloseReason != position.CloseReasonLostResolution {
		t.Errorf("losing position state: %+v", pos)
	}
	if pos.UnrealizedPnl == nil || *pos.UnrealizedPnl != -50 {
		t.Errorf("unrealized pnl: got %v, want -50", pos.UnrealizedPnl)
	}
}

func TestReconcileDetectsCorruptedLiveRow(t *testing.T) {
	events := []event.Event{purchase("t1", "alice", 100, 50)}
	live := liveFold(events, len(events)+1, 0)

	key := position.Key{UserAddress: "alice", MarketID: "mkt-1", RangeLower: 90000, RangeUpper: 91000}
	live[key].TotalShares = 999 // corrupted out of band

	report, err := newRebuilder(events, live).Reconcile(context.Background(), "mkt-1", nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Clean() {
		t.Fatal("corruption should surface as mismatch")
	}
	m := report.Mismatches[0]
	if m.Key != key || m.Fields[0].Name != "total_shares" {
		t.Errorf("mismatch: %+v", m)
	}
	if m.Fields[0].Live != "999" || m.Fields[0].Replayed != "100" {
		t.Errorf("field diff: %+v", m.Fields[0])
	}
}

func TestReconcileDetectsMissingRows(t *testing.T) {
	events := []event.Event{purchase("t1", "alice", 100, 50)}

	report, err := newRebuilder(events, map[position.Key]*position.Position{}).
		Reconcile(context.Background(), "mkt-1", nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Clean() {
		t.Fatal("missing live row should surface as mismatch")
	}
	if report.Mismatches[0].Fields[0].Name != "existence" {
		t.Errorf("mismatch: %+v", report.Mismatches[0])
	}
}

func TestRebuildSkipsSaleWithoutPosition(t *testing.T) {
	events := []event.Event{
		sale("t1", "ghost", 40, 25),
		purchase("t2", "alice", 100, 50),
	}

	positions, count, err := newRebuilder(events, nil).Rebuild(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if count != 2 {
		t.Errorf("events replayed: got %d, want 2", count)
	}
	if len(positions) != 1 {
		t.Errorf("positions: got %d, want 1 (ghost sale skipped)", len(positions))
	}
}

func TestRebuildOversellMatchesLive(t *testing.T) {
	events := []event.Event{
		purchase("t1", "alice", 100, 50),
		sale("t2", "alice", 150, 80), // oversell
	}
	live := liveFold(events, len(events)+1, 0)

	report, err := newRebuilder(events, live).Reconcile(context.Background(), "mkt-1", nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("oversell must replay identically: %+v", report.Mismatches)
	}
}
