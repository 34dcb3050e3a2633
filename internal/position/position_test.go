package position_test

import (
	"testing"
	"time"

	"RangeLedger/internal/event"
	"RangeLedger/internal/position"
)

var (
	testKey = position.Key{
		UserAddress: "0xabc",
		MarketID:    "btc-2026-03",
		RangeLower:  90_000,
		RangeUpper:  91_000,
	}
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestPurchase(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")

	if pos.TotalShares != 100 {
		t.Errorf("total shares: got %d, want 100", pos.TotalShares)
	}
	if pos.TotalCostBasis != 50 {
		t.Errorf("cost basis: got %d, want 50", pos.TotalCostBasis)
	}
	if got := pos.AvgEntryPrice(); got != position.PriceScale/2 {
		t.Errorf("avg entry price: got %d, want %d", got, position.PriceScale/2)
	}
	if !pos.IsActive {
		t.Error("position should be active after purchase")
	}
	if pos.FirstPurchaseAt != t0 {
		t.Errorf("first purchase at: got %v, want %v", pos.FirstPurchaseAt, t0)
	}
	if pos.LastEventRef != "tx-1" {
		t.Errorf("last event ref: got %s, want tx-1", pos.LastEventRef)
	}
}

func TestSale(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")

	res := pos.ApplySale(40, 25, event.SellModeFIFO, t0.Add(time.Hour), "tx-2")

	if res.CostRemoved != 20 {
		t.Errorf("cost removed: got %d, want 20", res.CostRemoved)
	}
	if res.PnlDelta != 5 {
		t.Errorf("pnl delta: got %d, want 5", res.PnlDelta)
	}
	if res.Oversold {
		t.Error("sale within balance flagged as oversold")
	}
	if pos.RealizedPnl != 5 {
		t.Errorf("realized pnl: got %d, want 5", pos.RealizedPnl)
	}
	if pos.TotalShares != 60 {
		t.Errorf("total shares: got %d, want 60", pos.TotalShares)
	}
	if pos.TotalCostBasis != 30 {
		t.Errorf("cost basis: got %d, want 30", pos.TotalCostBasis)
	}
	if pos.TotalSharesSold != 40 || pos.TotalProceeds != 25 {
		t.Errorf("sold/proceeds: got %d/%d, want 40/25", pos.TotalSharesSold, pos.TotalProceeds)
	}
	if !pos.IsActive {
		t.Error("partial sale should leave position active")
	}
}

func TestSaleClosesWhenFlat(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")
	pos.ApplySale(100, 60, event.SellModeFIFO, t0.Add(time.Hour), "tx-2")

	if pos.IsActive {
		t.Error("full sale should close the position")
	}
	if pos.CloseReason != position.CloseReasonSold {
		t.Errorf("close reason: got %s, want sold", pos.CloseReason)
	}
	if pos.TotalShares != 0 || pos.TotalCostBasis != 0 {
		t.Errorf("shares/basis after full sale: got %d/%d, want 0/0", pos.TotalShares, pos.TotalCostBasis)
	}
	if pos.RealizedPnl != 10 {
		t.Errorf("realized pnl: got %d, want 10", pos.RealizedPnl)
	}
}

func TestOversellProceedsWithRecordedBalance(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")

	res := pos.ApplySale(150, 80, event.SellModeFIFO, t0.Add(time.Hour), "tx-2")

	if !res.Oversold {
		t.Error("sale above recorded balance should be flagged oversold")
	}
	// avgCost = 0.5, costRemoved = floor(0.5 * 150) = 75.
	if res.CostRemoved != 75 {
		t.Errorf("cost removed: got %d, want 75", res.CostRemoved)
	}
	// Ledger is authoritative: the delta applies anyway, shares go negative.
	if pos.TotalShares != -50 {
		t.Errorf("total shares: got %d, want -50", pos.TotalShares)
	}
	if pos.IsActive {
		t.Error("oversold position should not be active")
	}
}

func TestWinningResolution(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")
	pos.ApplySale(40, 25, event.SellModeFIFO, t0, "tx-2")

	pos.ApplyResolution(90_500, t0.Add(2*time.Hour))

	if !pos.IsActive {
		t.Error("winning position must stay active until claimed")
	}
	if pos.UnrealizedPnl == nil || *pos.UnrealizedPnl != 30 {
		t.Errorf("unrealized pnl: got %v, want 30", pos.UnrealizedPnl)
	}
}

func TestLosingResolution(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")
	pos.ApplySale(40, 25, event.SellModeFIFO, t0, "tx-2")

	pos.ApplyResolution(95_000, t0.Add(2*time.Hour))

	if pos.IsActive {
		t.Error("losing position must be closed")
	}
	if pos.CloseReason != position.CloseReasonLostResolution {
		t.Errorf("close reason: got %s, want lost_resolution", pos.CloseReason)
	}
	if pos.UnrealizedPnl == nil || *pos.UnrealizedPnl != -30 {
		t.Errorf("unrealized pnl: got %v, want -30", pos.UnrealizedPnl)
	}
	// Audit trail of the loss size is preserved.
	if pos.TotalShares != 60 || pos.TotalCostBasis != 30 {
		t.Errorf("shares/basis after loss: got %d/%d, want 60/30", pos.TotalShares, pos.TotalCostBasis)
	}
}

func TestClaim(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")
	pos.ApplySale(40, 25, event.SellModeFIFO, t0, "tx-2")
	pos.ApplyResolution(90_500, t0.Add(2*time.Hour))

	delta := pos.ApplyClaim(60, t0.Add(3*time.Hour), "tx-3")

	if delta != 30 {
		t.Errorf("claim pnl delta: got %d, want 30", delta)
	}
	if pos.RealizedPnl != 35 { // 5 from the sale + 30 from the claim
		t.Errorf("realized pnl: got %d, want 35", pos.RealizedPnl)
	}
	if pos.TotalShares != 0 || pos.TotalCostBasis != 0 {
		t.Errorf("shares/basis after claim: got %d/%d, want 0/0", pos.TotalShares, pos.TotalCostBasis)
	}
	if pos.CloseReason != position.CloseReasonClaimed {
		t.Errorf("close reason: got %s, want claimed", pos.CloseReason)
	}
	if pos.UnrealizedPnl != nil {
		t.Errorf("unrealized pnl should be cleared on claim, got %d", *pos.UnrealizedPnl)
	}
	if !pos.IsTerminal() {
		t.Error("claimed position should be terminal")
	}
}

func TestResolutionIdempotent(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")

	pos.ApplyResolution(95_000, t0.Add(time.Hour))
	before := *pos
	pos.ApplyResolution(95_000, t0.Add(2*time.Hour))

	if pos.TotalShares != before.TotalShares ||
		pos.TotalCostBasis != before.TotalCostBasis ||
		pos.IsActive != before.IsActive ||
		pos.CloseReason != before.CloseReason ||
		*pos.UnrealizedPnl != *before.UnrealizedPnl {
		t.Error("second resolution of a closed position changed state")
	}
}

func TestCostBasisConservation(t *testing.T) {
	pos := position.New(testKey)

	purchases := []struct{ shares, cost int64 }{
		{100, 50}, {200, 130}, {37, 19},
	}
	sales := []struct{ shares, proceeds int64 }{
		{80, 60}, {120, 55}, {50, 31},
	}

	var totalCost, totalRemoved int64
	for i, p := range purchases {
		pos.ApplyPurchase(p.shares, p.cost, t0.Add(time.Duration(i)*time.Minute), "buy")
		totalCost += p.cost
	}
	for i, s := range sales {
		res := pos.ApplySale(s.shares, s.proceeds, event.SellModeFIFO, t0.Add(time.Hour+time.Duration(i)*time.Minute), "sell")
		totalRemoved += res.CostRemoved
	}

	if totalCost != pos.TotalCostBasis+totalRemoved {
		t.Errorf("cost basis not conserved: purchases=%d, basis=%d, removed=%d",
			totalCost, pos.TotalCostBasis, totalRemoved)
	}
}

func TestAvgEntryPriceFlatIsZero(t *testing.T) {
	pos := position.New(testKey)
	if got := pos.AvgEntryPrice(); got != 0 {
		t.Errorf("flat position avg entry price: got %d, want 0", got)
	}
}

func TestTerminalPositionAcceptsDeltas(t *testing.T) {
	pos := position.New(testKey)
	pos.ApplyPurchase(100, 50, t0, "tx-1")
	pos.ApplyClaim(60, t0.Add(time.Hour), "tx-2")

	if !pos.IsTerminal() {
		t.Fatal("expected terminal position")
	}

	// A late purchase against a terminal position is an anomaly the caller
	// logs, but the delta still applies and reactivates the bucket.
	pos.ApplyPurchase(10, 6, t0.Add(2*time.Hour), "tx-3")
	if pos.TotalShares != 10 || pos.TotalCostBasis != 6 {
		t.Errorf("late purchase not applied: shares=%d basis=%d", pos.TotalShares, pos.TotalCostBasis)
	}
	if !pos.IsActive {
		t.Error("late purchase should reactivate the position")
	}
}

func TestSaleWithNoBasisRealizesFullProceeds(t *testing.T) {
	pos := position.New(testKey)
	res := pos.ApplySale(40, 25, event.SellModeFIFO, t0, "tx-1")

	if res.CostRemoved != 0 {
		t.Errorf("cost removed with no basis: got %d, want 0", res.CostRemoved)
	}
	if res.PnlDelta != 25 {
		t.Errorf("pnl delta: got %d, want 25", res.PnlDelta)
	}
}
