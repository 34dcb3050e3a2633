package position

import (
	"time"

	"RangeLedger/internal/event"
)

// CloseReason records why a position left the active state.
type CloseReason int32

const (
	CloseReasonNone CloseReason = iota
	CloseReasonSold
	CloseReasonLostResolution
	CloseReasonClaimed
)

func (cr CloseReason) String() string {
	switch cr {
	case CloseReasonNone:
		return "none"
	case CloseReasonSold:
		return "sold"
	case CloseReasonLostResolution:
		return "lost_resolution"
	case CloseReasonClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// ParseCloseReason converts the stored representation back into a CloseReason.
func ParseCloseReason(s string) CloseReason {
	switch s {
	case "sold":
		return CloseReasonSold
	case "lost_resolution":
		return CloseReasonLostResolution
	case "claimed":
		return CloseReasonClaimed
	default:
		return CloseReasonNone
	}
}

// Key identifies a position: one weighted-average bucket per user, market
// and range.
type Key struct {
	UserAddress string
	MarketID    string
	RangeLower  int64
	RangeUpper  int64
}

// PriceScale is the fixed-point scale for derived per-share prices.
const PriceScale = 1_000_000

// Position is the mutable aggregate folded from a position's event sequence.
// All monetary quantities are in the chain's smallest unit; shares in the
// contract's smallest share unit. TotalShares may go transiently negative —
// the external ledger is authoritative, not this aggregate.
type Position struct {
	Key

	TotalShares     int64
	TotalCostBasis  int64
	RealizedPnl     int64
	TotalSharesSold int64
	TotalProceeds   int64

	// UnrealizedPnl is set by settlement after resolution and cleared again
	// when the position is claimed.
	UnrealizedPnl *int64

	IsActive    bool
	CloseReason CloseReason

	FirstPurchaseAt time.Time
	LastUpdatedAt   time.Time
	LastEventRef    string
}

// New returns an empty position for key. The first purchase activates it.
func New(key Key) *Position {
	return &Position{Key: key}
}

// AvgEntryPrice returns the blended average cost per share at PriceScale
// fixed-point precision, 0 when flat.
func (p *Position) AvgEntryPrice() int64 {
	if p.TotalShares <= 0 {
		return 0
	}
	return scaledRatio(p.TotalCostBasis, PriceScale, p.TotalShares)
}

// IsTerminal reports whether the position reached a closed state. Events
// arriving against a terminal position are a data-consistency anomaly; the
// caller logs them and applies the delta anyway.
func (p *Position) IsTerminal() bool {
	return !p.IsActive && p.CloseReason != CloseReasonNone
}

// SaleResult carries the outputs of a sale fold.
type SaleResult struct {
	CostRemoved int64
	PnlDelta    int64
	// Oversold is set when the sold quantity exceeded the recorded balance.
	// A data-completeness warning, not an error.
	Oversold bool
}

// ApplyPurchase folds a purchase of shares for cost (both positive) into the
// position.
func (p *Position) ApplyPurchase(shares, cost int64, ts time.Time, ref string) {
	if p.FirstPurchaseAt.IsZero() {
		p.FirstPurchaseAt = ts
	}
	p.TotalShares += shares
	p.TotalCostBasis += cost
	p.IsActive = true
	p.CloseReason = CloseReasonNone
	p.touch(ts, ref)
}

// ApplySale folds a sale of shares for proceeds (both positive). Cost basis
// is removed pro rata at the blended average cost, floored. The sell mode is
// recorded upstream for audit and never alters this computation.
func (p *Position) ApplySale(shares, proceeds int64, _ event.SellMode, ts time.Time, ref string) SaleResult {
	res := SaleResult{Oversold: shares > p.TotalShares}

	if p.TotalShares > 0 {
		res.CostRemoved = proRataCost(p.TotalCostBasis, shares, p.TotalShares)
	}
	res.PnlDelta = proceeds - res.CostRemoved

	p.RealizedPnl += res.PnlDelta
	p.TotalShares -= shares
	p.TotalCostBasis -= res.CostRemoved
	p.TotalSharesSold += shares
	p.TotalProceeds += proceeds

	p.IsActive = p.TotalShares > 0
	if !p.IsActive && p.CloseReason == CloseReasonNone {
		p.CloseReason = CloseReasonSold
	}
	p.touch(ts, ref)
	return res
}

// ApplyClaim folds a post-resolution payout claim. The provisional
// unrealized PnL set at settlement is superseded by the realized figure and
// cleared.
func (p *Position) ApplyClaim(payout int64, ts time.Time, ref string) (pnlDelta int64) {
	pnlDelta = payout - p.TotalCostBasis

	p.RealizedPnl += pnlDelta
	p.TotalShares = 0
	p.TotalCostBasis = 0
	p.UnrealizedPnl = nil
	p.IsActive = false
	p.CloseReason = CloseReasonClaimed
	p.touch(ts, ref)
	return pnlDelta
}

// ApplyResolution classifies an active position against the resolved value.
// Mirrors the settlement engine's bulk updates so replayed state matches the
// live store. Shares and cost basis are preserved on a loss to keep the
// audit trail of the loss size.
func (p *Position) ApplyResolution(resolvedValue int64, ts time.Time) {
	if !p.IsActive {
		return
	}
	if resolvedValue < p.RangeLower || resolvedValue > p.RangeUpper {
		u := -p.TotalCostBasis
		p.UnrealizedPnl = &u
		p.IsActive = false
		p.CloseReason = CloseReasonLostResolution
	} else {
		// One winning share pays exactly one smallest unit, so no scaling.
		u := p.TotalShares - p.TotalCostBasis
		p.UnrealizedPnl = &u
	}
	p.LastUpdatedAt = ts
}

func (p *Position) touch(ts time.Time, ref string) {
	p.LastUpdatedAt = ts
	p.LastEventRef = ref
}
