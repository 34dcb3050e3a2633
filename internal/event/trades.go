package event

import "time"

// SellMode records how the upstream contract matched shares on a sale.
// It is persisted for audit only — position accounting is weighted-average,
// never per-lot (see DESIGN.md).
type SellMode int32

const (
	SellModeFIFO SellMode = iota
	SellModeTargeted
)

func (m SellMode) String() string {
	switch m {
	case SellModeFIFO:
		return "fifo"
	case SellModeTargeted:
		return "targeted"
	default:
		return "unknown"
	}
}

// SharesPurchased records shares bought into a range bucket.
// Invariant: SharesDelta > 0, CashDelta < 0.
type SharesPurchased struct {
	TxID          string
	CheckpointSeq int64
	Timestamp     time.Time
	UserAddress   string
	MarketID      string
	RangeLower    int64
	RangeUpper    int64
	SharesDelta   int64
	CashDelta     int64
	PricePerShare int64
}

func (e *SharesPurchased) EventKind() Kind        { return KindSharesPurchased }
func (e *SharesPurchased) TransactionID() string  { return e.TxID }
func (e *SharesPurchased) Checkpoint() int64      { return e.CheckpointSeq }
func (e *SharesPurchased) OccurredAt() time.Time  { return e.Timestamp }
func (e *SharesPurchased) Market() string         { return e.MarketID }

// SharesSold records shares sold out of a range bucket.
// Invariant: SharesDelta < 0, CashDelta > 0.
type SharesSold struct {
	TxID          string
	CheckpointSeq int64
	Timestamp     time.Time
	UserAddress   string
	MarketID      string
	RangeLower    int64
	RangeUpper    int64
	SharesDelta   int64
	CashDelta     int64
	PricePerShare int64
	Mode          SellMode
	// LotIndex is set only for targeted sells.
	LotIndex *int64
}

func (e *SharesSold) EventKind() Kind       { return KindSharesSold }
func (e *SharesSold) TransactionID() string { return e.TxID }
func (e *SharesSold) Checkpoint() int64     { return e.CheckpointSeq }
func (e *SharesSold) OccurredAt() time.Time { return e.Timestamp }
func (e *SharesSold) Market() string        { return e.MarketID }

// RewardsClaimed records a winning position being claimed after resolution.
// Invariant: SharesDelta < 0, CashDelta > 0 (the payout).
type RewardsClaimed struct {
	TxID          string
	CheckpointSeq int64
	Timestamp     time.Time
	UserAddress   string
	MarketID      string
	RangeLower    int64
	RangeUpper    int64
	SharesDelta   int64
	CashDelta     int64
}

func (e *RewardsClaimed) EventKind() Kind       { return KindRewardsClaimed }
func (e *RewardsClaimed) TransactionID() string { return e.TxID }
func (e *RewardsClaimed) Checkpoint() int64     { return e.CheckpointSeq }
func (e *RewardsClaimed) OccurredAt() time.Time { return e.Timestamp }
func (e *RewardsClaimed) Market() string        { return e.MarketID }
