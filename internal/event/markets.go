package event

import "time"

// MarketStatus mirrors the denormalized market cache status column.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "Active"
	MarketStatusResolved  MarketStatus = "Resolved"
	MarketStatusCancelled MarketStatus = "Cancelled"
)

// MarketCreated seeds the market cache. Carries no position deltas; logged
// for audit like every other ingested event.
type MarketCreated struct {
	TxID           string
	CheckpointSeq  int64
	Timestamp      time.Time
	MarketID       string
	Name           string
	Category       string
	MinValue       int64
	MaxValue       int64
	RangeWidth     int64
	ResolutionTime time.Time
}

func (e *MarketCreated) EventKind() Kind       { return KindMarketCreated }
func (e *MarketCreated) TransactionID() string { return e.TxID }
func (e *MarketCreated) Checkpoint() int64     { return e.CheckpointSeq }
func (e *MarketCreated) OccurredAt() time.Time { return e.Timestamp }
func (e *MarketCreated) Market() string        { return e.MarketID }

// MarketResolved carries the final outcome value and triggers settlement.
type MarketResolved struct {
	TxID          string
	CheckpointSeq int64
	Timestamp     time.Time
	MarketID      string
	ResolvedValue int64
}

func (e *MarketResolved) EventKind() Kind       { return KindMarketResolved }
func (e *MarketResolved) TransactionID() string { return e.TxID }
func (e *MarketResolved) Checkpoint() int64     { return e.CheckpointSeq }
func (e *MarketResolved) OccurredAt() time.Time { return e.Timestamp }
func (e *MarketResolved) Market() string        { return e.MarketID }
