package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"RangeLedger/internal/event"
)

// ParseRaw converts a raw indexer payload into a typed event and validates
// the delta-sign invariants for its kind. A failure here means the event is
// malformed; the pipeline logs and skips it.
func ParseRaw(kind event.Kind, data []byte) (event.Event, error) {
	switch kind {
	case event.KindSharesPurchased:
		return parseSharesPurchased(data)
	case event.KindSharesSold:
		return parseSharesSold(data)
	case event.KindRewardsClaimed:
		return parseRewardsClaimed(data)
	case event.KindMarketCreated:
		return parseMarketCreated(data)
	case event.KindMarketResolved:
		return parseMarketResolved(data)
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the indexer contract. Timestamps are
// microseconds since epoch.

type tradeJSON struct {
	TxID          string `json:"tx_id"`
	Checkpoint    int64  `json:"checkpoint"`
	TimestampUs   int64  `json:"timestamp_us"`
	UserAddress   string `json:"user_address"`
	MarketID      string `json:"market_id"`
	RangeLower    int64  `json:"range_lower"`
	RangeUpper    int64  `json:"range_upper"`
	SharesDelta   int64  `json:"shares_delta"`
	CashDelta     int64  `json:"cash_delta"`
	PricePerShare int64  `json:"price_per_share"`
	SellMode      string `json:"sell_mode,omitempty"`
	LotIndex      *int64 `json:"lot_index,omitempty"`
}

func (j *tradeJSON) validateIdentity(kind event.Kind) error {
	if j.TxID == "" {
		return fmt.Errorf("parse %s: missing tx_id", kind)
	}
	if j.UserAddress == "" || j.MarketID == "" {
		return fmt.Errorf("parse %s: missing user_address or market_id", kind)
	}
	return nil
}

func parseSharesPurchased(data []byte) (*event.SharesPurchased, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SharesPurchased: %w", err)
	}
	if err := j.validateIdentity(event.KindSharesPurchased); err != nil {
		return nil, err
	}
	if j.SharesDelta <= 0 || j.CashDelta >= 0 {
		return nil, fmt.Errorf("parse SharesPurchased %s: invalid deltas shares=%d cash=%d",
			j.TxID, j.SharesDelta, j.CashDelta)
	}
	return &event.SharesPurchased{
		TxID:          j.TxID,
		CheckpointSeq: j.Checkpoint,
		Timestamp:     time.UnixMicro(j.TimestampUs),
		UserAddress:   j.UserAddress,
		MarketID:      j.MarketID,
		RangeLower:    j.RangeLower,
		RangeUpper:    j.RangeUpper,
		SharesDelta:   j.SharesDelta,
		CashDelta:     j.CashDelta,
		PricePerShare: j.PricePerShare,
	}, nil
}

func parseSharesSold(data []byte) (*event.SharesSold, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SharesSold: %w", err)
	}
	if err := j.validateIdentity(event.KindSharesSold); err != nil {
		return nil, err
	}
	if j.SharesDelta >= 0 || j.CashDelta <= 0 {
		return nil, fmt.Errorf("parse SharesSold %s: invalid deltas shares=%d cash=%d",
			j.TxID, j.SharesDelta, j.CashDelta)
	}

	mode := event.SellModeFIFO
	switch j.SellMode {
	case "", "fifo":
	case "targeted":
		mode = event.SellModeTargeted
		if j.LotIndex == nil {
			return nil, fmt.Errorf("parse SharesSold %s: targeted sell without lot_index", j.TxID)
		}
	default:
		return nil, fmt.Errorf("parse SharesSold %s: unknown sell_mode %q", j.TxID, j.SellMode)
	}

	return &event.SharesSold{
		TxID:          j.TxID,
		CheckpointSeq: j.Checkpoint,
		Timestamp:     time.UnixMicro(j.TimestampUs),
		UserAddress:   j.UserAddress,
		MarketID:      j.MarketID,
		RangeLower:    j.RangeLower,
		RangeUpper:    j.RangeUpper,
		SharesDelta:   j.SharesDelta,
		CashDelta:     j.CashDelta,
		PricePerShare: j.PricePerShare,
		Mode:          mode,
		LotIndex:      j.LotIndex,
	}, nil
}

func parseRewardsClaimed(data []byte) (*event.RewardsClaimed, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardsClaimed: %w", err)
	}
	if err := j.validateIdentity(event.KindRewardsClaimed); err != nil {
		return nil, err
	}
	if j.SharesDelta >= 0 || j.CashDelta <= 0 {
		return nil, fmt.Errorf("parse RewardsClaimed %s: invalid deltas shares=%d cash=%d",
			j.TxID, j.SharesDelta, j.CashDelta)
	}
	return &event.RewardsClaimed{
		TxID:          j.TxID,
		CheckpointSeq: j.Checkpoint,
		Timestamp:     time.UnixMicro(j.TimestampUs),
		UserAddress:   j.UserAddress,
		MarketID:      j.MarketID,
		RangeLower:    j.RangeLower,
		RangeUpper:    j.RangeUpper,
		SharesDelta:   j.SharesDelta,
		CashDelta:     j.CashDelta,
	}, nil
}

type marketCreatedJSON struct {
	TxID             string `json:"tx_id"`
	Checkpoint       int64  `json:"checkpoint"`
	TimestampUs      int64  `json:"timestamp_us"`
	MarketID         string `json:"market_id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	MinValue         int64  `json:"min_value"`
	MaxValue         int64  `json:"max_value"`
	RangeWidth       int64  `json:"range_width"`
	ResolutionTimeUs int64  `json:"resolution_time_us"`
}

func parseMarketCreated(data []byte) (*event.MarketCreated, error) {
	var j marketCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketCreated: %w", err)
	}
	if j.TxID == "" || j.MarketID == "" {
		return nil, fmt.Errorf("parse MarketCreated: missing tx_id or market_id")
	}
	return &event.MarketCreated{
		TxID:           j.TxID,
		CheckpointSeq:  j.Checkpoint,
		Timestamp:      time.UnixMicro(j.TimestampUs),
		MarketID:       j.MarketID,
		Name:           j.Name,
		Category:       j.Category,
		MinValue:       j.MinValue,
		MaxValue:       j.MaxValue,
		RangeWidth:     j.RangeWidth,
		ResolutionTime: time.UnixMicro(j.ResolutionTimeUs),
	}, nil
}

// resolvedValueFields is the ordered fallback list for the outcome value.
// The field was renamed across upstream contract versions; newest name
// first.
var resolvedValueFields = []string{"resolved_value", "final_value", "settlement_value"}

func parseMarketResolved(data []byte) (*event.MarketResolved, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse MarketResolved: %w", err)
	}

	var j struct {
		TxID        string `json:"tx_id"`
		Checkpoint  int64  `json:"checkpoint"`
		TimestampUs int64  `json:"timestamp_us"`
		MarketID    string `json:"market_id"`
	}
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketResolved: %w", err)
	}
	if j.TxID == "" || j.MarketID == "" {
		return nil, fmt.Errorf("parse MarketResolved: missing tx_id or market_id")
	}

	resolved, err := decodeResolvedValue(fields)
	if err != nil {
		return nil, fmt.Errorf("parse MarketResolved %s: %w", j.TxID, err)
	}

	return &event.MarketResolved{
		TxID:          j.TxID,
		CheckpointSeq: j.Checkpoint,
		Timestamp:     time.UnixMicro(j.TimestampUs),
		MarketID:      j.MarketID,
		ResolvedValue: resolved,
	}, nil
}

func decodeResolvedValue(fields map[string]json.RawMessage) (int64, error) {
	for _, name := range resolvedValueFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("no resolved-value field (tried %v)", resolvedValueFields)
}
