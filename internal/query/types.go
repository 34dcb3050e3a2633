package query

import "time"

// PositionResponse is a position row shaped for the HTTP API.
// AvgEntryPrice is derived at query time at fixed-point PriceScale.
type PositionResponse struct {
	UserAddress     string     `json:"user_address"`
	MarketID        string     `json:"market_id"`
	RangeLower      int64      `json:"range_lower"`
	RangeUpper      int64      `json:"range_upper"`
	TotalShares     int64      `json:"total_shares"`
	TotalCostBasis  int64      `json:"total_cost_basis"`
	AvgEntryPrice   int64      `json:"avg_entry_price"`
	RealizedPnl     int64      `json:"realized_pnl"`
	TotalSharesSold int64      `json:"total_shares_sold"`
	TotalProceeds   int64      `json:"total_proceeds"`
	UnrealizedPnl   *int64     `json:"unrealized_pnl,omitempty"`
	IsActive        bool       `json:"is_active"`
	CloseReason     string     `json:"close_reason"`
	FirstPurchaseAt *time.Time `json:"first_purchase_at,omitempty"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	LastEventRef    string     `json:"last_event_ref"`
}

// MarketResponse is a market cache row shaped for the HTTP API.
type MarketResponse struct {
	MarketID       string     `json:"market_id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	MinValue       int64      `json:"min_value"`
	MaxValue       int64      `json:"max_value"`
	RangeWidth     int64      `json:"range_width"`
	ResolutionTime time.Time  `json:"resolution_time"`
	Status         string     `json:"status"`
	ResolvedValue  *int64     `json:"resolved_value,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// FailedSettlementResponse is a parked settlement job for the ops endpoints.
type FailedSettlementResponse struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	ResolvedValue int64     `json:"resolved_value"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
}
