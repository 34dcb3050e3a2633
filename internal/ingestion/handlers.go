package ingestion

import (
	"context"
	"fmt"

	"RangeLedger/internal/event"
)

// TradeStore applies position-mutating events transactionally. Each method
// returns applied=false (and no error) when the event was already in the
// log — duplicate delivery is not an error.
type TradeStore interface {
	ApplyPurchase(ctx context.Context, e *event.SharesPurchased) (applied bool, err error)
	ApplySale(ctx context.Context, e *event.SharesSold) (applied bool, err error)
	ApplyClaim(ctx context.Context, e *event.RewardsClaimed) (applied bool, err error)
}

// MarketStore applies market-lifecycle events to the market cache, with the
// same applied/duplicate semantics as TradeStore.
type MarketStore interface {
	CreateMarket(ctx context.Context, e *event.MarketCreated) (applied bool, err error)
	ResolveMarket(ctx context.Context, e *event.MarketResolved) (applied bool, err error)
}

// Settler kicks off market settlement. The call must not block: settlement
// runs decoupled from the ingestion hot path.
type Settler interface {
	SettleAsync(marketID string, resolvedValue int64)
}

// Handler processes one typed event. An error aborts the current batch so
// its cursor is not persisted; the batch is re-polled and re-delivery is
// absorbed by the store's duplicate handling.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) (applied bool, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) (bool, error) {
	return f(ctx, evt)
}

// NewHandlers wires the per-kind handler table. Market resolution triggers
// settlement only on first application, so redelivered resolution events do
// not re-fire the engine.
func NewHandlers(trades TradeStore, markets MarketStore, settler Settler) map[event.Kind]Handler {
	return map[event.Kind]Handler{
		event.KindSharesPurchased: HandlerFunc(func(ctx context.Context, evt event.Event) (bool, error) {
			e, ok := evt.(*event.SharesPurchased)
			if !ok {
				return false, fmt.Errorf("unexpected payload type %T for %s", evt, evt.EventKind())
			}
			return trades.ApplyPurchase(ctx, e)
		}),

		event.KindSharesSold: HandlerFunc(func(ctx context.Context, evt event.Event) (bool, error) {
			e, ok := evt.(*event.SharesSold)
			if !ok {
				return false, fmt.Errorf("unexpected payload type %T for %s", evt, evt.EventKind())
			}
			return trades.ApplySale(ctx, e)
		}),

		event.KindRewardsClaimed: HandlerFunc(func(ctx context.Context, evt event.Event) (bool, error) {
			e, ok := evt.(*event.RewardsClaimed)
			if !ok {
				return false, fmt.Errorf("unexpected payload type %T for %s", evt, evt.EventKind())
			}
			return trades.ApplyClaim(ctx, e)
		}),

		event.KindMarketCreated: HandlerFunc(func(ctx context.Context, evt event.Event) (bool, error) {
			e, ok := evt.(*event.MarketCreated)
			if !ok {
				return false, fmt.Errorf("unexpected payload type %T for %s", evt, evt.EventKind())
			}
			return markets.CreateMarket(ctx, e)
		}),

		event.KindMarketResolved: HandlerFunc(func(ctx context.Context, evt event.Event) (bool, error) {
			e, ok := evt.(*event.MarketResolved)
			if !ok {
				return false, fmt.Errorf("unexpected payload type %T for %s", evt, evt.EventKind())
			}
			applied, err := markets.ResolveMarket(ctx, e)
			if err != nil {
				return false, err
			}
			if applied && settler != nil {
				settler.SettleAsync(e.MarketID, e.ResolvedValue)
			}
			return applied, nil
		}),
	}
}
