package event

import (
	"fmt"
	"time"
)

// Kind discriminates event payloads in the log.
type Kind int32

const (
	KindUnknown Kind = iota
	KindSharesPurchased
	KindSharesSold
	KindRewardsClaimed
	KindMarketCreated
	KindMarketResolved
)

// Event is the interface all ledger events implement.
type Event interface {
	// EventKind returns the discriminator.
	EventKind() Kind

	// TransactionID returns the on-chain transaction id. Together with the
	// kind it forms the dedup key for the event log.
	TransactionID() string

	// Checkpoint returns the position of this event in its kind's cursor
	// stream. Monotonic within a kind only.
	Checkpoint() int64

	// OccurredAt returns the upstream event timestamp (not wall-clock).
	OccurredAt() time.Time

	// Market returns the market context.
	Market() string
}

func (k Kind) String() string {
	switch k {
	case KindSharesPurchased:
		return "SharesPurchased"
	case KindSharesSold:
		return "SharesSold"
	case KindRewardsClaimed:
		return "RewardsClaimed"
	case KindMarketCreated:
		return "MarketCreated"
	case KindMarketResolved:
		return "MarketResolved"
	default:
		return "Unknown"
	}
}

// ParseKind converts the wire/log representation back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "SharesPurchased":
		return KindSharesPurchased, nil
	case "SharesSold":
		return KindSharesSold, nil
	case "RewardsClaimed":
		return KindRewardsClaimed, nil
	case "MarketCreated":
		return KindMarketCreated, nil
	case "MarketResolved":
		return KindMarketResolved, nil
	default:
		return KindUnknown, fmt.Errorf("unknown event kind: %q", s)
	}
}

// AllKinds lists every polled kind. Each gets its own cursor stream and
// polling loop.
func AllKinds() []Kind {
	return []Kind{
		KindSharesPurchased,
		KindSharesSold,
		KindRewardsClaimed,
		KindMarketCreated,
		KindMarketResolved,
	}
}

// TradeKinds lists the kinds that mutate positions and participate in
// rebuild/replay.
func TradeKinds() []Kind {
	return []Kind{KindSharesPurchased, KindSharesSold, KindRewardsClaimed}
}
