// Package source defines the Event Source Adapter boundary: a
// cursor-addressable stream of raw events per kind, served by an external
// chain indexer.
package source

import (
	"context"
	"encoding/json"

	"RangeLedger/internal/event"
)

// Batch is one page of a kind's cursor stream. Events are ordered and
// monotonic within the kind; nothing is guaranteed across kinds.
type Batch struct {
	Events     []json.RawMessage
	NextCursor int64
}

// Adapter supplies the per-kind event streams the ingestion pipeline polls.
type Adapter interface {
	// Poll returns the events after cursor and the cursor to resume from.
	// An empty batch with NextCursor == cursor means the stream is caught up.
	Poll(ctx context.Context, kind event.Kind, cursor int64) (Batch, error)

	// Tip returns the current head cursor for a kind. Used to fast-forward
	// past history on first start.
	Tip(ctx context.Context, kind event.Kind) (int64, error)
}
