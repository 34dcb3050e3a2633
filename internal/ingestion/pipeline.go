package ingestion

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"RangeLedger/internal/event"
	"RangeLedger/internal/observability"
	"RangeLedger/internal/source"
)

// CheckpointStore persists one cursor per event kind. Save is called only
// after a batch is fully handled.
type CheckpointStore interface {
	Load(ctx context.Context, kind event.Kind) (cursor int64, ok bool, err error)
	Save(ctx context.Context, kind event.Kind, cursor int64) error
}

// Config holds pipeline tuning.
type Config struct {
	// PollInterval is the sleep between poll cycles for a caught-up kind.
	PollInterval time.Duration

	// ErrorBackoffMultiple scales PollInterval after a transient failure.
	ErrorBackoffMultiple int

	// DedupCapacity sizes the per-kind LRU of recently applied keys.
	DedupCapacity int

	// Kinds lists the streams to poll. Defaults to event.AllKinds().
	Kinds []event.Kind
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:         5 * time.Second,
		ErrorBackoffMultiple: 6,
		DedupCapacity:        100_000,
	}
}

// Pipeline runs one resumable polling loop per event kind. Loops share
// nothing but the underlying store; a slow or erroring kind never blocks
// the others. Transient I/O failures back off and retry forever — only
// startup connectivity is allowed to kill the process, and that happens
// before the pipeline starts.
type Pipeline struct {
	cfg         Config
	adapter     source.Adapter
	checkpoints CheckpointStore
	handlers    map[event.Kind]Handler
	logger      zerolog.Logger
	metrics     *observability.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipeline(
	cfg Config,
	adapter source.Adapter,
	checkpoints CheckpointStore,
	handlers map[event.Kind]Handler,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ErrorBackoffMultiple <= 0 {
		cfg.ErrorBackoffMultiple = DefaultConfig().ErrorBackoffMultiple
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = DefaultConfig().DedupCapacity
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = event.AllKinds()
	}
	return &Pipeline{
		cfg:         cfg,
		adapter:     adapter,
		checkpoints: checkpoints,
		handlers:    handlers,
		logger:      logger,
		metrics:     metrics,
	}
}

// Start launches the per-kind polling loops.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, kind := range p.cfg.Kinds {
		p.wg.Add(1)
		go func(kind event.Kind) {
			defer p.wg.Done()
			p.runKind(ctx, kind)
		}(kind)
	}

	p.logger.Info().
		Int("kinds", len(p.cfg.Kinds)).
		Dur("interval", p.cfg.PollInterval).
		Msg("ingestion pipeline started")
}

// Stop cancels the loops and waits for them to drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("ingestion pipeline stopped")
}

func (p *Pipeline) runKind(ctx context.Context, kind event.Kind) {
	logger := p.logger.With().Stringer("kind", kind).Logger()
	seen := NewRecentKeys(p.cfg.DedupCapacity)
	backoff := p.cfg.PollInterval * time.Duration(p.cfg.ErrorBackoffMultiple)

	cursor, ok := p.initialCursor(ctx, kind, logger, backoff)
	if ctx.Err() != nil {
		return
	}
	if !ok {
		return
	}

	for {
		batch, err := p.adapter.Poll(ctx, kind, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Int64("cursor", cursor).Msg("poll failed, backing off")
			if p.metrics != nil {
				p.metrics.PollErrors.WithLabelValues(kind.String()).Inc()
			}
			if !sleep(ctx, backoff) {
				return
			}
			continue
		}

		if err := p.handleBatch(ctx, kind, seen, batch.Events, logger); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Cursor stays put: the whole batch is re-polled and already
			// applied events dedup into no-ops.
			logger.Warn().Err(err).Int64("cursor", cursor).Msg("batch aborted, cursor not advanced")
			if !sleep(ctx, backoff) {
				return
			}
			continue
		}

		switch {
		case batch.NextCursor < cursor:
			logger.Warn().
				Int64("cursor", cursor).
				Int64("next", batch.NextCursor).
				Msg("adapter cursor moved backwards, ignoring")
		case batch.NextCursor > cursor:
			if err := p.checkpoints.Save(ctx, kind, batch.NextCursor); err != nil {
				logger.Warn().Err(err).Msg("checkpoint save failed, will re-poll batch")
				if !sleep(ctx, backoff) {
					return
				}
				continue
			}
			cursor = batch.NextCursor
			if p.metrics != nil {
				p.metrics.CheckpointCursor.WithLabelValues(kind.String()).Set(float64(cursor))
			}
		}

		if !sleep(ctx, p.cfg.PollInterval) {
			return
		}
	}
}

// initialCursor resumes from the persisted checkpoint, or fast-forwards to
// the stream tip on first start so history is not reprocessed.
func (p *Pipeline) initialCursor(ctx context.Context, kind event.Kind, logger zerolog.Logger, backoff time.Duration) (int64, bool) {
	for {
		cursor, found, err := p.checkpoints.Load(ctx, kind)
		if err != nil {
			logger.Warn().Err(err).Msg("checkpoint load failed, retrying")
			if !sleep(ctx, backoff) {
				return 0, false
			}
			continue
		}
		if found {
			logger.Info().Int64("cursor", cursor).Msg("resuming from checkpoint")
			return cursor, true
		}

		tip, err := p.adapter.Tip(ctx, kind)
		if err != nil {
			logger.Warn().Err(err).Msg("tip lookup failed, retrying")
			if !sleep(ctx, backoff) {
				return 0, false
			}
			continue
		}
		if err := p.checkpoints.Save(ctx, kind, tip); err != nil {
			logger.Warn().Err(err).Msg("initial checkpoint save failed, retrying")
			if !sleep(ctx, backoff) {
				return 0, false
			}
			continue
		}
		logger.Info().Int64("cursor", tip).Msg("no checkpoint, fast-forwarded to tip")
		return tip, true
	}
}

func (p *Pipeline) handleBatch(ctx context.Context, kind event.Kind, seen *RecentKeys, raws []json.RawMessage, logger zerolog.Logger) error {
	handler := p.handlers[kind]

	for _, raw := range raws {
		evt, err := ParseRaw(kind, raw)
		if err != nil {
			// Malformed payloads are skipped, never fatal, and never hold
			// the cursor back on their own.
			logger.Warn().Err(err).Msg("skipping malformed event")
			if p.metrics != nil {
				p.metrics.ParseFailures.WithLabelValues(kind.String()).Inc()
			}
			continue
		}

		if seen.Contains(kind, evt.TransactionID()) {
			if p.metrics != nil {
				p.metrics.IngestDuplicates.WithLabelValues(kind.String(), "lru").Inc()
			}
			continue
		}

		if handler == nil {
			logger.Warn().Str("tx_id", evt.TransactionID()).Msg("no handler for kind, skipping")
			continue
		}

		applied, err := handler.Handle(ctx, evt)
		if err != nil {
			return err
		}

		seen.Add(kind, evt.TransactionID())
		if p.metrics != nil {
			if applied {
				p.metrics.IngestApplied.WithLabelValues(kind.String()).Inc()
			} else {
				p.metrics.IngestDuplicates.WithLabelValues(kind.String(), "store").Inc()
			}
		}
	}
	return nil
}

// sleep waits for d or context cancellation, reporting whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
