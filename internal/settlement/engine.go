package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"RangeLedger/internal/observability"
)

// PositionSettler runs the bulk winner/loser classification over a market's
// active positions. Both updates are idempotent, so a retry after partial
// failure finishes the remainder.
type PositionSettler interface {
	SettleMarket(ctx context.Context, marketID string, resolvedValue int64) (losers, winners int64, err error)
}

// FailureQueue accepts settlements that could not complete, for the retry
// worker to pick up.
type FailureQueue interface {
	Enqueue(ctx context.Context, marketID string, resolvedValue int64, cause error) error
}

// Notifier broadcasts a completed settlement to downstream consumers.
// Best-effort: a notify failure never fails the settlement.
type Notifier interface {
	NotifyResolved(ctx context.Context, marketID string, resolvedValue int64) error
}

// Engine settles markets off the ingestion hot path. SettleAsync returns
// immediately; the classification runs in its own goroutine with its own
// deadline, and a failure lands in the queue instead of anyone's error
// return.
type Engine struct {
	positions PositionSettler
	failures  FailureQueue
	notifier  Notifier
	logger    zerolog.Logger
	metrics   *observability.Metrics
	timeout   time.Duration

	wg sync.WaitGroup
}

func NewEngine(
	positions PositionSettler,
	failures FailureQueue,
	notifier Notifier,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	timeout time.Duration,
) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		positions: positions,
		failures:  failures,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		timeout:   timeout,
	}
}

// SettleAsync fires settlement for a freshly resolved market and returns.
func (e *Engine) SettleAsync(marketID string, resolvedValue int64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.Settle(ctx, marketID, resolvedValue); err != nil {
			// Already queued for retry inside Settle.
			e.logger.Error().Err(err).
				Str("market", marketID).
				Int64("resolved_value", resolvedValue).
				Msg("settlement failed, queued for retry")
		}
	}()
}

// Settle runs the classification synchronously. On failure the job is pushed
// to the failure queue and the error returned.
func (e *Engine) Settle(ctx context.Context, marketID string, resolvedValue int64) error {
	start := time.Now()
	losers, winners, err := e.positions.SettleMarket(ctx, marketID, resolvedValue)
	if e.metrics != nil {
		e.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.SettlementRuns.WithLabelValues("error").Inc()
		}
		if qErr := e.failures.Enqueue(ctx, marketID, resolvedValue, err); qErr != nil {
			e.logger.Error().Err(qErr).
				Str("market", marketID).
				Msg("failed to queue settlement for retry")
		} else if e.metrics != nil {
			e.metrics.FailedSettlementsQueued.Inc()
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.SettlementRuns.WithLabelValues("ok").Inc()
		e.metrics.SettlementPositions.WithLabelValues("lost").Add(float64(losers))
		e.metrics.SettlementPositions.WithLabelValues("won").Add(float64(winners))
	}
	e.logger.Info().
		Str("market", marketID).
		Int64("resolved_value", resolvedValue).
		Int64("losers", losers).
		Int64("winners", winners).
		Msg("market settled")

	e.notify(ctx, marketID, resolvedValue)
	return nil
}

func (e *Engine) notify(ctx context.Context, marketID string, resolvedValue int64) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyResolved(ctx, marketID, resolvedValue); err != nil {
		e.logger.Warn().Err(err).
			Str("market", marketID).
			Msg("settlement notification failed")
		if e.metrics != nil {
			e.metrics.RegistrySyncFailures.Inc()
		}
	}
}

// Wait blocks until all in-flight async settlements finish. Called on
// shutdown after ingestion stops.
func (e *Engine) Wait() {
	e.wg.Wait()
}
