package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"RangeLedger/internal/observability"
)

// DefaultMaxRetries bounds how often a failed settlement is retried before
// it is parked for operator attention.
const DefaultMaxRetries = 3

// Job is one queued settlement retry.
type Job struct {
	ID            uuid.UUID
	MarketID      string
	ResolvedValue int64
	LastError     string
	RetryCount    int
	LastAttemptAt time.Time
	CreatedAt     time.Time
}

// RetryQueue is the durable store behind the retry worker.
type RetryQueue interface {
	// ListRetryable returns jobs with fewer than maxRetries attempts,
	// oldest first.
	ListRetryable(ctx context.Context, maxRetries int) ([]Job, error)
	// Delete removes a job after a successful retry.
	Delete(ctx context.Context, id uuid.UUID) error
	// RecordFailure bumps the retry count and stores the latest error.
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
	// ListExhausted returns jobs that hit the retry bound.
	ListExhausted(ctx context.Context, maxRetries int) ([]Job, error)
}

// Report summarizes one drain pass over the queue.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	// Exhausted lists jobs out of retries, needing manual intervention.
	Exhausted []Job
}

// RetryWorker drains the failure queue on an interval. Retries run serially
// — a broken database does not need a thundering herd of bulk updates.
type RetryWorker struct {
	queue      RetryQueue
	positions  PositionSettler
	notifier   Notifier
	logger     zerolog.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	maxRetries int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRetryWorker(
	queue RetryQueue,
	positions PositionSettler,
	notifier Notifier,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	interval time.Duration,
	maxRetries int,
) *RetryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryWorker{
		queue:      queue,
		positions:  positions,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// Start launches the periodic drain loop.
func (w *RetryWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report := w.DrainOnce(ctx)
				if report.Attempted > 0 || len(report.Exhausted) > 0 {
					w.logReport(report)
				}
			}
		}
	}()
	w.logger.Info().Dur("interval", w.interval).Int("max_retries", w.maxRetries).
		Msg("settlement retry worker started")
}

// Stop cancels the loop and waits for the current pass to finish.
func (w *RetryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// DrainOnce retries every eligible job once, oldest first, and reports what
// happened. Exposed for the manual retry endpoint.
func (w *RetryWorker) DrainOnce(ctx context.Context) Report {
	var report Report

	jobs, err := w.queue.ListRetryable(ctx, w.maxRetries)
	if err != nil {
		w.logger.Error().Err(err).Msg("listing retryable settlements failed")
		return report
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++

		_, _, err := w.positions.SettleMarket(ctx, job.MarketID, job.ResolvedValue)
		if w.metrics != nil {
			w.metrics.SettlementRetries.Inc()
		}
		if err != nil {
			report.Failed++
			w.logger.Warn().Err(err).
				Str("market", job.MarketID).
				Int("retry_count", job.RetryCount+1).
				Msg("settlement retry failed")
			if recErr := w.queue.RecordFailure(ctx, job.ID, err); recErr != nil {
				w.logger.Error().Err(recErr).Str("market", job.MarketID).
					Msg("recording retry failure failed")
			}
			continue
		}

		report.Succeeded++
		if delErr := w.queue.Delete(ctx, job.ID); delErr != nil {
			w.logger.Error().Err(delErr).Str("market", job.MarketID).
				Msg("removing completed retry job failed")
		}
		// A market settled on retry still owes downstream its resolution
		// broadcast; the first attempt never got that far.
		w.notify(ctx, job)
	}

	exhausted, err := w.queue.ListExhausted(ctx, w.maxRetries)
	if err != nil {
		w.logger.Error().Err(err).Msg("listing exhausted settlements failed")
	} else {
		report.Exhausted = exhausted
	}
	return report
}

func (w *RetryWorker) notify(ctx context.Context, job Job) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyResolved(ctx, job.MarketID, job.ResolvedValue); err != nil {
		w.logger.Warn().Err(err).
			Str("market", job.MarketID).
			Msg("settlement notification failed")
		if w.metrics != nil {
			w.metrics.RegistrySyncFailures.Inc()
		}
	}
}

func (w *RetryWorker) logReport(report Report) {
	evt := w.logger.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed)
	if len(report.Exhausted) > 0 {
		markets := make([]string, 0, len(report.Exhausted))
		for _, j := range report.Exhausted {
			markets = append(markets, j.MarketID)
		}
		evt = evt.Strs("exhausted_markets", markets)
	}
	evt.Msg("settlement retry pass complete")

	for _, j := range report.Exhausted {
		w.logger.Error().
			Str("market", j.MarketID).
			Int64("resolved_value", j.ResolvedValue).
			Int("retry_count", j.RetryCount).
			Str("last_error", j.LastError).
			Msg("settlement out of retries, manual intervention required")
	}
}
