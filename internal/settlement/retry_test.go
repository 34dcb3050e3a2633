package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type memQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *memQueue) add(marketID string, resolved int64, retries int, createdAt time.Time) uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New()
	q.jobs = append(q.jobs, Job{
		ID: id, MarketID: marketID, ResolvedValue: resolved,
		RetryCount: retries, CreatedAt: createdAt,
	})
	return id
}

func (q *memQueue) ListRetryable(_ context.Context, maxRetries int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, j := range q.jobs {
		if j.RetryCount < maxRetries {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *memQueue) ListExhausted(_ context.Context, maxRetries int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, j := range q.jobs {
		if j.RetryCount >= maxRetries {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *memQueue) Delete(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return nil
		}
	}
	return errors.New("job not found")
}

func (q *memQueue) RecordFailure(_ context.Context, id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.jobs {
		if q.jobs[i].ID == id {
			q.jobs[i].RetryCount++
			q.jobs[i].LastError = cause.Error()
			return nil
		}
	}
	return errors.New("job not found")
}

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func newTestWorker(q RetryQueue, s PositionSettler) *RetryWorker {
	return NewRetryWorker(q, s, nil, zerolog.Nop(), nil, time.Minute, DefaultMaxRetries)
}

func TestDrainOnceRetriesOldestFirst(t *testing.T) {
	q := &memQueue{}
	base := time.Now().Add(-time.Hour)
	q.add("mkt-old", 100, 0, base)
	q.add("mkt-new", 200, 0, base.Add(time.Minute))

	settler := &fakeSettler{}
	w := newTestWorker(q, settler)

	report := w.DrainOnce(context.Background())
	if report.Attempted != 2 || report.Succeeded != 2 {
		t.Fatalf("report: %+v, want 2 attempted 2 succeeded", report)
	}
	if settler.calls[0] != "mkt-old" || settler.calls[1] != "mkt-new" {
		t.Errorf("retry order: %v, want oldest first", settler.calls)
	}
	if q.size() != 0 {
		t.Errorf("queue size after success: %d, want 0", q.size())
	}
}

func TestDrainOnceRecordsFailure(t *testing.T) {
	q := &memQueue{}
	id := q.add("mkt-1", 100, 0, time.Now())

	settler := &fakeSettler{err: errors.New("still down")}
	w := newTestWorker(q, settler)

	report := w.DrainOnce(context.Background())
	if report.Failed != 1 {
		t.Fatalf("report: %+v, want 1 failed", report)
	}
	_ = id
	if q.size() != 1 || q.jobs[0].RetryCount != 1 {
		t.Errorf("job after failure: %+v, want retained with retry_count 1", q.jobs)
	}
}

func TestDrainOnceReportsExhausted(t *testing.T) {
	q := &memQueue{}
	q.add("mkt-dead", 100, DefaultMaxRetries, time.Now())
	q.add("mkt-live", 200, 0, time.Now())

	settler := &fakeSettler{}
	w := newTestWorker(q, settler)

	report := w.DrainOnce(context.Background())
	if report.Attempted != 1 {
		t.Errorf("attempted: %d, want 1 (exhausted job skipped)", report.Attempted)
	}
	if len(report.Exhausted) != 1 || report.Exhausted[0].MarketID != "mkt-dead" {
		t.Errorf("exhausted: %+v, want [mkt-dead]", report.Exhausted)
	}
}

func TestJobExhaustsAfterBoundedRetries(t *testing.T) {
	q := &memQueue{}
	q.add("mkt-1", 100, 0, time.Now())

	settler := &fakeSettler{err: errors.New("persistent failure")}
	w := newTestWorker(q, settler)

	for i := 0; i < DefaultMaxRetries; i++ {
		w.DrainOnce(context.Background())
	}

	report := w.DrainOnce(context.Background())
	if report.Attempted != 0 {
		t.Errorf("exhausted job retried: %+v", report)
	}
	if len(report.Exhausted) != 1 {
		t.Errorf("exhausted: %+v, want 1 job", report.Exhausted)
	}
	if settler.callCount() != DefaultMaxRetries {
		t.Errorf("settle calls: %d, want %d", settler.callCount(), DefaultMaxRetries)
	}
}

func TestDrainOnceNotifiesOnRetrySuccess(t *testing.T) {
	q := &memQueue{}
	q.add("mkt-1", 90500, 0, time.Now())

	notifier := &fakeNotifier{}
	w := NewRetryWorker(q, &fakeSettler{}, notifier, zerolog.Nop(), nil, time.Minute, DefaultMaxRetries)

	report := w.DrainOnce(context.Background())
	if report.Succeeded != 1 {
		t.Fatalf("report: %+v, want 1 succeeded", report)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "mkt-1" {
		t.Errorf("notified: %v, want [mkt-1]", notifier.notified)
	}
}

func TestDrainOnceDoesNotNotifyOnFailure(t *testing.T) {
	q := &memQueue{}
	q.add("mkt-1", 90500, 0, time.Now())

	notifier := &fakeNotifier{}
	settler := &fakeSettler{err: errors.New("still down")}
	w := NewRetryWorker(q, settler, notifier, zerolog.Nop(), nil, time.Minute, DefaultMaxRetries)

	if report := w.DrainOnce(context.Background()); report.Failed != 1 {
		t.Fatalf("report: %+v, want 1 failed", report)
	}
	if len(notifier.notified) != 0 {
		t.Errorf("failed retry must not broadcast: %v", notifier.notified)
	}
}

func TestWorkerStartStop(t *testing.T) {
	q := &memQueue{}
	w := NewRetryWorker(q, &fakeSettler{}, nil, zerolog.Nop(), nil, time.Millisecond, DefaultMaxRetries)

	w.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
