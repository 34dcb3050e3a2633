package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSettler struct {
	mu      sync.Mutex
	calls   []string
	losers  int64
	winners int64
	err     error
}

func (f *fakeSettler) SettleMarket(_ context.Context, marketID string, _ int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, marketID)
	return f.losers, f.winners, f.err
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeQueue struct {
	mu     sync.Mutex
	queued []string
	err    error
}

func (f *fakeQueue) Enqueue(_ context.Context, marketID string, _ int64, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, marketID)
	return nil
}

func (f *fakeQueue) queuedMarkets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queued...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
	err      error
}

func (f *fakeNotifier) NotifyResolved(_ context.Context, marketID string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notified = append(f.notified, marketID)
	return nil
}

func TestSettleSuccess(t *testing.T) {
	settler := &fakeSettler{losers: 3, winners: 2}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	e := NewEngine(settler, queue, notifier, zerolog.Nop(), nil, time.Second)

	if err := e.Settle(context.Background(), "mkt-1", 90500); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(queue.queuedMarkets()) != 0 {
		t.Error("successful settlement should not be queued")
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "mkt-1" {
		t.Errorf("notified: %v, want [mkt-1]", notifier.notified)
	}
}

func TestSettleFailureQueuesJob(t *testing.T) {
	settler := &fakeSettler{err: errors.New("connection reset")}
	queue := &fakeQueue{}
	e := NewEngine(settler, queue, nil, zerolog.Nop(), nil, time.Second)

	if err := e.Settle(context.Background(), "mkt-1", 90500); err == nil {
		t.Fatal("expected settle error")
	}
	if got := queue.queuedMarkets(); len(got) != 1 || got[0] != "mkt-1" {
		t.Errorf("queued: %v, want [mkt-1]", got)
	}
}

func TestSettleNotifyFailureIsNonFatal(t *testing.T) {
	settler := &fakeSettler{}
	notifier := &fakeNotifier{err: errors.New("broker down")}
	e := NewEngine(settler, &fakeQueue{}, notifier, zerolog.Nop(), nil, time.Second)

	if err := e.Settle(context.Background(), "mkt-1", 90500); err != nil {
		t.Fatalf("notify failure must not fail settlement: %v", err)
	}
}

func TestSettleAsyncRunsAndWaits(t *testing.T) {
	settler := &fakeSettler{}
	e := NewEngine(settler, &fakeQueue{}, nil, zerolog.Nop(), nil, time.Second)

	e.SettleAsync("mkt-1", 90500)
	e.SettleAsync("mkt-2", 91500)
	e.Wait()

	if settler.callCount() != 2 {
		t.Errorf("settle calls: got %d, want 2", settler.callCount())
	}
}
