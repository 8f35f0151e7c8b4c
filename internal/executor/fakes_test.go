package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct {
	mu         sync.Mutex
	quoteOut   decimal.Decimal
	gas        decimal.Decimal
	submitErrs []error
	submits    []domain.SwapRequest
	status     domain.TxStatus
	statusFn   func(ctx context.Context) domain.TxStatus
	polls      int
	signHook   bool
	gate       chan struct{}
	entered    chan struct{}
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		quoteOut: decimal.NewFromInt(2995),
		gas:      decimal.NewFromInt(20),
		status:   domain.TxStatus{State: domain.TxConfirmed, AmountOut: decimal.NewFromInt(2990), Block: 100},
		entered:  make(chan struct{}, 64),
	}
}

func (v *fakeVenue) Quote(_ context.Context, _, _ string, _ decimal.Decimal) (domain.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.Quote{AmountOut: v.quoteOut, GasEstimate: 150_000}, nil
}

func (v *fakeVenue) GasPrice(context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gas, nil
}

func (v *fakeVenue) Submit(ctx context.Context, req domain.SwapRequest) (string, error) {
	v.entered <- struct{}{}
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits = append(v.submits, req)
	n := len(v.submits)
	ref := fmt.Sprintf("0xtx%d", n)
	if v.signHook && req.BeforeBroadcast != nil {
		if err := req.BeforeBroadcast(ref); err != nil {
			return "", err
		}
	}
	if n <= len(v.submitErrs) && v.submitErrs[n-1] != nil {
		return "", v.submitErrs[n-1]
	}
	return ref, nil
}

func (v *fakeVenue) Status(ctx context.Context, _ string) (domain.TxStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.polls++
	if v.statusFn != nil {
		return v.statusFn(ctx), nil
	}
	return v.status, nil
}

// Polls reports how many Status calls the venue served.
func (v *fakeVenue) Polls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.polls
}

func (v *fakeVenue) Submits() []domain.SwapRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.SwapRequest(nil), v.submits...)
}

func (v *fakeVenue) setStatus(s domain.TxStatus) {
	v.mu.Lock()
	v.status = s
	v.mu.Unlock()
}

var errNonceTooLow = fmt.Errorf("nonce too low: %w", domain.ErrTransient)

type fakePrices map[string]decimal.Decimal

func (p fakePrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := p[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return v, nil
}

func (p fakePrices) Series(context.Context, string, time.Duration) ([]domain.PricePoint, error) {
	return nil, nil
}

// haltingLocks engages the emergency stop while the caller waits for the
// lock, then grants it.
type haltingLocks struct {
	controls *service.Controls
	acquired atomic.Int32
}

func (l *haltingLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.controls.Halt()
	l.acquired.Add(1)
	return func() {}, nil
}

type countingRebuilder struct{ n atomic.Int32 }

func (r *countingRebuilder) RebuildAsync(string) <-chan error {
	r.n.Add(1)
	ch := make(chan error, 1)
	ch <- nil
	close(ch)
	return ch
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (r *recordingEvents) PublishAsync(ev domain.OrderEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingEvents) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
