package executor

import (
	"context"
	"strings"
	"sync"
)

// walletQueues runs one FIFO worker per wallet. A worker exists only while
// its wallet has queued orders, so at most one order per wallet is ever
// being executed.
type walletQueues struct {
	mu     sync.Mutex
	queues map[string]*walletQueue
	run    func(ctx context.Context, orderID string)
	ctx    context.Context
	wg     sync.WaitGroup
	closed bool
}

type walletQueue struct {
	pending []string
}

func newWalletQueues(ctx context.Context, run func(ctx context.Context, orderID string)) *walletQueues {
	return &walletQueues{
		queues: make(map[string]*walletQueue),
		run:    run,
		ctx:    ctx,
	}
}

// Enqueue appends orderID to the wallet's queue and starts a worker if none
// is running. It returns false after close.
func (w *walletQueues) Enqueue(wallet, orderID string) bool {
	key := strings.ToLower(wallet)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	q, running := w.queues[key]
	if !running {
		q = &walletQueue{}
		w.queues[key] = q
	}
	q.pending = append(q.pending, orderID)
	if !running {
		w.wg.Add(1)
		go w.drain(key, q)
	}
	return true
}

// Depth returns the number of orders waiting behind the one in flight.
func (w *walletQueues) Depth(wallet string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if q, ok := w.queues[strings.ToLower(wallet)]; ok {
		return len(q.pending)
	}
	return 0
}

// Close stops new work from being accepted and waits for running workers to
// finish or ctx to expire. Orders still queued stay PENDING for recovery.
func (w *walletQueues) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	for _, q := range w.queues {
		q.pending = nil
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *walletQueues) drain(key string, q *walletQueue) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		if len(q.pending) == 0 {
			delete(w.queues, key)
			w.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]
		w.mu.Unlock()

		w.run(w.ctx, id)
	}
}
