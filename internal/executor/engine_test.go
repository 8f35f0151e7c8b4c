package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/service"
	"github.com/alanyoungcy/swapbot/internal/store/memory"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func limits(maxGas int64) domain.RiskLimits {
	return domain.RiskLimits{
		MinTradeAmount:     decimal.RequireFromString("0.001"),
		MaxTradeAmount:     decimal.NewFromInt(10),
		MaxGasPriceGwei:    decimal.NewFromInt(maxGas),
		DefaultSlippageBps: 50,
		MaxSlippageBps:     300,
	}
}

func swapIntent(wallet, amount string) domain.TradeIntent {
	return domain.TradeIntent{
		Action:     domain.ActionSell,
		Wallet:     wallet,
		TokenIn:    "ETH",
		TokenOut:   "USDC",
		Amount:     decimal.RequireFromString(amount),
		AmountKind: domain.AmountAbsolute,
		Confidence: 1,
		Origin:     domain.OriginDirect,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}.WithSlippage(50)
}

type harness struct {
	engine    *Engine
	orders    *memory.OrderStore
	venue     *fakeVenue
	controls  *service.Controls
	rebuilder *countingRebuilder
	events    *recordingEvents
}

func newHarness(t *testing.T, cfg EngineConfig, maxGas int64, opts ...EngineOption) *harness {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	h := &harness{
		orders:    memory.NewOrderStore(),
		venue:     newFakeVenue(),
		controls:  service.NewControls(limits(maxGas), false),
		rebuilder: &countingRebuilder{},
		events:    &recordingEvents{},
	}
	h.engine = NewEngine(h.orders, h.venue, h.controls, cfg, discardLogger(),
		append([]EngineOption{
			WithPriceReference(fakePrices{"ETH": decimal.NewFromInt(3000), "USDC": decimal.NewFromInt(1)}),
			WithPortfolio(h.rebuilder),
			WithEvents(h.events),
			WithAudit(memory.NewAuditStore()),
		}, opts...)...,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Close(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T, id string) domain.Order {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := h.engine.Wait(ctx, id)
	require.NoError(t, err)
	return o
}

func TestEngine_ConfirmedSwap(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "k1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePending, order.State)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateConfirmed, final.State)
	assert.False(t, final.Simulated)
	require.Len(t, final.Attempts, 1)
	assert.Equal(t, "0xtx1", final.Attempts[0].TxRef)
	assert.Equal(t, domain.AttemptSubmitted, final.Attempts[0].Outcome)
	assert.True(t, final.AmountOutActual.Equal(decimal.NewFromInt(2990)))
	assert.True(t, final.ExecutionPrice.Equal(decimal.NewFromInt(2990)))
	assert.True(t, final.QuotedAmountOut.Equal(decimal.NewFromInt(2995)))
	require.NotNil(t, final.FinalizedAt)

	submits := h.venue.Submits()
	require.Len(t, submits, 1)
	// 2995 * (1 - 50/10000)
	assert.True(t, submits[0].MinAmountOut.Equal(decimal.RequireFromString("2980.025")), "got %s", submits[0].MinAmountOut)
	assert.Equal(t, uint64(180_000), submits[0].GasLimit)

	assert.Eventually(t, func() bool { return h.rebuilder.n.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(h.events.Types()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.EventType{domain.EventOrderCreated, domain.EventOrderConfirmed}, h.events.Types())
	assert.Eventually(t, func() bool { return h.engine.InFlight() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEngine_ConcurrentDuplicateSubmit(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	intent := swapIntent(walletA, "1")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.engine.Submit(context.Background(), intent, "same-key")
			assert.NoError(t, err)
			mu.Lock()
			ids[o.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, ids, 1)

	var id string
	for k := range ids {
		id = k
	}
	final := h.wait(t, id)
	assert.Equal(t, domain.OrderStateConfirmed, final.State)
	assert.Len(t, final.Attempts, 1)
	assert.Len(t, h.venue.Submits(), 1)

	all, err := h.orders.ListByOrigin(context.Background(), domain.OriginDirect)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	again, err := h.engine.Submit(context.Background(), intent, "same-key")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateConfirmed, again.State, "existing handle returned unchanged")
}

func TestEngine_DryRun(t *testing.T) {
	h := newHarness(t, EngineConfig{DryRun: true}, 100)

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "dry")
	require.NoError(t, err)
	assert.True(t, order.DryRun)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateConfirmed, final.State)
	assert.True(t, final.Simulated)
	require.Len(t, final.Attempts, 1)
	assert.Equal(t, domain.AttemptSimulated, final.Attempts[0].Outcome)
	assert.True(t, final.AmountOutActual.Equal(decimal.NewFromInt(2995)))
	assert.Empty(t, h.venue.Submits())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.rebuilder.n.Load(), "dry run never touches the portfolio")
}

func TestEngine_GasCapExceeded(t *testing.T) {
	h := newHarness(t, EngineConfig{MaxAttempts: 3}, 50)
	h.venue.gas = decimal.NewFromInt(45)
	h.venue.submitErrs = []error{errNonceTooLow, errNonceTooLow, errNonceTooLow}

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "gas")
	require.NoError(t, err)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateFailed, final.State)
	assert.Equal(t, domain.FailureGasCapExceeded, final.FailureReason)
	require.Len(t, final.Attempts, 2)
	assert.True(t, final.Attempts[0].GasPriceGwei.Equal(decimal.NewFromInt(45)))
	assert.True(t, final.Attempts[1].GasPriceGwei.Equal(decimal.RequireFromString("49.5")))
	for _, a := range final.Attempts {
		assert.Equal(t, domain.AttemptRetryable, a.Outcome)
	}
	assert.Len(t, h.venue.Submits(), 2, "third attempt at 54.45 is never sent")
}

func TestEngine_RetryThenConfirm(t *testing.T) {
	h := newHarness(t, EngineConfig{MaxAttempts: 3}, 100)
	h.venue.submitErrs = []error{errNonceTooLow}

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "retry")
	require.NoError(t, err)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateConfirmed, final.State)
	require.Len(t, final.Attempts, 2)
	assert.Equal(t, domain.AttemptRetryable, final.Attempts[0].Outcome)
	assert.True(t, final.Attempts[1].GasPriceGwei.Equal(decimal.NewFromInt(22)))
}

func TestEngine_FailureReasons(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(v *fakeVenue)
		cfg          EngineConfig
		wantReason   domain.FailureReason
		wantAttempts int
	}{
		{
			name:       "slippage exceeded",
			setup:      func(v *fakeVenue) { v.quoteOut = decimal.NewFromInt(2900) },
			wantReason: domain.FailureSlippageExceeded,
		},
		{
			name:         "retries exhausted",
			setup:        func(v *fakeVenue) { v.submitErrs = []error{errNonceTooLow, errNonceTooLow} },
			cfg:          EngineConfig{MaxAttempts: 2},
			wantReason:   domain.FailureUpstreamUnavailable,
			wantAttempts: 2,
		},
		{
			name:         "fatal submit error",
			setup:        func(v *fakeVenue) { v.submitErrs = []error{assert.AnError} },
			wantReason:   domain.FailureUpstreamUnavailable,
			wantAttempts: 1,
		},
		{
			name:         "reverted",
			setup:        func(v *fakeVenue) { v.status = domain.TxStatus{State: domain.TxFailed, Block: 7} },
			wantReason:   domain.FailureReverted,
			wantAttempts: 1,
		},
		{
			name:         "timeout while pending",
			setup:        func(v *fakeVenue) { v.status = domain.TxStatus{State: domain.TxPending} },
			cfg:          EngineConfig{Timeout: 150 * time.Millisecond},
			wantReason:   domain.FailureTimeout,
			wantAttempts: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg, 100)
			tt.setup(h.venue)

			order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), tt.name)
			require.NoError(t, err)

			final := h.wait(t, order.ID)
			assert.Equal(t, domain.OrderStateFailed, final.State)
			assert.Equal(t, tt.wantReason, final.FailureReason)
			assert.Len(t, final.Attempts, tt.wantAttempts)
			assert.Zero(t, h.rebuilder.n.Load())
		})
	}
}

func TestEngine_WalletSerialization(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	h.venue.gate = make(chan struct{})
	ctx := context.Background()

	first, err := h.engine.Submit(ctx, swapIntent(walletA, "1"), "a1")
	require.NoError(t, err)
	<-h.venue.entered

	second, err := h.engine.Submit(ctx, swapIntent(walletA, "2"), "a2")
	require.NoError(t, err)
	other, err := h.engine.Submit(ctx, swapIntent(walletB, "1"), "b1")
	require.NoError(t, err)

	// Wallet B proceeds while wallet A's second order waits.
	select {
	case <-h.venue.entered:
	case <-time.After(time.Second):
		t.Fatal("other wallet was blocked")
	}
	assert.Equal(t, 1, h.engine.QueueDepth(walletA))
	got, err := h.engine.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatePending, got.State)

	close(h.venue.gate)
	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, first.ID).State)
	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, second.ID).State)
	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, other.ID).State)

	submits := h.venue.Submits()
	require.Len(t, submits, 3)
	var aOrder []string
	for _, s := range submits {
		if s.Wallet == walletA {
			aOrder = append(aOrder, s.AmountIn.String())
		}
	}
	assert.Equal(t, []string{"1", "2"}, aOrder)
}

func TestEngine_CancelPending(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	h.venue.gate = make(chan struct{})
	ctx := context.Background()

	first, err := h.engine.Submit(ctx, swapIntent(walletA, "1"), "c1")
	require.NoError(t, err)
	<-h.venue.entered
	queued, err := h.engine.Submit(ctx, swapIntent(walletA, "2"), "c2")
	require.NoError(t, err)

	cancelled, err := h.engine.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFailed, cancelled.State)
	assert.Equal(t, domain.FailureCancelled, cancelled.FailureReason)

	_, err = h.engine.Cancel(ctx, queued.ID)
	assert.ErrorIs(t, err, domain.ErrOrderFinalized)

	_, err = h.engine.Cancel(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrOrderInFlight)

	close(h.venue.gate)
	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, first.ID).State, "confirmed trade is never marked cancelled")
	assert.Len(t, h.venue.Submits(), 1)
}

func TestEngine_CancelInFlightFinalizesAtTimeout(t *testing.T) {
	h := newHarness(t, EngineConfig{Timeout: 200 * time.Millisecond}, 100)
	h.venue.status = domain.TxStatus{State: domain.TxPending}
	ctx := context.Background()

	order, err := h.engine.Submit(ctx, swapIntent(walletA, "1"), "inflight")
	require.NoError(t, err)
	<-h.venue.entered
	require.Eventually(t, func() bool {
		o, _ := h.engine.Get(ctx, order.ID)
		return len(o.Attempts) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = h.engine.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderInFlight)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateFailed, final.State)
	assert.Equal(t, domain.FailureCancelled, final.FailureReason)
}

func TestEngine_EmergencyStopFailsQueuedOrders(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	h.venue.gate = make(chan struct{})
	ctx := context.Background()

	first, err := h.engine.Submit(ctx, swapIntent(walletA, "1"), "h1")
	require.NoError(t, err)
	<-h.venue.entered
	queued, err := h.engine.Submit(ctx, swapIntent(walletA, "2"), "h2")
	require.NoError(t, err)

	h.controls.Halt()
	close(h.venue.gate)

	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, first.ID).State, "in-flight order completes")
	final := h.wait(t, queued.ID)
	assert.Equal(t, domain.OrderStateFailed, final.State)
	assert.Equal(t, domain.FailureTradingHalted, final.FailureReason)
	assert.Empty(t, final.Attempts)
}

func TestEngine_Recover(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Minute)

	pending := domain.Order{
		ID: "pending-1", Wallet: walletA, Intent: swapIntent(walletA, "1"),
		State: domain.OrderStatePending, CreatedAt: created, UpdatedAt: created,
	}
	inflight := domain.Order{
		ID: "submitting-1", Wallet: walletB, Intent: swapIntent(walletB, "1"),
		State: domain.OrderStateSubmitting, CreatedAt: created, UpdatedAt: created,
		Attempts: []domain.Attempt{{Number: 1, TxRef: "0xold", Outcome: domain.AttemptSubmitted}},
	}
	orphan := domain.Order{
		ID: "submitting-2", Wallet: walletB, Intent: swapIntent(walletB, "3"),
		State: domain.OrderStateSubmitting, CreatedAt: created, UpdatedAt: created,
	}
	for _, o := range []domain.Order{pending, inflight, orphan} {
		require.NoError(t, h.orders.Create(ctx, o))
	}

	require.NoError(t, h.engine.Recover(ctx))

	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, pending.ID).State)
	assert.Equal(t, domain.OrderStateConfirmed, h.wait(t, inflight.ID).State)
	o := h.wait(t, orphan.ID)
	assert.Equal(t, domain.OrderStateFailed, o.State)
	assert.Equal(t, domain.FailureUpstreamUnavailable, o.FailureReason)
	assert.Len(t, h.venue.Submits(), 1, "only the pending order is submitted")
}

// pendingUntilDeadline reports the transaction pending for every poll made
// under the execution deadline and confirmed for any later check.
func pendingUntilDeadline() func(ctx context.Context) domain.TxStatus {
	var execDeadline time.Time
	return func(ctx context.Context) domain.TxStatus {
		dl, _ := ctx.Deadline()
		if execDeadline.IsZero() {
			execDeadline = dl
		}
		if dl.After(execDeadline) {
			return domain.TxStatus{State: domain.TxConfirmed, AmountOut: decimal.NewFromInt(2990), Block: 101}
		}
		return domain.TxStatus{State: domain.TxPending}
	}
}

func TestEngine_ReconcileAtDeadlineConfirms(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{name: "unconfirmed through polling"},
		{name: "cancel requested while in flight", cancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, EngineConfig{Timeout: 200 * time.Millisecond}, 100)
			h.venue.statusFn = pendingUntilDeadline()
			ctx := context.Background()

			order, err := h.engine.Submit(ctx, swapIntent(walletA, "1"), "deadline")
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				o, _ := h.engine.Get(ctx, order.ID)
				return len(o.Attempts) == 1
			}, time.Second, 5*time.Millisecond)

			if tt.cancel {
				_, err = h.engine.Cancel(ctx, order.ID)
				assert.ErrorIs(t, err, domain.ErrOrderInFlight)
			}

			final := h.wait(t, order.ID)
			assert.Equal(t, domain.OrderStateConfirmed, final.State, "a trade confirmed at the final check is never failed")
			assert.Equal(t, domain.FailureNone, final.FailureReason)
			assert.True(t, final.AmountOutActual.Equal(decimal.NewFromInt(2990)))
			assert.Greater(t, h.venue.Polls(), 1)
			assert.Eventually(t, func() bool { return h.rebuilder.n.Load() == 1 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestEngine_HaltWhileWaitingForWalletLock(t *testing.T) {
	locks := &haltingLocks{}
	h := newHarness(t, EngineConfig{}, 100, WithWalletLock(locks))
	locks.controls = h.controls

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "lock-halt")
	require.NoError(t, err)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateFailed, final.State)
	assert.Equal(t, domain.FailureTradingHalted, final.FailureReason)
	assert.Empty(t, final.Attempts)
	assert.Equal(t, int32(1), locks.acquired.Load())
	assert.Empty(t, h.venue.Submits())
}

func TestEngine_RecordsSignedTxBeforeBroadcast(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	h.venue.signHook = true

	order, err := h.engine.Submit(context.Background(), swapIntent(walletA, "1"), "signed")
	require.NoError(t, err)

	final := h.wait(t, order.ID)
	assert.Equal(t, domain.OrderStateConfirmed, final.State)
	require.Len(t, final.Attempts, 2)
	assert.Equal(t, domain.AttemptSigned, final.Attempts[0].Outcome)
	assert.Equal(t, "0xtx1", final.Attempts[0].TxRef)
	assert.Equal(t, domain.AttemptSubmitted, final.Attempts[1].Outcome)
	assert.Equal(t, "0xtx1", final.Attempts[1].TxRef)
}

func TestEngine_RecoverReconcilesSignedTx(t *testing.T) {
	h := newHarness(t, EngineConfig{}, 100)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Minute)

	// The process stopped after recording the hash, before Submit returned.
	crashed := domain.Order{
		ID: "signed-1", Wallet: walletA, Intent: swapIntent(walletA, "1"),
		State: domain.OrderStateSubmitting, CreatedAt: created, UpdatedAt: created,
		Attempts: []domain.Attempt{{Number: 1, TxRef: "0xsigned", Outcome: domain.AttemptSigned}},
	}
	require.NoError(t, h.orders.Create(ctx, crashed))

	require.NoError(t, h.engine.Recover(ctx))

	final := h.wait(t, crashed.ID)
	assert.Equal(t, domain.OrderStateConfirmed, final.State, "a broadcast trade is reconciled, not failed")
	assert.Empty(t, h.venue.Submits(), "recovery never resubmits")
}
