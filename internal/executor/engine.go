package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/idhash"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// HaltState reports whether the emergency stop is engaged and which limits
// are in force. Implemented by service.Controls.
type HaltState interface {
	Halted() bool
	Limits() domain.RiskLimits
}

// PortfolioRebuilder rebuilds a wallet snapshot in the background.
type PortfolioRebuilder interface {
	RebuildAsync(wallet string) <-chan error
}

// EventPublisher publishes order events without blocking the caller.
type EventPublisher interface {
	PublishAsync(event domain.OrderEvent)
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	DryRun        bool
	MaxAttempts   int
	GasStepPct    decimal.Decimal
	Timeout       time.Duration
	SubmitTimeout time.Duration
	PollInterval  time.Duration
	GasLimit      uint64
	LockTTL       time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if !c.GasStepPct.IsPositive() {
		c.GasStepPct = decimal.NewFromInt(10)
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.SubmitTimeout <= 0 || c.SubmitTimeout > c.Timeout {
		c.SubmitTimeout = min(30*time.Second, c.Timeout)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Timeout + 30*time.Second
	}
}

// Engine drives accepted intents through the order state machine:
// PENDING -> SUBMITTING -> CONFIRMED | FAILED. Orders of one wallet are
// executed strictly one at a time in submission order.
type Engine struct {
	orders    domain.OrderStore
	venue     domain.Venue
	prices    domain.PriceSource
	controls  HaltState
	portfolio PortfolioRebuilder
	events    EventPublisher
	audit     domain.AuditStore
	locks     domain.LockManager
	cfg       EngineConfig
	logger    *slog.Logger

	queues   *walletQueues
	cancel   context.CancelFunc
	tracking sync.WaitGroup
	inFlight atomic.Int64

	cancelMu        sync.Mutex
	cancelRequested map[string]bool

	now func() time.Time
}

// EngineOption configures optional collaborators.
type EngineOption func(*Engine)

// WithPriceReference enables the reference-price slippage check.
func WithPriceReference(p domain.PriceSource) EngineOption {
	return func(e *Engine) { e.prices = p }
}

// WithPortfolio triggers snapshot rebuilds after confirmed trades.
func WithPortfolio(p PortfolioRebuilder) EngineOption {
	return func(e *Engine) { e.portfolio = p }
}

// WithEvents publishes order events.
func WithEvents(p EventPublisher) EngineOption {
	return func(e *Engine) { e.events = p }
}

// WithAudit records order transitions in the audit log.
func WithAudit(a domain.AuditStore) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// WithWalletLock additionally serializes wallets across processes.
func WithWalletLock(l domain.LockManager) EngineOption {
	return func(e *Engine) { e.locks = l }
}

// NewEngine creates an Engine and starts accepting work.
func NewEngine(
	orders domain.OrderStore,
	venue domain.Venue,
	controls HaltState,
	cfg EngineConfig,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		orders:          orders,
		venue:           venue,
		controls:        controls,
		cfg:             cfg,
		logger:          logger.With(slog.String("component", "execution_engine")),
		cancel:          cancel,
		cancelRequested: make(map[string]bool),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queues = newWalletQueues(ctx, e.process)
	return e
}

// Submit creates the order for (intent, idempotencyKey) and queues it behind
// the wallet's in-flight order. If the order already exists it is returned
// unchanged and nothing is queued.
func (e *Engine) Submit(ctx context.Context, intent domain.TradeIntent, idempotencyKey string) (domain.Order, error) {
	if intent.AmountKind != domain.AmountAbsolute {
		return domain.Order{}, fmt.Errorf("execution_engine: submit: amount must be absolute, got %s", intent.AmountKind)
	}
	now := e.now().UTC()
	order := domain.Order{
		ID:             idhash.ComputeOrderID(intent, idempotencyKey),
		IdempotencyKey: idempotencyKey,
		Wallet:         intent.Wallet,
		Intent:         intent,
		State:          domain.OrderStatePending,
		Attempts:       []domain.Attempt{},
		DryRun:         e.cfg.DryRun,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := e.orders.Create(ctx, order)
	if errors.Is(err, domain.ErrAlreadyExists) {
		observability.RecordOrderCreated(true)
		existing, getErr := e.orders.Get(ctx, order.ID)
		if getErr != nil {
			return domain.Order{}, fmt.Errorf("execution_engine: get existing %s: %w", order.ID, getErr)
		}
		e.logger.InfoContext(ctx, "duplicate submission collapsed",
			slog.String("order_id", order.ID),
			slog.String("state", string(existing.State)),
		)
		return existing, nil
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution_engine: create order: %w", err)
	}

	observability.RecordOrderCreated(false)
	observability.AddInFlight(1)
	e.inFlight.Add(1)
	e.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("wallet", order.Wallet),
		slog.String("origin", intent.Origin),
		slog.String("pair", intent.TokenIn+"/"+intent.TokenOut),
		slog.String("amount", intent.Amount.String()),
		slog.Bool("dry_run", order.DryRun),
	)
	e.record(ctx, "order_created", order)
	e.publish(domain.EventOrderCreated, order)

	if !e.queues.Enqueue(order.Wallet, order.ID) {
		e.logger.WarnContext(ctx, "engine closed, order left pending for recovery", slog.String("order_id", order.ID))
	}
	return order, nil
}

// Get returns an order by id.
func (e *Engine) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := e.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution_engine: get %s: %w", id, err)
	}
	return o, nil
}

// Wait polls until the order is terminal or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) (domain.Order, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		o, err := e.Get(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if o.State.Terminal() {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return o, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel fails a PENDING order with reason cancelled. A SUBMITTING order
// cannot be recalled: the request is remembered, no further attempts are
// made, and if the transaction has not confirmed by the timeout the order is
// finalized as cancelled. ErrOrderInFlight is returned in that case.
func (e *Engine) Cancel(ctx context.Context, id string) (domain.Order, error) {
	o, err := e.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	switch o.State {
	case domain.OrderStateConfirmed, domain.OrderStateFailed:
		return o, domain.ErrOrderFinalized
	case domain.OrderStateSubmitting:
		e.requestCancel(id)
		return o, domain.ErrOrderInFlight
	}

	err = e.finalize(ctx, o, domain.OrderStatePending, domain.OrderFinal{
		State:         domain.OrderStateFailed,
		FailureReason: domain.FailureCancelled,
	})
	if errors.Is(err, domain.ErrStateConflict) {
		// Lost the race with the wallet worker; re-read and report.
		return e.Cancel(ctx, id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	return e.Get(ctx, id)
}

// InFlight returns the number of orders not yet finalized by this process.
func (e *Engine) InFlight() int {
	return int(e.inFlight.Load())
}

// QueueDepth returns how many orders wait behind the wallet's in-flight one.
func (e *Engine) QueueDepth(wallet string) int {
	return e.queues.Depth(wallet)
}

// DryRun reports whether submissions are simulated.
func (e *Engine) DryRun() bool { return e.cfg.DryRun }

// Recover resumes work left by a previous process: PENDING orders are
// re-queued in creation order and SUBMITTING orders are reconciled against
// the venue before anything else for their wallet runs.
func (e *Engine) Recover(ctx context.Context) error {
	submitting, err := e.orders.ListByState(ctx, domain.OrderStateSubmitting)
	if err != nil {
		return fmt.Errorf("execution_engine: list submitting: %w", err)
	}
	for _, o := range submitting {
		e.inFlight.Add(1)
		observability.AddInFlight(1)
		e.reconcileOnStartup(ctx, o)
	}

	pending, err := e.orders.ListByState(ctx, domain.OrderStatePending)
	if err != nil {
		return fmt.Errorf("execution_engine: list pending: %w", err)
	}
	for _, o := range pending {
		e.inFlight.Add(1)
		observability.AddInFlight(1)
		e.queues.Enqueue(o.Wallet, o.ID)
	}

	if len(submitting)+len(pending) > 0 {
		e.logger.InfoContext(ctx, "recovered orders",
			slog.Int("submitting", len(submitting)),
			slog.Int("pending", len(pending)),
		)
	}
	return nil
}

// Close stops accepting work and waits for in-flight executions until ctx
// expires. Orders still queued remain PENDING and are picked up by Recover.
func (e *Engine) Close(ctx context.Context) error {
	err := e.queues.Close(ctx)
	done := make(chan struct{})
	go func() {
		e.tracking.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	e.cancel()
	return err
}

// process is the wallet worker body for one order.
func (e *Engine) process(ctx context.Context, id string) {
	order, err := e.orders.Get(ctx, id)
	if err != nil {
		e.logger.ErrorContext(ctx, "load queued order failed", slog.String("order_id", id), slog.String("error", err.Error()))
		return
	}
	if order.State != domain.OrderStatePending {
		return
	}
	log := e.logger.With(slog.String("order_id", id), slog.String("wallet", order.Wallet))

	if e.failIfHalted(ctx, order, log) {
		return
	}

	if e.locks != nil {
		unlock, err := e.acquireWallet(ctx, order.Wallet)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.ErrorContext(ctx, "wallet lock unavailable", slog.String("error", err.Error()))
			e.finalizeLogged(ctx, order, domain.OrderStatePending, domain.OrderFinal{
				State:         domain.OrderStateFailed,
				FailureReason: domain.FailureUpstreamUnavailable,
			})
			return
		}
		defer unlock()

		// The stop may have been engaged while this order waited for the lock.
		if e.failIfHalted(ctx, order, log) {
			return
		}
	}

	if err := e.orders.UpdateState(ctx, id, domain.OrderStatePending, domain.OrderStateSubmitting); err != nil {
		if !errors.Is(err, domain.ErrStateConflict) {
			log.ErrorContext(ctx, "move to submitting failed", slog.String("error", err.Error()))
		}
		return
	}
	order.State = domain.OrderStateSubmitting

	e.tracking.Add(1)
	defer e.tracking.Done()

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	e.execute(execCtx, order, log)
	e.clearCancel(id)
}

// failIfHalted fails a PENDING order when the emergency stop is engaged.
func (e *Engine) failIfHalted(ctx context.Context, order domain.Order, log *slog.Logger) bool {
	if !e.controls.Halted() {
		return false
	}
	log.WarnContext(ctx, "trading halted, failing queued order")
	e.finalizeLogged(ctx, order, domain.OrderStatePending, domain.OrderFinal{
		State:         domain.OrderStateFailed,
		FailureReason: domain.FailureTradingHalted,
	})
	return true
}

// execute runs quote, slippage check and the bounded submission loop for an
// order in SUBMITTING. ctx carries the overall execution deadline.
func (e *Engine) execute(ctx context.Context, order domain.Order, log *slog.Logger) {
	intent := order.Intent
	limits := e.controls.Limits()

	quote, err := e.venue.Quote(ctx, intent.TokenIn, intent.TokenOut, intent.Amount)
	if err != nil {
		log.WarnContext(ctx, "quote failed", slog.String("error", err.Error()))
		e.fail(ctx, order, e.timeoutOr(ctx, domain.FailureUpstreamUnavailable), decimal.Zero)
		return
	}

	if reason, ok := e.checkSlippage(ctx, intent, quote, log); !ok {
		e.fail(ctx, order, reason, quote.AmountOut)
		return
	}

	gasPrice, err := e.venue.GasPrice(ctx)
	if err != nil && !e.cfg.DryRun {
		log.WarnContext(ctx, "gas price unavailable", slog.String("error", err.Error()))
		e.fail(ctx, order, e.timeoutOr(ctx, domain.FailureUpstreamUnavailable), quote.AmountOut)
		return
	}

	if e.cfg.DryRun {
		e.simulate(ctx, order, quote, gasPrice)
		return
	}

	minOut := quote.AmountOut.Mul(bpsDenominator.Sub(decimal.NewFromInt(int64(intent.SlippageBps())))).Div(bpsDenominator)
	gasLimit := e.cfg.GasLimit
	if quote.GasEstimate > 0 {
		// 20% headroom over the venue estimate.
		gasLimit = quote.GasEstimate * 6 / 5
	}

	schedule := newGasSchedule(gasPrice, e.cfg.GasStepPct, limits.MaxGasPriceGwei)
	for n := 1; n <= e.cfg.MaxAttempts; n++ {
		if e.cancelWasRequested(order.ID) {
			log.InfoContext(ctx, "cancellation honoured before attempt", slog.Int("attempt", n))
			e.fail(ctx, order, domain.FailureCancelled, quote.AmountOut)
			return
		}
		price, ok := schedule.Next()
		if !ok {
			log.WarnContext(ctx, "gas cap reached",
				slog.Int("attempt", n),
				slog.String("cap_gwei", limits.MaxGasPriceGwei.String()),
			)
			e.fail(ctx, order, domain.FailureGasCapExceeded, quote.AmountOut)
			return
		}

		req := domain.SwapRequest{
			Wallet:       order.Wallet,
			TokenIn:      intent.TokenIn,
			TokenOut:     intent.TokenOut,
			AmountIn:     intent.Amount,
			MinAmountOut: minOut,
			GasPriceGwei: price,
			GasLimit:     gasLimit,
			BeforeBroadcast: func(txRef string) error {
				return e.recordSigned(ctx, order.ID, domain.Attempt{
					Number:       n,
					GasPriceGwei: price,
					TxRef:        txRef,
					Outcome:      domain.AttemptSigned,
					At:           e.now().UTC(),
				})
			},
		}
		submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		txRef, err := e.venue.Submit(submitCtx, req)
		cancel()

		attempt := domain.Attempt{Number: n, GasPriceGwei: price, TxRef: txRef, At: e.now().UTC()}
		switch {
		case err == nil:
			attempt.Outcome = domain.AttemptSubmitted
			e.appendAttempt(ctx, order.ID, attempt, log)
			log.InfoContext(ctx, "swap submitted",
				slog.Int("attempt", n),
				slog.String("tx", txRef),
				slog.String("gas_gwei", price.String()),
			)
			e.track(ctx, order, txRef, quote.AmountOut, log)
			return

		case ctx.Err() != nil:
			attempt.Outcome = domain.AttemptTimedOut
			attempt.Error = err.Error()
			e.appendAttempt(ctx, order.ID, attempt, log)
			e.fail(ctx, order, e.timeoutOr(ctx, domain.FailureTimeout), quote.AmountOut)
			return

		case isTransient(err):
			attempt.Outcome = domain.AttemptRetryable
			attempt.Error = err.Error()
			e.appendAttempt(ctx, order.ID, attempt, log)
			log.WarnContext(ctx, "transient submit failure, retrying",
				slog.Int("attempt", n),
				slog.String("gas_gwei", price.String()),
				slog.String("error", err.Error()),
			)

		default:
			attempt.Outcome = domain.AttemptFatal
			attempt.Error = err.Error()
			e.appendAttempt(ctx, order.ID, attempt, log)
			log.ErrorContext(ctx, "submit failed", slog.Int("attempt", n), slog.String("error", err.Error()))
			e.fail(ctx, order, domain.FailureUpstreamUnavailable, quote.AmountOut)
			return
		}
	}

	log.WarnContext(ctx, "retries exhausted", slog.Int("attempts", e.cfg.MaxAttempts))
	e.fail(ctx, order, domain.FailureUpstreamUnavailable, quote.AmountOut)
}

// checkSlippage compares the venue quote with the output implied by the
// reference prices. It reports the failure reason when the order must not be
// submitted.
func (e *Engine) checkSlippage(ctx context.Context, intent domain.TradeIntent, quote domain.Quote, log *slog.Logger) (domain.FailureReason, bool) {
	if !quote.AmountOut.IsPositive() {
		log.WarnContext(ctx, "venue quoted zero output")
		return domain.FailureSlippageExceeded, false
	}
	if e.prices == nil {
		return domain.FailureNone, true
	}
	priceIn, err := e.prices.Price(ctx, intent.TokenIn)
	if err != nil {
		log.WarnContext(ctx, "reference price unavailable", slog.String("token", intent.TokenIn), slog.String("error", err.Error()))
		return e.timeoutOr(ctx, domain.FailureUpstreamUnavailable), false
	}
	priceOut, err := e.prices.Price(ctx, intent.TokenOut)
	if err != nil || !priceOut.IsPositive() {
		log.WarnContext(ctx, "reference price unavailable", slog.String("token", intent.TokenOut))
		return e.timeoutOr(ctx, domain.FailureUpstreamUnavailable), false
	}

	expected := intent.Amount.Mul(priceIn).Div(priceOut)
	if !expected.IsPositive() {
		return domain.FailureNone, true
	}
	slippage := expected.Sub(quote.AmountOut).Div(expected).Mul(bpsDenominator)
	if slippage.GreaterThan(decimal.NewFromInt(int64(intent.SlippageBps()))) {
		log.WarnContext(ctx, "slippage exceeded",
			slog.String("expected_out", expected.String()),
			slog.String("quoted_out", quote.AmountOut.String()),
			slog.String("slippage_bps", slippage.StringFixed(1)),
			slog.Int("max_bps", intent.SlippageBps()),
		)
		return domain.FailureSlippageExceeded, false
	}
	return domain.FailureNone, true
}

// simulate finalizes a dry-run order with a single simulated attempt.
func (e *Engine) simulate(ctx context.Context, order domain.Order, quote domain.Quote, gasPrice decimal.Decimal) {
	e.appendAttempt(ctx, order.ID, domain.Attempt{
		Number:       1,
		GasPriceGwei: gasPrice,
		Outcome:      domain.AttemptSimulated,
		At:           e.now().UTC(),
	}, e.logger)
	observability.RecordAttempt(string(domain.AttemptSimulated))
	e.finalizeLogged(ctx, order, domain.OrderStateSubmitting, domain.OrderFinal{
		State:           domain.OrderStateConfirmed,
		QuotedAmountOut: quote.AmountOut,
		AmountOutActual: quote.AmountOut,
		ExecutionPrice:  executionPrice(quote.AmountOut, order.Intent.Amount),
		Simulated:       true,
	})
}

// track polls the venue until the transaction settles or the execution
// deadline passes, then reconciles one final time.
func (e *Engine) track(ctx context.Context, order domain.Order, txRef string, quoted decimal.Decimal, log *slog.Logger) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		status, err := e.venue.Status(ctx, txRef)
		if err == nil && status.State != domain.TxPending {
			e.settle(ctx, order, status, quoted, log)
			return
		}
		if err != nil && ctx.Err() == nil {
			log.DebugContext(ctx, "status poll failed", slog.String("tx", txRef), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			e.reconcileTimeout(ctx, order, txRef, quoted, log)
			return
		case <-ticker.C:
		}
	}
}

// reconcileTimeout checks the transaction once more before finalizing a
// timed-out order, so a silently confirmed trade is never marked failed.
func (e *Engine) reconcileTimeout(ctx context.Context, order domain.Order, txRef string, quoted decimal.Decimal, log *slog.Logger) {
	if e.shuttingDown(ctx) {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
	defer cancel()

	status, err := e.venue.Status(rctx, txRef)
	if err == nil && status.State != domain.TxPending {
		e.settle(rctx, order, status, quoted, log)
		return
	}
	reason := domain.FailureTimeout
	if e.cancelWasRequested(order.ID) {
		reason = domain.FailureCancelled
	}
	log.WarnContext(rctx, "transaction unconfirmed at deadline",
		slog.String("tx", txRef),
		slog.String("reason", string(reason)),
	)
	observability.RecordAttempt(string(domain.AttemptTimedOut))
	e.fail(rctx, order, reason, quoted)
}

// settle finalizes an order whose transaction is no longer pending.
func (e *Engine) settle(ctx context.Context, order domain.Order, status domain.TxStatus, quoted decimal.Decimal, log *slog.Logger) {
	if status.State == domain.TxFailed {
		observability.RecordAttempt(string(domain.AttemptReverted))
		log.WarnContext(ctx, "transaction reverted", slog.Uint64("block", status.Block))
		e.fail(ctx, order, domain.FailureReverted, quoted)
		return
	}

	observability.RecordAttempt(string(domain.AttemptConfirmed))
	out := status.AmountOut
	if !out.IsPositive() {
		out = quoted
	}
	if err := e.finalize(ctx, order, domain.OrderStateSubmitting, domain.OrderFinal{
		State:           domain.OrderStateConfirmed,
		QuotedAmountOut: quoted,
		AmountOutActual: out,
		ExecutionPrice:  executionPrice(out, order.Intent.Amount),
	}); err != nil {
		log.ErrorContext(ctx, "finalize confirmed order failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "swap confirmed",
		slog.Uint64("block", status.Block),
		slog.String("amount_out", out.String()),
	)
	if e.portfolio != nil {
		e.portfolio.RebuildAsync(order.Wallet)
	}
}

// reconcileOnStartup resolves a SUBMITTING order left by a previous process.
func (e *Engine) reconcileOnStartup(ctx context.Context, order domain.Order) {
	log := e.logger.With(slog.String("order_id", order.ID), slog.String("wallet", order.Wallet))
	txRef := order.LastTxRef()
	if txRef == "" {
		// Hashes are recorded before broadcast, so nothing was sent.
		log.WarnContext(ctx, "submitting order has no signed transaction, failing")
		e.fail(ctx, order, domain.FailureUpstreamUnavailable, order.QuotedAmountOut)
		return
	}
	e.tracking.Add(1)
	go func() {
		defer e.tracking.Done()
		tctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
		defer cancel()
		e.track(tctx, order, txRef, order.QuotedAmountOut, log)
	}()
}

func (e *Engine) fail(ctx context.Context, order domain.Order, reason domain.FailureReason, quoted decimal.Decimal) {
	if e.shuttingDown(ctx) {
		return
	}
	e.finalizeLogged(ctx, order, domain.OrderStateSubmitting, domain.OrderFinal{
		State:           domain.OrderStateFailed,
		FailureReason:   reason,
		QuotedAmountOut: quoted,
	})
}

func (e *Engine) finalizeLogged(ctx context.Context, order domain.Order, from domain.OrderState, final domain.OrderFinal) {
	if err := e.finalize(ctx, order, from, final); err != nil && !errors.Is(err, domain.ErrStateConflict) {
		e.logger.ErrorContext(ctx, "finalize order failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// finalize writes the terminal state, then runs the best-effort side effects.
// The write survives an expired execution deadline.
func (e *Engine) finalize(ctx context.Context, order domain.Order, from domain.OrderState, final domain.OrderFinal) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	final.FinalizedAt = e.now().UTC()
	if err := e.orders.Finalize(wctx, order.ID, from, final); err != nil {
		return fmt.Errorf("execution_engine: finalize %s: %w", order.ID, err)
	}

	e.inFlight.Add(-1)
	observability.AddInFlight(-1)
	observability.RecordOrderFinalized(string(final.State), string(final.FailureReason), final.FinalizedAt.Sub(order.CreatedAt).Seconds())

	stored, err := e.orders.Get(wctx, order.ID)
	if err != nil {
		stored = order
		stored.State = final.State
		stored.FailureReason = final.FailureReason
	}
	if final.State == domain.OrderStateFailed {
		e.logger.WarnContext(wctx, "order failed",
			slog.String("order_id", order.ID),
			slog.String("reason", string(final.FailureReason)),
		)
	}
	e.record(wctx, "order_"+string(final.State), stored)
	eventType := domain.EventOrderConfirmed
	if final.State == domain.OrderStateFailed {
		eventType = domain.EventOrderFailed
	}
	e.publish(eventType, stored)
	return nil
}

func (e *Engine) appendAttempt(ctx context.Context, id string, a domain.Attempt, log *slog.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if a.Outcome != domain.AttemptSimulated {
		observability.RecordAttempt(string(a.Outcome))
	}
	if err := e.orders.AppendAttempt(wctx, id, a); err != nil {
		log.ErrorContext(ctx, "append attempt failed", slog.Int("attempt", a.Number), slog.String("error", err.Error()))
	}
}

// recordSigned persists a signed transaction's hash before the venue sends
// it, so recovery can reconcile a broadcast whose outcome was never stored.
func (e *Engine) recordSigned(ctx context.Context, id string, a domain.Attempt) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.orders.AppendAttempt(wctx, id, a); err != nil {
		return fmt.Errorf("execution_engine: record signed tx %s: %w", a.TxRef, err)
	}
	return nil
}

func (e *Engine) acquireWallet(ctx context.Context, wallet string) (func(), error) {
	key := "wallet:" + strings.ToLower(wallet)
	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, err
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// timeoutOr maps a failure to Timeout when the execution deadline is what
// caused it.
func (e *Engine) timeoutOr(ctx context.Context, reason domain.FailureReason) domain.FailureReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	return reason
}

// shuttingDown reports whether ctx ended because the engine is closing
// rather than because the execution deadline passed.
func (e *Engine) shuttingDown(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (e *Engine) requestCancel(id string) {
	e.cancelMu.Lock()
	e.cancelRequested[id] = true
	e.cancelMu.Unlock()
}

func (e *Engine) cancelWasRequested(id string) bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return e.cancelRequested[id]
}

func (e *Engine) clearCancel(id string) {
	e.cancelMu.Lock()
	delete(e.cancelRequested, id)
	e.cancelMu.Unlock()
}

func (e *Engine) record(ctx context.Context, event string, o domain.Order) {
	if e.audit == nil {
		return
	}
	detail := map[string]any{
		"order_id": o.ID,
		"wallet":   o.Wallet,
		"origin":   o.Intent.Origin,
		"state":    string(o.State),
		"attempts": len(o.Attempts),
	}
	if o.FailureReason != "" {
		detail["failure_reason"] = string(o.FailureReason)
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		observability.RecordSideEffectFailure("audit")
		e.logger.WarnContext(ctx, "audit log failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(t domain.EventType, o domain.Order) {
	if e.events == nil {
		return
	}
	oc := o
	e.events.PublishAsync(domain.OrderEvent{
		Type:       t,
		OrderID:    o.ID,
		Wallet:     o.Wallet,
		Origin:     o.Intent.Origin,
		Summary:    summarize(o),
		Order:      &oc,
		OccurredAt: e.now().UTC(),
	})
}

func summarize(o domain.Order) string {
	in := o.Intent
	s := fmt.Sprintf("%s %s %s -> %s [%s]", in.Action, in.Amount, in.TokenIn, in.TokenOut, o.State)
	if o.FailureReason != "" {
		s += " " + string(o.FailureReason)
	}
	if o.State == domain.OrderStateConfirmed && o.AmountOutActual.IsPositive() {
		s += fmt.Sprintf(" out=%s %s", o.AmountOutActual, in.TokenOut)
	}
	if o.Simulated {
		s += " (simulated)"
	}
	return s
}

func executionPrice(out, in decimal.Decimal) decimal.Decimal {
	if !in.IsPositive() {
		return decimal.Zero
	}
	return out.DivRound(in, 18)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
