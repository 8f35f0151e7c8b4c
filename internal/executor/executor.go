package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// RiskChecker is the risk gate. It returns the accepted intent with its
// effective slippage, or a *domain.RejectError.
type RiskChecker interface {
	Check(ctx context.Context, intent domain.TradeIntent) (domain.TradeIntent, error)
}

// StrategyResolver canonicalises strategy-produced intents.
type StrategyResolver interface {
	ResolveStrategy(ctx context.Context, intent domain.TradeIntent) (domain.TradeIntent, error)
}

// Submitter creates and queues orders.
type Submitter interface {
	Submit(ctx context.Context, intent domain.TradeIntent, idempotencyKey string) (domain.Order, error)
}

// Executor is the single entry point from an intent to an order. User
// requests call Execute directly; strategy signals arrive on a channel and
// are processed one at a time in arrival order.
type Executor struct {
	signalCh <-chan domain.StrategySignal
	resolver StrategyResolver
	risk     RiskChecker
	engine   Submitter
	cooldown *Dedup
	logger   *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor. cooldown is the minimum time between two
// orders of one strategy on the same pair and direction.
func NewExecutor(
	signalCh <-chan domain.StrategySignal,
	resolver StrategyResolver,
	risk RiskChecker,
	engine Submitter,
	cooldown time.Duration,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		signalCh:        signalCh,
		resolver:        resolver,
		risk:            risk,
		engine:          engine,
		cooldown:        NewDedup(cooldown),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Minute,
	}
}

// Execute runs intent through the risk gate and submits it. Risk rejections
// are returned unchanged and never retried.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent, idempotencyKey string) (domain.Order, error) {
	accepted, err := e.risk.Check(ctx, intent)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := e.engine.Submit(ctx, accepted, idempotencyKey)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: submit: %w", err)
	}
	return order, nil
}

// Run consumes strategy signals until ctx is cancelled or the channel closes.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.cooldown.Cleanup()
		}
	}
}

// process handles one strategy signal. The risk gate runs here, at dequeue
// time, so an emergency stop set while the signal was queued still applies.
func (e *Executor) process(ctx context.Context, sig domain.StrategySignal) {
	in := sig.Intent
	log := e.logger.With(
		slog.String("strategy_id", sig.StrategyID),
		slog.String("action", string(in.Action)),
		slog.String("pair", in.TokenIn+"/"+in.TokenOut),
	)

	key := cooldownKey(sig)
	if e.cooldown.Seen(key) {
		log.Debug("strategy in cooldown, skipping")
		return
	}

	intent, err := e.resolver.ResolveStrategy(ctx, in)
	if err != nil {
		log.Warn("strategy intent unresolvable", slog.String("error", err.Error()))
		return
	}

	order, err := e.Execute(ctx, intent, sig.IdempotencyKey())
	if err != nil {
		if _, ok := domain.AsRejectError(err); ok {
			log.Info("strategy intent rejected", slog.String("error", err.Error()))
			return
		}
		log.Error("strategy order failed", slog.String("error", err.Error()))
		return
	}

	e.cooldown.Mark(key)
	log.Info("strategy order queued",
		slog.String("order_id", order.ID),
		slog.String("amount", intent.Amount.String()),
	)
}

// drain processes signals already buffered when ctx is cancelled so they are
// not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown", slog.String("strategy_id", sig.StrategyID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}

func cooldownKey(sig domain.StrategySignal) string {
	in := sig.Intent
	return sig.StrategyID + "|" + string(in.Action) + "|" + in.TokenIn + "|" + in.TokenOut
}
