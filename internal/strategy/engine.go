package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// SnapshotProvider returns a reasonably fresh wallet snapshot.
type SnapshotProvider interface {
	Fresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error)
}

// EngineConfig tunes the strategy engine.
type EngineConfig struct {
	Interval       time.Duration
	SeriesWindow   time.Duration
	MaxConcurrency int
}

// Engine runs the scheduled evaluation cycle. Each tick evaluates every
// active strategy and forwards the resulting intents, ordered by strategy id,
// to the signal channel consumed by the executor.
type Engine struct {
	strategies domain.StrategyStore
	registry   *Registry
	prices     domain.PriceSource
	portfolio  SnapshotProvider
	signalCh   chan<- domain.StrategySignal
	cfg        EngineConfig
	logger     *slog.Logger

	mu            sync.Mutex
	lastTick      time.Time
	recentSignals []domain.StrategySignal
	recentLimit   int
}

// NewEngine creates an Engine.
func NewEngine(
	strategies domain.StrategyStore,
	registry *Registry,
	prices domain.PriceSource,
	portfolio SnapshotProvider,
	signalCh chan<- domain.StrategySignal,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SeriesWindow <= 0 {
		cfg.SeriesWindow = 24 * time.Hour
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Engine{
		strategies:  strategies,
		registry:    registry,
		prices:      prices,
		portfolio:   portfolio,
		signalCh:    signalCh,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 200,
	}
}

// Tick evaluates every active strategy once. Paused strategies are skipped.
// A strategy whose inputs cannot be loaded is logged and skipped; it never
// fails the tick for the others. The result is ordered by strategy id.
func (e *Engine) Tick(ctx context.Context, now time.Time) ([]domain.StrategySignal, error) {
	start := time.Now()
	all, err := e.strategies.List(ctx)
	if err != nil {
		observability.RecordTick("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("strategy_engine: list strategies: %w", err)
	}

	active := make([]domain.Strategy, 0, len(all))
	for _, s := range all {
		if s.Status == domain.StrategyActive {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	results := make([]*domain.StrategySignal, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, s := range active {
		g.Go(func() error {
			sig, ok, err := e.evaluate(gctx, s, now)
			if err != nil {
				e.logger.WarnContext(gctx, "strategy evaluation skipped",
					slog.String("strategy_id", s.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if ok {
				results[i] = &sig
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.StrategySignal, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
			observability.RecordStrategyIntent(r.StrategyID)
		}
	}

	e.mu.Lock()
	e.lastTick = now
	e.mu.Unlock()
	observability.RecordTick("ok", time.Since(start).Seconds())
	e.logger.DebugContext(ctx, "tick complete",
		slog.Int("active", len(active)),
		slog.Int("signals", len(out)),
	)
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, s domain.Strategy, now time.Time) (domain.StrategySignal, bool, error) {
	ev, err := e.registry.Get(s.Kind)
	if err != nil {
		return domain.StrategySignal{}, false, err
	}
	series, err := e.prices.Series(ctx, s.Token, e.cfg.SeriesWindow)
	if err != nil {
		return domain.StrategySignal{}, false, fmt.Errorf("series %s: %w", s.Token, err)
	}
	snap, err := e.portfolio.Fresh(ctx, s.Wallet)
	if err != nil {
		return domain.StrategySignal{}, false, fmt.Errorf("snapshot %s: %w", s.Wallet, err)
	}

	intent, ok := ev.Evaluate(EvalInput{
		Strategy:     s,
		Series:       series,
		Position:     snap.Balance(s.Token),
		QuoteBalance: snap.Balance(s.QuoteToken),
		Now:          now,
	})
	if !ok {
		return domain.StrategySignal{}, false, nil
	}
	return domain.StrategySignal{StrategyID: s.ID, Intent: intent, TickAt: now}, true, nil
}

// Run ticks on the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started", slog.Duration("interval", e.cfg.Interval))
	defer e.logger.Info("strategy engine stopped")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			signals, err := e.Tick(ctx, t.UTC().Truncate(time.Second))
			if err != nil {
				e.logger.Error("tick failed", slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, signals)
		}
	}
}

// emit sends each signal to the signal channel. It respects context cancellation.
func (e *Engine) emit(ctx context.Context, signals []domain.StrategySignal) {
	for i := range signals {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting signals",
				slog.Int("remaining", len(signals)-i),
			)
			return
		case e.signalCh <- signals[i]:
			e.rememberSignal(signals[i])
			e.logger.Info("strategy signal emitted",
				slog.String("strategy_id", signals[i].StrategyID),
				slog.String("action", string(signals[i].Intent.Action)),
				slog.String("amount", signals[i].Intent.Amount.String()),
			)
		}
	}
}

// RecentSignals returns up to limit emitted signals, newest first.
func (e *Engine) RecentSignals(limit int) []domain.StrategySignal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.StrategySignal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

// LastTick returns the time of the most recent completed tick.
func (e *Engine) LastTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTick
}

func (e *Engine) rememberSignal(sig domain.StrategySignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.StrategySignal(nil), e.recentSignals[overflow:]...)
	}
}
