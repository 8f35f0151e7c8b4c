package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapbot/internal/cache/redis"
	"github.com/alanyoungcy/swapbot/internal/config"
	"github.com/alanyoungcy/swapbot/internal/crypto"
	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/executor"
	"github.com/alanyoungcy/swapbot/internal/observability"
	"github.com/alanyoungcy/swapbot/internal/server"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/server/ws"
	"github.com/alanyoungcy/swapbot/internal/service"
	"github.com/alanyoungcy/swapbot/internal/strategy"
)

const (
	// eventTimeout bounds one asynchronous event publication.
	eventTimeout = 10 * time.Second
	// shutdownTimeout bounds the HTTP drain and the in-flight order wait.
	shutdownTimeout = 30 * time.Second
)

// runtime holds the services built on top of Dependencies for one run.
type runtime struct {
	controls  *service.Controls
	risk      *service.RiskService
	prices    *service.PriceService
	portfolio *service.PortfolioService
	resolver  *service.ResolverService
	engine    *executor.Engine
	executor  *executor.Executor
	manager   *strategy.Manager
	signals   chan domain.StrategySignal
	auth      *crypto.SessionAuth
	hub       *ws.Hub
}

// build constructs the service layer. The websocket hub is only created when
// the HTTP API is served.
func (a *App) build(deps *Dependencies, withAPI bool) *runtime {
	cfg := a.cfg
	rt := &runtime{
		controls: service.NewControls(cfg.Risk.Limits(), cfg.Risk.EmergencyStop),
		auth:     crypto.NewSessionAuth(cfg.Server.AuthSecret),
		signals:  make(chan domain.StrategySignal, cfg.Execution.QueueSize),
	}
	observability.SetHalted(rt.controls.Halted())

	sinks := append([]domain.EventSink{}, deps.Sinks...)
	if withAPI {
		// With a shared bus the hub consumes the event channel written by
		// every replica; otherwise it is fed directly.
		hubCfg := ws.Config{AllowedOrigins: cfg.Server.CORSOrigins}
		if deps.SignalBus != nil {
			hubCfg.Channel = redis.OrderEventChannel
		}
		rt.hub = ws.NewHub(deps.SignalBus, rt.auth, hubCfg, a.logger)
		if deps.SignalBus == nil {
			sinks = append(sinks, rt.hub)
		}
	}
	events := service.NewEventFanout(eventTimeout, a.logger, sinks...)

	rt.risk = service.NewRiskService(rt.controls, deps.AuditStore, events, a.logger)
	rt.prices = service.NewPriceService(deps.Market, deps.PriceCache, deps.SignalBus,
		cfg.Market.CacheTTL.Duration, a.logger)
	rt.portfolio = service.NewPortfolioService(deps.Balances, rt.prices, deps.SnapshotStore,
		cfg.Portfolio.StaleAfter.Duration, cfg.Portfolio.RebuildTimeout.Duration, a.logger)
	rt.resolver = service.NewResolverService(deps.Parser, deps.Tokens, rt.portfolio, service.ResolverConfig{
		MinConfidence: cfg.LLM.MinConfidence,
		LLMTimeout:    cfg.LLM.Timeout.Duration,
	}, a.logger)

	opts := []executor.EngineOption{
		executor.WithPriceReference(rt.prices),
		executor.WithPortfolio(rt.portfolio),
		executor.WithEvents(events),
		executor.WithAudit(deps.AuditStore),
	}
	if deps.LockManager != nil {
		opts = append(opts, executor.WithWalletLock(deps.LockManager))
	}
	rt.engine = executor.NewEngine(deps.OrderStore, deps.Venue, rt.controls, executor.EngineConfig{
		DryRun:       cfg.Execution.DryRun,
		MaxAttempts:  cfg.Execution.MaxAttempts,
		GasStepPct:   decimal.NewFromFloat(cfg.Execution.GasStepPct),
		Timeout:      cfg.Execution.Timeout.Duration,
		PollInterval: cfg.Execution.PollInterval.Duration,
		GasLimit:     cfg.Chain.GasLimit,
	}, a.logger, opts...)

	rt.executor = executor.NewExecutor(rt.signals, rt.resolver, rt.risk, rt.engine,
		cfg.Strategy.Cooldown.Duration, a.logger)
	rt.manager = strategy.NewManager(deps.StrategyStore, deps.OrderStore,
		strategy.DefaultRegistry(), deps.Tokens, a.logger)
	return rt
}

// run starts the goroutines for the selected mode and blocks until ctx is
// cancelled or one of them fails.
func (a *App) run(ctx context.Context, deps *Dependencies, withAPI, withStrategies bool) error {
	if !withAPI && !withStrategies {
		return errors.New("app: nothing to run (server and strategies both disabled)")
	}
	rt := a.build(deps, withAPI)

	if err := rt.engine.Recover(ctx); err != nil {
		return fmt.Errorf("app: recover orders: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if withStrategies {
		if err := a.seedStrategies(ctx, rt.manager); err != nil {
			return err
		}
		stratEngine := strategy.NewEngine(deps.StrategyStore, strategy.DefaultRegistry(),
			rt.prices, rt.portfolio, rt.signals, strategy.EngineConfig{
				Interval:       a.cfg.Strategy.Interval.Duration,
				SeriesWindow:   a.cfg.Strategy.SeriesWindow.Duration,
				MaxConcurrency: a.cfg.Strategy.MaxConcurrency,
			}, a.logger)

		g.Go(func() error { return stratEngine.Run(gctx) })
		g.Go(func() error { return rt.executor.Run(gctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx, a.cfg.Archive.Interval.Duration) })
	}

	var srv *server.Server
	if withAPI {
		srv = a.newServer(deps, rt)
		g.Go(func() error { return rt.hub.Run(gctx) })
		g.Go(func() error {
			a.logger.InfoContext(gctx, "http server starting", slog.Int("port", a.cfg.Server.Port))
			return srv.Start()
		})
	}

	// Shutdown: drain HTTP first, then let in-flight orders settle.
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(shutCtx); err != nil {
				a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
			}
		}
		if err := rt.engine.Close(shutCtx); err != nil {
			a.logger.Warn("execution engine did not drain",
				slog.Int("in_flight", rt.engine.InFlight()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	a.logger.InfoContext(ctx, "application running",
		slog.Bool("api", withAPI),
		slog.Bool("strategies", withStrategies),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return g.Wait()
}

// newServer assembles the HTTP API over the runtime services.
func (a *App) newServer(deps *Dependencies, rt *runtime) *server.Server {
	status := func(ctx context.Context) domain.BotStatus {
		st := domain.BotStatus{
			Mode:           a.cfg.Mode,
			TradingHalted:  rt.controls.Halted(),
			DryRun:         rt.engine.DryRun(),
			UptimeSeconds:  int64(time.Since(a.startedAt).Seconds()),
			InFlightOrders: rt.engine.InFlight(),
		}
		if list, err := rt.manager.List(ctx); err == nil {
			for _, s := range list {
				if s.Status == domain.StrategyActive {
					st.ActiveStrategies++
				}
			}
		}
		return st
	}

	cfg := a.cfg.Server
	return server.NewServer(server.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		AdminToken:  cfg.AdminToken,
		RateLimit:   cfg.RateLimit,
		RateWindow:  cfg.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, status, a.logger),
		Trades:     handler.NewTradeHandler(rt.resolver, rt.executor, a.logger),
		Orders:     handler.NewOrderHandler(rt.engine, deps.OrderStore, a.logger),
		Portfolio:  handler.NewPortfolioHandler(rt.portfolio, a.logger),
		Strategies: handler.NewStrategyHandler(rt.manager, a.logger),
		Admin:      handler.NewAdminHandler(rt.risk, deps.AuditStore, a.logger),
		Metrics:    observability.Handler(),
	}, rt.auth, deps.RateLimiter, rt.hub, a.logger)
}

// seedStrategies loads the configured seed file, if any, into the store.
func (a *App) seedStrategies(ctx context.Context, manager *strategy.Manager) error {
	if a.cfg.Strategy.SeedFile == "" {
		return nil
	}
	seeds, err := config.LoadStrategySeeds(a.cfg.Strategy.SeedFile)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := manager.Seed(ctx, seeds); err != nil {
		return fmt.Errorf("app: seed strategies: %w", err)
	}
	a.logger.InfoContext(ctx, "strategies seeded", slog.Int("count", len(seeds)))
	return nil
}
