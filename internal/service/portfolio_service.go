package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// PriceLookup is the subset of the price service used for valuation.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PortfolioService owns wallet snapshots. Snapshots are always rebuilt from
// the balance source, never patched.
type PortfolioService struct {
	balances       domain.BalanceSource
	prices         PriceLookup
	snapshots      domain.SnapshotStore
	maxAge         time.Duration
	rebuildTimeout time.Duration
	flight         singleflight.Group
	walletMu       sync.Map // lowercase wallet -> *sync.Mutex
	now            func() time.Time
	logger         *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(
	balances domain.BalanceSource,
	prices PriceLookup,
	snapshots domain.SnapshotStore,
	maxAge, rebuildTimeout time.Duration,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		balances:       balances,
		prices:         prices,
		snapshots:      snapshots,
		maxAge:         maxAge,
		rebuildTimeout: rebuildTimeout,
		now:            time.Now,
		logger:         logger.With(slog.String("component", "portfolio_service")),
	}
}

// MaxAge is the staleness window for snapshot reads.
func (s *PortfolioService) MaxAge() time.Duration { return s.maxAge }

// Snapshot returns the stored snapshot. A wallet with no snapshot yields an
// empty one with a zero AsOf, which is always stale.
func (s *PortfolioService) Snapshot(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	snap, err := s.snapshots.Latest(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PortfolioSnapshot{Wallet: wallet, Holdings: map[string]domain.Holding{}}, nil
	}
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio_service: latest %s: %w", wallet, err)
	}
	return snap, nil
}

// Fresh returns a snapshot no older than MaxAge, refreshing once if needed.
func (s *PortfolioService) Fresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	snap, err := s.Snapshot(ctx, wallet)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	if !snap.IsStale(s.now(), s.maxAge) {
		return snap, nil
	}
	return s.Refresh(ctx, wallet)
}

// Refresh rebuilds the wallet snapshot from on-chain balances and current
// prices and persists it. Concurrent refreshes of one wallet share a call.
func (s *PortfolioService) Refresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	v, err, _ := s.flight.Do(walletKey(wallet), func() (any, error) {
		return s.rebuild(ctx, wallet)
	})
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	return v.(domain.PortfolioSnapshot), nil
}

// RebuildAsync refreshes the snapshot in the background. It never joins a
// refresh already in flight; it waits for that one to save and then reads
// balances again. The returned channel receives the outcome and is then
// closed. Callers may ignore it.
func (s *PortfolioService) RebuildAsync(wallet string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), s.rebuildTimeout)
		defer cancel()
		_, err := s.rebuild(ctx, wallet)
		if err != nil {
			observability.RecordSideEffectFailure("portfolio_rebuild")
			s.logger.WarnContext(ctx, "portfolio rebuild failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
		done <- err
	}()
	return done
}

func walletKey(wallet string) string { return strings.ToLower(wallet) }

// lockWallet serialises rebuilds of one wallet so that saves land in the
// order their balance reads were taken.
func (s *PortfolioService) lockWallet(wallet string) func() {
	v, _ := s.walletMu.LoadOrStore(walletKey(wallet), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *PortfolioService) rebuild(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	unlock := s.lockWallet(wallet)
	defer unlock()

	balances, err := s.balances.Balances(ctx, wallet)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio_service: balances %s: %w", wallet, err)
	}

	symbols := make([]string, 0, len(balances))
	for sym, bal := range balances {
		if bal.IsPositive() {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	snap := domain.PortfolioSnapshot{
		Wallet:        wallet,
		Holdings:      make(map[string]domain.Holding, len(symbols)),
		TotalValueUSD: decimal.Zero,
		AsOf:          s.now().UTC(),
	}
	for _, sym := range symbols {
		bal := balances[sym]
		h := domain.Holding{Balance: bal, PriceUSD: decimal.Zero, ValueUSD: decimal.Zero}
		price, err := s.prices.Price(ctx, sym)
		if err != nil {
			s.logger.WarnContext(ctx, "price unavailable, holding valued at zero",
				slog.String("wallet", wallet),
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		} else {
			h.PriceUSD = price
			h.ValueUSD = bal.Mul(price)
			snap.TotalValueUSD = snap.TotalValueUSD.Add(h.ValueUSD)
		}
		snap.Holdings[sym] = h
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio_service: save %s: %w", wallet, err)
	}
	s.logger.DebugContext(ctx, "portfolio rebuilt",
		slog.String("wallet", wallet),
		slog.Int("holdings", len(snap.Holdings)),
		slog.String("total_usd", snap.TotalValueUSD.StringFixed(2)),
	)
	return snap, nil
}
