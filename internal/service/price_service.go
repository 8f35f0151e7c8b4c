package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// PriceService fronts the market data provider with the price cache. Cached
// prices younger than ttl are served without an upstream call, and fresh
// upstream prices are written back and announced on the signal bus.
type PriceService struct {
	upstream domain.PriceSource
	cache    domain.PriceCache
	bus      domain.SignalBus
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ domain.PriceSource = (*PriceService)(nil)

// NewPriceService creates a PriceService. bus may be nil.
func NewPriceService(
	upstream domain.PriceSource,
	cache domain.PriceCache,
	bus domain.SignalBus,
	ttl time.Duration,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		upstream: upstream,
		cache:    cache,
		bus:      bus,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// Price returns the USD price of symbol.
func (s *PriceService) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ts, err := s.cache.GetPrice(ctx, symbol); err == nil && s.now().Sub(ts) < s.ttl {
		return price, nil
	}

	price, err := s.upstream.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price_service: price %s: %w", symbol, err)
	}

	ts := s.now().UTC()
	if err := s.cache.SetPrice(ctx, symbol, price, ts); err != nil {
		s.logger.WarnContext(ctx, "cache price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	s.announce(ctx, symbol, price, ts)
	return price, nil
}

// Prices returns USD prices for every symbol. A symbol whose price cannot be
// fetched fails the whole call.
func (s *PriceService) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		p, err := s.Price(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = p
	}
	return out, nil
}

// Series returns the recent price history of symbol. History is not cached.
func (s *PriceService) Series(ctx context.Context, symbol string, window time.Duration) ([]domain.PricePoint, error) {
	pts, err := s.upstream.Series(ctx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("price_service: series %s: %w", symbol, err)
	}
	return pts, nil
}

func (s *PriceService) announce(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":     "price_update",
		"symbol":    symbol,
		"price":     price.String(),
		"timestamp": ts.Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, "prices", evt); err != nil {
		s.logger.WarnContext(ctx, "publish price update failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
