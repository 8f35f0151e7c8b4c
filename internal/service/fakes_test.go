package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type fakeParser struct {
	draft domain.DraftIntent
	err   error
	delay time.Duration
}

func (p *fakeParser) Parse(ctx context.Context, _ string) (domain.DraftIntent, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return domain.DraftIntent{}, ctx.Err()
		}
	}
	return p.draft, p.err
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	err      error
	calls    int
}

func (b *fakeBalances) Balances(_ context.Context, _ string) (map[string]decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	out := make(map[string]decimal.Decimal, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBalances) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	series map[string][]domain.PricePoint
	calls  int
}

func (p *fakePrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.calls++
	v, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return v, nil
}

func (p *fakePrices) Series(_ context.Context, symbol string, _ time.Duration) ([]domain.PricePoint, error) {
	return p.series[symbol], nil
}

func testTokens() *domain.TokenRegistry {
	return domain.NewTokenRegistry([]domain.Token{
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	}, map[string][]string{"WBTC": {"btc", "bitcoin"}})
}
