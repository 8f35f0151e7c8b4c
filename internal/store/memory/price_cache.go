package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type pricePoint struct {
	price decimal.Decimal
	ts    time.Time
}

// PriceCache is a process-local domain.PriceCache used when redis is off.
type PriceCache struct {
	mu   sync.RWMutex
	data map[string]pricePoint
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{data: make(map[string]pricePoint)}
}

// SetPrice stores the latest price of symbol.
func (c *PriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[strings.ToUpper(symbol)] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice returns the cached price and when it was stored.
func (c *PriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

// GetPrices returns the cached prices of symbols. Missing symbols are omitted.
func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := c.data[strings.ToUpper(s)]; ok {
			out[s] = p.price
		}
	}
	return out, nil
}
