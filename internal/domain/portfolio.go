package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a single token balance inside a snapshot.
type Holding struct {
	Balance  decimal.Decimal `json:"balance"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// PortfolioSnapshot is a point-in-time view of a wallet.
type PortfolioSnapshot struct {
	Wallet        string             `json:"wallet"`
	Holdings      map[string]Holding `json:"holdings"`
	TotalValueUSD decimal.Decimal    `json:"total_value_usd"`
	AsOf          time.Time          `json:"as_of"`
}

// Balance returns the balance of symbol, zero when absent.
func (p PortfolioSnapshot) Balance(symbol string) decimal.Decimal {
	if h, ok := p.Holdings[symbol]; ok {
		return h.Balance
	}
	return decimal.Zero
}

// IsStale reports whether the snapshot is older than maxAge at now.
func (p PortfolioSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return p.AsOf.IsZero() || now.Sub(p.AsOf) > maxAge
}
