package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind selects the evaluator variant.
type StrategyKind string

const (
	StrategyMomentum      StrategyKind = "momentum"
	StrategyMeanReversion StrategyKind = "mean_reversion"
)

// StrategyStatus is active or paused.
type StrategyStatus string

const (
	StrategyActive StrategyStatus = "active"
	StrategyPaused StrategyStatus = "paused"
)

// Strategy is a named, configured trading policy for one wallet and pair.
type Strategy struct {
	ID         string             `json:"strategy_id" yaml:"id"`
	Name       string             `json:"name" yaml:"name"`
	Kind       StrategyKind       `json:"kind" yaml:"kind"`
	Wallet     string             `json:"wallet" yaml:"wallet"`
	Token      string             `json:"token" yaml:"token"`
	QuoteToken string             `json:"quote_token" yaml:"quote_token"`
	Params     map[string]float64 `json:"params" yaml:"params"`
	Status     StrategyStatus     `json:"status" yaml:"status"`
	CreatedAt  time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time          `json:"updated_at" yaml:"-"`
}

// Param returns a numeric parameter or def when it is not configured.
func (s Strategy) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// PricePoint is one sample of a market series.
type PricePoint struct {
	At    time.Time       `json:"at"`
	Price decimal.Decimal `json:"price"`
}

// Performance is derived from the order log on every read.
type Performance struct {
	StrategyID      string          `json:"strategy_id"`
	TotalOrders     int             `json:"total_orders"`
	ConfirmedOrders int             `json:"confirmed_orders"`
	FailedOrders    int             `json:"failed_orders"`
	ClosedTrades    int             `json:"closed_trades"`
	WinRate         float64         `json:"win_rate"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
}
