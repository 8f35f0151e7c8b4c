package domain

import "github.com/shopspring/decimal"

// RiskLimits are the process-wide trading bounds. Values are replaced as a
// whole, never mutated in place.
type RiskLimits struct {
	MinTradeAmount     decimal.Decimal `json:"min_trade_amount"`
	MaxTradeAmount     decimal.Decimal `json:"max_trade_amount"`
	MaxGasPriceGwei    decimal.Decimal `json:"max_gas_price_gwei"`
	DefaultSlippageBps int             `json:"default_slippage_bps"`
	MaxSlippageBps     int             `json:"max_slippage_bps"`
}
