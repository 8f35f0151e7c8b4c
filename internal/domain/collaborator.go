package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IntentParser turns free text into a draft intent. Implemented by an LLM.
type IntentParser interface {
	Parse(ctx context.Context, text string) (DraftIntent, error)
}

// PriceSource provides USD prices and recent price history.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Series(ctx context.Context, symbol string, window time.Duration) ([]PricePoint, error)
}

// BalanceSource reads on-chain balances of a wallet, keyed by token symbol.
type BalanceSource interface {
	Balances(ctx context.Context, wallet string) (map[string]decimal.Decimal, error)
}

// Quote is the venue's expected output for a swap.
type Quote struct {
	AmountOut   decimal.Decimal
	GasEstimate uint64
}

// SwapRequest is everything a venue needs to build and sign a swap.
type SwapRequest struct {
	Wallet       string
	TokenIn      string
	TokenOut     string
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	GasPriceGwei decimal.Decimal
	GasLimit     uint64

	// BeforeBroadcast, when set, is called with the signed transaction's
	// hash before it is sent. An error aborts the submission unsent.
	BeforeBroadcast func(txRef string) error
}

// TxState is the on-chain state of a submitted transaction.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// TxStatus is the venue's view of a transaction.
type TxStatus struct {
	State     TxState
	AmountOut decimal.Decimal
	Block     uint64
}

// Venue quotes and executes swaps. Submit and GasPrice wrap retryable
// failures with ErrTransient.
type Venue interface {
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (Quote, error)
	GasPrice(ctx context.Context) (decimal.Decimal, error)
	Submit(ctx context.Context, req SwapRequest) (string, error)
	Status(ctx context.Context, txRef string) (TxStatus, error)
}

// EventSink receives order events. Failures never affect order state.
type EventSink interface {
	Publish(ctx context.Context, event OrderEvent) error
}
