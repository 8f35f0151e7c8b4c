package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState tracks the order lifecycle.
type OrderState string

const (
	OrderStatePending    OrderState = "pending"
	OrderStateSubmitting OrderState = "submitting"
	OrderStateConfirmed  OrderState = "confirmed"
	OrderStateFailed     OrderState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == OrderStateConfirmed || s == OrderStateFailed
}

// FailureReason is recorded on FAILED orders.
type FailureReason string

const (
	FailureNone                FailureReason = ""
	FailureSlippageExceeded    FailureReason = "slippage_exceeded"
	FailureGasCapExceeded      FailureReason = "gas_cap_exceeded"
	FailureUpstreamUnavailable FailureReason = "upstream_unavailable"
	FailureTimeout             FailureReason = "timeout"
	FailureCancelled           FailureReason = "cancelled"
	FailureReverted            FailureReason = "reverted"
	FailureTradingHalted       FailureReason = "trading_halted"
)

// AttemptOutcome is the result of a single submission attempt.
type AttemptOutcome string

const (
	AttemptSigned    AttemptOutcome = "signed"
	AttemptSubmitted AttemptOutcome = "submitted"
	AttemptConfirmed AttemptOutcome = "confirmed"
	AttemptReverted  AttemptOutcome = "reverted"
	AttemptRetryable AttemptOutcome = "retryable_error"
	AttemptFatal     AttemptOutcome = "fatal_error"
	AttemptTimedOut  AttemptOutcome = "timed_out"
	AttemptSimulated AttemptOutcome = "simulated"
)

// Attempt is one submission of the swap transaction.
type Attempt struct {
	Number       int             `json:"number"`
	GasPriceGwei decimal.Decimal `json:"gas_price_gwei"`
	TxRef        string          `json:"tx_ref,omitempty"`
	Outcome      AttemptOutcome  `json:"outcome"`
	Error        string          `json:"error,omitempty"`
	At           time.Time       `json:"at"`
}

// Order is the execution record of an accepted TradeIntent.
type Order struct {
	ID              string          `json:"order_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Wallet          string          `json:"wallet"`
	Intent          TradeIntent     `json:"intent"`
	State           OrderState      `json:"state"`
	FailureReason   FailureReason   `json:"failure_reason,omitempty"`
	Attempts        []Attempt       `json:"attempts"`
	QuotedAmountOut decimal.Decimal `json:"quoted_amount_out"`
	AmountOutActual decimal.Decimal `json:"amount_out_actual"`
	ExecutionPrice  decimal.Decimal `json:"execution_price"`
	DryRun          bool            `json:"dry_run"`
	Simulated       bool            `json:"simulated"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinalizedAt     *time.Time      `json:"finalized_at,omitempty"`
}

// LastTxRef returns the transaction reference of the latest attempt that
// reached the venue.
func (o Order) LastTxRef() string {
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].TxRef != "" {
			return o.Attempts[i].TxRef
		}
	}
	return ""
}

// OrderFinal carries the fields written when an order reaches a terminal state.
type OrderFinal struct {
	State           OrderState
	FailureReason   FailureReason
	QuotedAmountOut decimal.Decimal
	AmountOutActual decimal.Decimal
	ExecutionPrice  decimal.Decimal
	Simulated       bool
	FinalizedAt     time.Time
}
