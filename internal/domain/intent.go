package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the user-facing verb of a trade. The swap always spends TokenIn.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionSwap Action = "swap"
)

// ParseAction normalises a free-form action string.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionSwap:
		return ActionSwap, true
	}
	return "", false
}

// AmountKind says how Amount is interpreted.
type AmountKind string

const (
	AmountAbsolute   AmountKind = "absolute"
	AmountPercentage AmountKind = "percentage"
)

// Origin identifies who produced an intent.
const (
	OriginUserPrompt     = "user-prompt"
	OriginDirect         = "direct"
	strategyOriginPrefix = "strategy:"
)

// StrategyOrigin returns the origin tag for intents produced by a strategy.
func StrategyOrigin(strategyID string) string {
	return strategyOriginPrefix + strategyID
}

// StrategyIDFromOrigin extracts the strategy id from an origin tag.
func StrategyIDFromOrigin(origin string) (string, bool) {
	if !strings.HasPrefix(origin, strategyOriginPrefix) {
		return "", false
	}
	return strings.TrimPrefix(origin, strategyOriginPrefix), true
}

var hundred = decimal.NewFromInt(100)

// TradeIntent is the normalized, not-yet-executed description of a trade.
// Treat it as a value: the With* helpers return modified copies.
type TradeIntent struct {
	Action         Action          `json:"action"`
	Wallet         string          `json:"wallet"`
	TokenIn        string          `json:"token_in"`
	TokenOut       string          `json:"token_out"`
	Amount         decimal.Decimal `json:"amount"`
	AmountKind     AmountKind      `json:"amount_kind"`
	MaxSlippageBps *int            `json:"max_slippage_bps,omitempty"`
	Confidence     float64         `json:"confidence"`
	Origin         string          `json:"origin"`
	Reasoning      string          `json:"reasoning,omitempty"`
	Requested      *RequestTerms   `json:"requested,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RequestTerms are the amount and slippage as the caller stated them, before
// percentage conversion and risk defaults. Order identity is derived from
// these so a retried request keeps its id when balances move.
type RequestTerms struct {
	Amount         decimal.Decimal `json:"amount"`
	AmountKind     AmountKind      `json:"amount_kind"`
	MaxSlippageBps *int            `json:"max_slippage_bps,omitempty"`
}

// Validate checks the structural invariants of the intent.
func (t TradeIntent) Validate() error {
	if _, ok := ParseAction(string(t.Action)); !ok {
		return fmt.Errorf("unsupported action %q", t.Action)
	}
	if t.TokenIn == "" || t.TokenOut == "" {
		return fmt.Errorf("token_in and token_out are required")
	}
	if strings.EqualFold(t.TokenIn, t.TokenOut) {
		return fmt.Errorf("token_in and token_out must differ (%s)", t.TokenIn)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", t.Amount)
	}
	switch t.AmountKind {
	case AmountAbsolute:
	case AmountPercentage:
		if t.Amount.GreaterThan(hundred) {
			return fmt.Errorf("percentage amount must be <= 100, got %s", t.Amount)
		}
	default:
		return fmt.Errorf("unsupported amount kind %q", t.AmountKind)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0, 1], got %v", t.Confidence)
	}
	return nil
}

// WithAmount returns a copy holding an absolute amount.
func (t TradeIntent) WithAmount(amount decimal.Decimal) TradeIntent {
	t.Amount = amount
	t.AmountKind = AmountAbsolute
	return t
}

// WithSlippage returns a copy with an explicit slippage limit.
func (t TradeIntent) WithSlippage(bps int) TradeIntent {
	v := bps
	t.MaxSlippageBps = &v
	return t
}

// SlippageBps returns the slippage limit, or 0 when unset.
func (t TradeIntent) SlippageBps() int {
	if t.MaxSlippageBps == nil {
		return 0
	}
	return *t.MaxSlippageBps
}

// DraftIntent is the structured output of the LLM parser, before token and
// amount resolution.
type DraftIntent struct {
	Action     string          `json:"action"`
	TokenIn    string          `json:"token_in"`
	TokenOut   string          `json:"token_out"`
	Amount     decimal.Decimal `json:"amount"`
	AmountKind string          `json:"amount_type"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}
