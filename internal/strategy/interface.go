package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// EvalInput is everything an evaluator may look at. Evaluators keep no state
// between calls, so the same input always yields the same output.
type EvalInput struct {
	Strategy domain.Strategy
	// Series is the recent USD price history of Strategy.Token.
	Series []domain.PricePoint
	// Position is the wallet's balance of Strategy.Token.
	Position decimal.Decimal
	// QuoteBalance is the wallet's balance of Strategy.QuoteToken.
	QuoteBalance decimal.Decimal
	Now          time.Time
}

// Evaluator is one strategy variant, selected by Strategy.Kind.
type Evaluator interface {
	Kind() domain.StrategyKind
	// Validate checks the strategy's parameters.
	Validate(s domain.Strategy) error
	// Evaluate returns an intent with an absolute amount, or false for no trade.
	Evaluate(in EvalInput) (domain.TradeIntent, bool)
}

// buildIntent assembles the intent common to every variant. Amounts are in
// token_in units: the quote token for buys, the strategy token for sells. A
// sell is capped at the position and a buy at the quote balance.
func buildIntent(in EvalInput, action domain.Action, amount float64, confidence float64, reasoning string) (domain.TradeIntent, bool) {
	s := in.Strategy
	amt := decimal.NewFromFloat(amount).Round(8)

	tokenIn, tokenOut := s.QuoteToken, s.Token
	available := in.QuoteBalance
	if action == domain.ActionSell {
		tokenIn, tokenOut = s.Token, s.QuoteToken
		available = in.Position
	}
	if amt.GreaterThan(available) {
		amt = available
	}
	if !amt.IsPositive() {
		return domain.TradeIntent{}, false
	}

	return domain.TradeIntent{
		Action:     action,
		Wallet:     s.Wallet,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		Amount:     amt,
		AmountKind: domain.AmountAbsolute,
		Confidence: confidence,
		Origin:     domain.StrategyOrigin(s.ID),
		Reasoning:  reasoning,
		CreatedAt:  in.Now.UTC(),
	}, true
}
