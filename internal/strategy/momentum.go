package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Momentum parameter names and defaults.
const (
	ParamLookback        = "lookback_period"
	ParamMomentumThresh  = "momentum_threshold"
	ParamShortMA         = "short_ma_period"
	ParamLongMA          = "long_ma_period"
	ParamBaseTradeAmount = "base_trade_amount"
	ParamMinTradeAmount  = "min_trade_amount"

	defaultLookback        = 14
	defaultMomentumThresh  = 0.05
	defaultShortMA         = 5
	defaultLongMA          = 20
	defaultBaseTradeAmount = 0.1
	defaultMinTradeAmount  = 0.01
)

// Momentum follows trends. It buys when the rate of change over the lookback
// period is strongly positive and the short moving average sits above the
// long one without a bearish crossover, and sells on the mirror condition.
//
//   - lookback_period (default 14): points between the compared prices
//   - momentum_threshold (default 0.05): minimum |tanh(10*roc)|
//   - short_ma_period / long_ma_period (default 5 / 20)
//   - base_trade_amount (default 0.1), min_trade_amount (default 0.01)
type Momentum struct{}

var _ Evaluator = Momentum{}

// Kind implements Evaluator.
func (Momentum) Kind() domain.StrategyKind { return domain.StrategyMomentum }

// Validate implements Evaluator.
func (Momentum) Validate(s domain.Strategy) error {
	lookback := s.Param(ParamLookback, defaultLookback)
	short := s.Param(ParamShortMA, defaultShortMA)
	long := s.Param(ParamLongMA, defaultLongMA)
	switch {
	case lookback < 2:
		return fmt.Errorf("%s must be >= 2", ParamLookback)
	case short < 1 || long <= short:
		return fmt.Errorf("%s must be >= 1 and below %s", ParamShortMA, ParamLongMA)
	case s.Param(ParamMomentumThresh, defaultMomentumThresh) <= 0:
		return fmt.Errorf("%s must be > 0", ParamMomentumThresh)
	case s.Param(ParamBaseTradeAmount, defaultBaseTradeAmount) <= 0:
		return fmt.Errorf("%s must be > 0", ParamBaseTradeAmount)
	}
	return nil
}

// Evaluate implements Evaluator.
func (Momentum) Evaluate(in EvalInput) (domain.TradeIntent, bool) {
	s := in.Strategy
	lookback := int(s.Param(ParamLookback, defaultLookback))
	threshold := s.Param(ParamMomentumThresh, defaultMomentumThresh)
	shortN := int(s.Param(ParamShortMA, defaultShortMA))
	longN := int(s.Param(ParamLongMA, defaultLongMA))

	prices := closes(in.Series)
	if len(prices) < longN || len(prices) < lookback {
		return domain.TradeIntent{}, false
	}

	score := momentumScore(prices, lookback)
	cross := maCrossover(prices, shortN, longN)
	shortMA, longMA := mean(tail(prices, shortN)), mean(tail(prices, longN))

	var action domain.Action
	switch {
	case score > threshold && cross >= 0 && shortMA > longMA:
		action = domain.ActionBuy
	case score < -threshold && cross <= 0 && shortMA < longMA:
		action = domain.ActionSell
	default:
		return domain.TradeIntent{}, false
	}

	// Trend alignment always holds once a signal fires, so it contributes the
	// fixed 0.3 share.
	confidence := math.Min(math.Abs(score), 1)*0.4 + 0.3
	if cross != 0 {
		confidence += 0.3
	}
	confidence = math.Min(confidence, 1)

	base := s.Param(ParamBaseTradeAmount, defaultBaseTradeAmount)
	amount := base * confidence * math.Min(math.Abs(score)*2, 1)
	amount = math.Max(amount, s.Param(ParamMinTradeAmount, defaultMinTradeAmount))

	reason := fmt.Sprintf("momentum %s: score=%.3f cross=%d confidence=%.3f", action, score, cross, confidence)
	return buildIntent(in, action, amount, confidence, reason)
}

// momentumScore is tanh(10 * rate of change) between the latest price and
// the price lookback points back, in [-1, 1].
func momentumScore(prices []float64, lookback int) float64 {
	current := prices[len(prices)-1]
	past := prices[len(prices)-lookback]
	if past == 0 {
		return 0
	}
	return math.Tanh((current - past) / past * 10)
}

// maCrossover returns 1 when the short average just crossed above the long
// one, -1 when it just crossed below, and 0 otherwise.
func maCrossover(prices []float64, shortN, longN int) int {
	if len(prices) < longN+1 {
		return 0
	}
	prev := prices[:len(prices)-1]
	shortMA, longMA := mean(tail(prices, shortN)), mean(tail(prices, longN))
	prevShort, prevLong := mean(tail(prev, shortN)), mean(tail(prev, longN))

	switch {
	case prevShort <= prevLong && shortMA > longMA:
		return 1
	case prevShort >= prevLong && shortMA < longMA:
		return -1
	}
	return 0
}
