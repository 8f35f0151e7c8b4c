package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Mean reversion parameter names and defaults.
const (
	ParamWindow          = "window"
	ParamStdDevThreshold = "std_dev_threshold"

	defaultWindow          = 20
	defaultStdDevThreshold = 2.0
)

// MeanReversion buys when the latest price is far below the trailing mean and
// sells when it is far above. "Far" is measured in multiples of the trailing
// standard deviation.
//
//   - window (default 20): number of trailing points
//   - std_dev_threshold (default 2.0)
//   - base_trade_amount (default 0.1), min_trade_amount (default 0.01)
type MeanReversion struct{}

var _ Evaluator = MeanReversion{}

// Kind implements Evaluator.
func (MeanReversion) Kind() domain.StrategyKind { return domain.StrategyMeanReversion }

// Validate implements Evaluator.
func (MeanReversion) Validate(s domain.Strategy) error {
	switch {
	case s.Param(ParamWindow, defaultWindow) < 3:
		return fmt.Errorf("%s must be >= 3", ParamWindow)
	case s.Param(ParamStdDevThreshold, defaultStdDevThreshold) <= 0:
		return fmt.Errorf("%s must be > 0", ParamStdDevThreshold)
	case s.Param(ParamBaseTradeAmount, defaultBaseTradeAmount) <= 0:
		return fmt.Errorf("%s must be > 0", ParamBaseTradeAmount)
	}
	return nil
}

// Evaluate implements Evaluator.
func (MeanReversion) Evaluate(in EvalInput) (domain.TradeIntent, bool) {
	s := in.Strategy
	window := int(s.Param(ParamWindow, defaultWindow))
	threshold := s.Param(ParamStdDevThreshold, defaultStdDevThreshold)

	prices := closes(in.Series)
	if len(prices) < window {
		return domain.TradeIntent{}, false
	}
	pts := tail(prices, window)
	avg, vol := mean(pts), stdDev(pts)
	if vol == 0 || avg == 0 {
		return domain.TradeIntent{}, false
	}

	last := pts[len(pts)-1]
	z := (last - avg) / vol

	var action domain.Action
	switch {
	case z <= -threshold:
		action = domain.ActionBuy
	case z >= threshold:
		action = domain.ActionSell
	default:
		return domain.TradeIntent{}, false
	}

	confidence := math.Min(math.Abs(z)/(2*threshold), 1)
	amount := math.Max(s.Param(ParamBaseTradeAmount, defaultBaseTradeAmount)*confidence,
		s.Param(ParamMinTradeAmount, defaultMinTradeAmount))

	reason := fmt.Sprintf("mean reversion %s: last=%.6f avg=%.6f z=%.2f", action, last, avg, z)
	return buildIntent(in, action, amount, confidence, reason)
}
