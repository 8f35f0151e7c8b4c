package strategy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seriesOf(prices ...float64) []domain.PricePoint {
	out := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = domain.PricePoint{At: t0.Add(time.Duration(i) * time.Minute), Price: decimal.NewFromFloat(p)}
	}
	return out
}

func linear(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testStrategy(kind domain.StrategyKind) domain.Strategy {
	return domain.Strategy{
		ID:         "s1",
		Kind:       kind,
		Wallet:     "0xabc",
		Token:      "ETH",
		QuoteToken: "USDC",
		Status:     domain.StrategyActive,
	}
}

func TestMomentum_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		prices     []float64
		position   string
		quote      string
		wantOK     bool
		wantAction domain.Action
	}{
		{name: "uptrend buys", prices: linear(100, 1, 30), position: "0", quote: "1000", wantOK: true, wantAction: domain.ActionBuy},
		{name: "downtrend sells", prices: linear(129, -1, 30), position: "5", quote: "0", wantOK: true, wantAction: domain.ActionSell},
		{name: "downtrend without position", prices: linear(129, -1, 30), position: "0", quote: "1000", wantOK: false},
		{name: "uptrend without quote balance", prices: linear(100, 1, 30), position: "5", quote: "0", wantOK: false},
		{name: "flat market", prices: repeat(100, 30), position: "5", quote: "1000", wantOK: false},
		{name: "too little history", prices: linear(100, 1, 10), position: "5", quote: "1000", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, ok := Momentum{}.Evaluate(EvalInput{
				Strategy:     testStrategy(domain.StrategyMomentum),
				Series:       seriesOf(tt.prices...),
				Position:     decimal.RequireFromString(tt.position),
				QuoteBalance: decimal.RequireFromString(tt.quote),
				Now:          t0,
			})
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantAction, intent.Action)
			assert.Equal(t, "strategy:s1", intent.Origin)
			assert.Equal(t, domain.AmountAbsolute, intent.AmountKind)
			assert.True(t, intent.Amount.IsPositive())
			assert.GreaterOrEqual(t, intent.Confidence, 0.3)
			assert.LessOrEqual(t, intent.Confidence, 1.0)
			assert.NoError(t, intent.Validate())
		})
	}
}

func TestMomentum_BuyUsesQuoteToken(t *testing.T) {
	intent, ok := Momentum{}.Evaluate(EvalInput{
		Strategy:     testStrategy(domain.StrategyMomentum),
		Series:       seriesOf(linear(100, 1, 30)...),
		QuoteBalance: decimal.NewFromInt(1000),
		Now:          t0,
	})
	require.True(t, ok)
	assert.Equal(t, "USDC", intent.TokenIn)
	assert.Equal(t, "ETH", intent.TokenOut)

	// score = tanh(10 * (129-116)/116); confidence = 0.4*score + 0.3.
	assert.InDelta(t, 0.623, intent.Confidence, 0.001)
	assert.InDelta(t, 0.0623, intent.Amount.InexactFloat64(), 0.0001)
}

func TestMomentum_SellCappedAtPosition(t *testing.T) {
	intent, ok := Momentum{}.Evaluate(EvalInput{
		Strategy: testStrategy(domain.StrategyMomentum),
		Series:   seriesOf(linear(129, -1, 30)...),
		Position: decimal.RequireFromString("0.02"),
		Now:      t0,
	})
	require.True(t, ok)
	assert.Equal(t, "ETH", intent.TokenIn)
	assert.True(t, intent.Amount.Equal(decimal.RequireFromString("0.02")), intent.Amount.String())
}

func TestMeanReversion_Evaluate(t *testing.T) {
	dip := append(repeat(100, 19), 90)
	spike := append(repeat(100, 19), 110)

	t.Run("dip buys at full confidence", func(t *testing.T) {
		intent, ok := MeanReversion{}.Evaluate(EvalInput{
			Strategy:     testStrategy(domain.StrategyMeanReversion),
			Series:       seriesOf(dip...),
			QuoteBalance: decimal.NewFromInt(1000),
			Now:          t0,
		})
		require.True(t, ok)
		assert.Equal(t, domain.ActionBuy, intent.Action)
		assert.Equal(t, 1.0, intent.Confidence)
		assert.True(t, intent.Amount.Equal(decimal.RequireFromString("0.1")), intent.Amount.String())
	})

	t.Run("spike sells capped at position", func(t *testing.T) {
		intent, ok := MeanReversion{}.Evaluate(EvalInput{
			Strategy: testStrategy(domain.StrategyMeanReversion),
			Series:   seriesOf(spike...),
			Position: decimal.RequireFromString("0.05"),
			Now:      t0,
		})
		require.True(t, ok)
		assert.Equal(t, domain.ActionSell, intent.Action)
		assert.True(t, intent.Amount.Equal(decimal.RequireFromString("0.05")))
	})

	t.Run("quiet market holds", func(t *testing.T) {
		_, ok := MeanReversion{}.Evaluate(EvalInput{
			Strategy:     testStrategy(domain.StrategyMeanReversion),
			Series:       seriesOf(linear(100, 0.01, 20)...),
			Position:     decimal.NewFromInt(1),
			QuoteBalance: decimal.NewFromInt(1000),
			Now:          t0,
		})
		assert.False(t, ok)
	})

	t.Run("constant series holds", func(t *testing.T) {
		_, ok := MeanReversion{}.Evaluate(EvalInput{
			Strategy:     testStrategy(domain.StrategyMeanReversion),
			Series:       seriesOf(repeat(100, 25)...),
			QuoteBalance: decimal.NewFromInt(1000),
			Now:          t0,
		})
		assert.False(t, ok)
	})
}

func TestEvaluators_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, ev := range []Evaluator{Momentum{}, MeanReversion{}} {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			series := seriesOf(append(linear(100, 1, 29), 60)...)
			in := EvalInput{
				Strategy:     testStrategy(ev.Kind()),
				Series:       series,
				Position:     decimal.NewFromInt(3),
				QuoteBalance: decimal.NewFromInt(1000),
				Now:          t0,
			}
			want, wantOK := ev.Evaluate(in)

			for i := 0; i < 5; i++ {
				shuffled := append([]domain.PricePoint(nil), series...)
				rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
				in.Series = shuffled
				got, ok := ev.Evaluate(in)
				assert.Equal(t, wantOK, ok)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestEvaluators_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Evaluator
		params  map[string]float64
		wantErr bool
	}{
		{name: "momentum defaults", ev: Momentum{}},
		{name: "momentum short above long", ev: Momentum{}, params: map[string]float64{ParamShortMA: 30}, wantErr: true},
		{name: "momentum zero threshold", ev: Momentum{}, params: map[string]float64{ParamMomentumThresh: 0}, wantErr: true},
		{name: "mean reversion defaults", ev: MeanReversion{}},
		{name: "mean reversion tiny window", ev: MeanReversion{}, params: map[string]float64{ParamWindow: 2}, wantErr: true},
		{name: "mean reversion negative base", ev: MeanReversion{}, params: map[string]float64{ParamBaseTradeAmount: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStrategy(tt.ev.Kind())
			s.Params = tt.params
			err := tt.ev.Validate(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []domain.StrategyKind{domain.StrategyMeanReversion, domain.StrategyMomentum}, r.Kinds())

	ev, err := r.Get(domain.StrategyMomentum)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyMomentum, ev.Kind())

	_, err = r.Get("grid")
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}
