package strategy

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ComputePerformance derives a strategy's metrics from its orders. Orders are
// sorted by finalization time and id first, so the result does not depend on
// the order they are passed in. Simulated orders are excluded.
//
// Realized PnL uses average cost: a confirmed buy adds the token received at
// the quote spent, and a confirmed sell realizes proceeds minus the average
// cost of the tokens sold. Every sell against an open position is one closed
// trade. PnL is in quote-token units.
func ComputePerformance(s domain.Strategy, orders []domain.Order) domain.Performance {
	perf := domain.Performance{
		StrategyID:  s.ID,
		TotalPnL:    decimal.Zero,
		MaxDrawdown: decimal.Zero,
	}

	live := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Simulated || o.DryRun {
			continue
		}
		live = append(live, o)
	}
	sort.Slice(live, func(i, j int) bool {
		ti, tj := settledAt(live[i]), settledAt(live[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return live[i].ID < live[j].ID
	})

	var (
		qty     = decimal.Zero
		cost    = decimal.Zero
		pnls    []decimal.Decimal
		cum     = decimal.Zero
		peak    = decimal.Zero
		drawMax = decimal.Zero
	)
	for _, o := range live {
		perf.TotalOrders++
		switch o.State {
		case domain.OrderStateFailed:
			perf.FailedOrders++
			continue
		case domain.OrderStateConfirmed:
			perf.ConfirmedOrders++
		default:
			continue
		}

		in := o.Intent
		switch {
		case strings.EqualFold(in.TokenOut, s.Token):
			qty = qty.Add(o.AmountOutActual)
			cost = cost.Add(in.Amount)

		case strings.EqualFold(in.TokenIn, s.Token):
			if !qty.IsPositive() {
				continue
			}
			sold := decimal.Min(in.Amount, qty)
			avg := cost.Div(qty)
			basis := avg.Mul(sold)
			// Proceeds scale down when the sell exceeded the tracked position.
			proceeds := o.AmountOutActual.Mul(sold).Div(in.Amount)
			pnl := proceeds.Sub(basis)

			qty = qty.Sub(sold)
			cost = cost.Sub(basis)
			if !qty.IsPositive() {
				qty, cost = decimal.Zero, decimal.Zero
			}

			pnls = append(pnls, pnl)
			cum = cum.Add(pnl)
			if cum.GreaterThan(peak) {
				peak = cum
			}
			if dd := peak.Sub(cum); dd.GreaterThan(drawMax) {
				drawMax = dd
			}
		}
	}

	perf.ClosedTrades = len(pnls)
	perf.TotalPnL = cum
	perf.MaxDrawdown = drawMax
	if len(pnls) == 0 {
		return perf
	}

	wins := 0
	floats := make([]float64, len(pnls))
	for i, p := range pnls {
		if p.IsPositive() {
			wins++
		}
		floats[i] = p.InexactFloat64()
	}
	perf.WinRate = float64(wins) / float64(len(pnls))
	if sd := sampleStdDev(floats); sd > 0 {
		perf.SharpeRatio = roundTo(mean(floats)/sd, 6)
	}
	return perf
}

func settledAt(o domain.Order) time.Time {
	if o.FinalizedAt != nil {
		return *o.FinalizedAt
	}
	return o.CreatedAt
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
