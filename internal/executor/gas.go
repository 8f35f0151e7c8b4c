package executor

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// gasSchedule yields the gas price for each attempt: the initial price, then
// each subsequent price raised by stepPct percent. It reports false as soon
// as a price would exceed the cap, and never yields that price.
type gasSchedule struct {
	next    decimal.Decimal
	stepPct decimal.Decimal
	cap     decimal.Decimal
}

func newGasSchedule(initial, stepPct, capGwei decimal.Decimal) *gasSchedule {
	return &gasSchedule{next: initial, stepPct: stepPct, cap: capGwei}
}

// Next returns the price for the upcoming attempt.
func (g *gasSchedule) Next() (decimal.Decimal, bool) {
	price := g.next
	if price.GreaterThan(g.cap) {
		return decimal.Zero, false
	}
	g.next = price.Mul(hundred.Add(g.stepPct)).Div(hundred)
	return price, true
}
