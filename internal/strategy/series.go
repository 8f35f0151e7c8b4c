package strategy

import (
	"math"
	"sort"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// closes returns the prices of series in time order as floats. The input is
// not modified.
func closes(series []domain.PricePoint) []float64 {
	pts := make([]domain.PricePoint, len(series))
	copy(pts, series)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].At.Before(pts[j].At) })

	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Price.InexactFloat64()
	}
	return out
}

// mean returns the arithmetic mean, or 0 for no values.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev returns the population standard deviation, or 0 for fewer than two
// values.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// sampleStdDev returns the sample standard deviation (n-1), or 0 for fewer
// than two values.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// tail returns the last n values, or all of them when there are fewer.
func tail(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}
