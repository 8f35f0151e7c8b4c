package executor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGasSchedule(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		cap     string
		want    []string
	}{
		{name: "stops before exceeding cap", initial: "45", cap: "50", want: []string{"45", "49.5"}},
		{name: "initial above cap", initial: "51", cap: "50", want: nil},
		{name: "exact cap allowed", initial: "50", cap: "50", want: []string{"50"}},
		{name: "room for many", initial: "10", cap: "100", want: []string{"10", "11", "12.1", "13.31"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGasSchedule(decimal.RequireFromString(tt.initial), decimal.NewFromInt(10), decimal.RequireFromString(tt.cap))
			var got []string
			for i := 0; i < 4; i++ {
				p, ok := g.Next()
				if !ok {
					break
				}
				got = append(got, p.String())
			}
			require.Equal(t, len(tt.want), len(got), "got %v", got)
			for i := range tt.want {
				assert.True(t, decimal.RequireFromString(tt.want[i]).Equal(decimal.RequireFromString(got[i])), "attempt %d: got %s", i+1, got[i])
			}
		})
	}
}
