package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MinTradeAmount:     decimal.RequireFromString("0.01"),
		MaxTradeAmount:     decimal.NewFromInt(10),
		MaxGasPriceGwei:    decimal.NewFromInt(50),
		DefaultSlippageBps: 50,
		MaxSlippageBps:     300,
	}
}

func intentWith(amount string, slippage *int) domain.TradeIntent {
	return domain.TradeIntent{
		Action:         domain.ActionSwap,
		Wallet:         "0xabc",
		TokenIn:        "ETH",
		TokenOut:       "USDC",
		Amount:         decimal.RequireFromString(amount),
		AmountKind:     domain.AmountAbsolute,
		MaxSlippageBps: slippage,
		Confidence:     1,
		Origin:         domain.OriginDirect,
	}
}

func intPtr(v int) *int { return &v }

func TestRiskService_Evaluate(t *testing.T) {
	tests := []struct {
		name         string
		intent       domain.TradeIntent
		halted       bool
		wantReason   domain.RejectReason
		wantSlippage int
	}{
		{name: "accept with default slippage", intent: intentWith("1", nil), wantSlippage: 50},
		{name: "accept with explicit slippage", intent: intentWith("1", intPtr(120)), wantSlippage: 120},
		{name: "accept at min bound", intent: intentWith("0.01", nil), wantSlippage: 50},
		{name: "accept at max bound", intent: intentWith("10", nil), wantSlippage: 50},
		{name: "below min", intent: intentWith("0.001", nil), wantReason: domain.RejectAmountOutOfBounds},
		{name: "above max", intent: intentWith("10.5", nil), wantReason: domain.RejectAmountOutOfBounds},
		{name: "slippage above max", intent: intentWith("1", intPtr(301)), wantReason: domain.RejectSlippageOutOfBounds},
		{name: "negative slippage", intent: intentWith("1", intPtr(-1)), wantReason: domain.RejectSlippageOutOfBounds},
		{name: "halted", intent: intentWith("1", nil), halted: true, wantReason: domain.RejectTradingHalted},
		{name: "amount checked before halt", intent: intentWith("100", nil), halted: true, wantReason: domain.RejectAmountOutOfBounds},
		{name: "slippage checked before halt", intent: intentWith("1", intPtr(999)), halted: true, wantReason: domain.RejectSlippageOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewRiskService(NewControls(testLimits(), tt.halted), nil, nil, discardLogger())
			before := tt.intent

			got, err := svc.Evaluate(tt.intent, testLimits())
			assert.Equal(t, before, tt.intent, "input intent must not be mutated")
			if tt.wantReason != "" {
				rej, ok := domain.AsRejectError(err)
				require.True(t, ok, "expected RejectError, got %v", err)
				assert.Equal(t, tt.wantReason, rej.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSlippage, got.SlippageBps())
		})
	}
}

func TestRiskService_EmergencyStopAppliesImmediately(t *testing.T) {
	ctx := context.Background()
	svc := NewRiskService(NewControls(testLimits(), false), nil, nil, discardLogger())

	queued := []domain.TradeIntent{intentWith("1", nil), intentWith("2", nil), intentWith("3", nil)}
	_, err := svc.Check(ctx, queued[0])
	require.NoError(t, err)

	svc.EmergencyStop(ctx, "test")
	for _, in := range queued {
		_, err := svc.Check(ctx, in)
		rej, ok := domain.AsRejectError(err)
		require.True(t, ok)
		assert.Equal(t, domain.RejectTradingHalted, rej.Reason)
	}

	svc.Resume(ctx, "test")
	_, err = svc.Check(ctx, queued[1])
	assert.NoError(t, err)
}

func TestRiskService_UpdateLimits(t *testing.T) {
	ctx := context.Background()
	svc := NewRiskService(NewControls(testLimits(), false), nil, nil, discardLogger())

	_, err := svc.Check(ctx, intentWith("5", nil))
	require.NoError(t, err)

	next := testLimits()
	next.MaxTradeAmount = decimal.NewFromInt(2)
	require.NoError(t, svc.UpdateLimits(ctx, next, "admin"))
	assert.True(t, svc.Limits().MaxTradeAmount.Equal(decimal.NewFromInt(2)))

	_, err = svc.Check(ctx, intentWith("5", nil))
	rej, ok := domain.AsRejectError(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectAmountOutOfBounds, rej.Reason)

	bad := testLimits()
	bad.DefaultSlippageBps = 500
	assert.Error(t, svc.UpdateLimits(ctx, bad, "admin"))
	assert.True(t, svc.Limits().MaxTradeAmount.Equal(decimal.NewFromInt(2)), "invalid limits must not be installed")
}
