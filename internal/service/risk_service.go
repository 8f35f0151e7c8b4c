package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// RiskService is the risk gate. Every intent, whether typed by a user or
// produced by a strategy, passes through Check before an order exists.
type RiskService struct {
	controls *Controls
	audit    domain.AuditStore
	events   *EventFanout
	logger   *slog.Logger
}

// NewRiskService creates a RiskService. audit and events may be nil.
func NewRiskService(controls *Controls, audit domain.AuditStore, events *EventFanout, logger *slog.Logger) *RiskService {
	return &RiskService{
		controls: controls,
		audit:    audit,
		events:   events,
		logger:   logger.With(slog.String("component", "risk_service")),
	}
}

// Evaluate validates intent against limits and the emergency stop. On accept
// it returns a copy of the intent carrying the effective slippage.
//
// Checks performed, first failure wins:
//  1. amount within [min_trade_amount, max_trade_amount]
//  2. slippage within [0, max_slippage_bps], default applied when unset
//  3. emergency stop not engaged
func (s *RiskService) Evaluate(intent domain.TradeIntent, limits domain.RiskLimits) (domain.TradeIntent, error) {
	if intent.Amount.LessThan(limits.MinTradeAmount) || intent.Amount.GreaterThan(limits.MaxTradeAmount) {
		return domain.TradeIntent{}, &domain.RejectError{
			Reason: domain.RejectAmountOutOfBounds,
			Detail: fmt.Sprintf("amount %s outside [%s, %s]", intent.Amount, limits.MinTradeAmount, limits.MaxTradeAmount),
		}
	}

	slippage := limits.DefaultSlippageBps
	if intent.MaxSlippageBps != nil {
		slippage = *intent.MaxSlippageBps
	}
	if slippage < 0 || slippage > limits.MaxSlippageBps {
		return domain.TradeIntent{}, &domain.RejectError{
			Reason: domain.RejectSlippageOutOfBounds,
			Detail: fmt.Sprintf("slippage %d bps outside [0, %d]", slippage, limits.MaxSlippageBps),
		}
	}

	if s.controls.Halted() {
		return domain.TradeIntent{}, &domain.RejectError{Reason: domain.RejectTradingHalted}
	}

	return intent.WithSlippage(slippage), nil
}

// Check evaluates intent against the limits in force right now.
func (s *RiskService) Check(ctx context.Context, intent domain.TradeIntent) (domain.TradeIntent, error) {
	accepted, err := s.Evaluate(intent, s.controls.Limits())
	if err != nil {
		if rej, ok := domain.AsRejectError(err); ok {
			observability.RecordRejection(string(rej.Reason))
		}
		s.logger.WarnContext(ctx, "intent rejected",
			slog.String("wallet", intent.Wallet),
			slog.String("origin", intent.Origin),
			slog.String("pair", intent.TokenIn+"/"+intent.TokenOut),
			slog.String("amount", intent.Amount.String()),
			slog.String("error", err.Error()),
		)
		return domain.TradeIntent{}, err
	}
	return accepted, nil
}

// EmergencyStop engages the stop for every subsequent evaluation.
func (s *RiskService) EmergencyStop(ctx context.Context, actor string) {
	if !s.controls.Halt() {
		return
	}
	s.logger.WarnContext(ctx, "emergency stop engaged", slog.String("actor", actor))
	s.record(ctx, "emergency_stop", map[string]any{"actor": actor})
	s.publish(domain.EventTradingHalted, "trading halted by "+actor)
}

// Resume clears the emergency stop.
func (s *RiskService) Resume(ctx context.Context, actor string) {
	if !s.controls.Resume() {
		return
	}
	s.logger.InfoContext(ctx, "trading resumed", slog.String("actor", actor))
	s.record(ctx, "trading_resumed", map[string]any{"actor": actor})
	s.publish(domain.EventTradingResumed, "trading resumed by "+actor)
}

// Halted reports the emergency stop state.
func (s *RiskService) Halted() bool {
	return s.controls.Halted()
}

// Limits returns the limits in force.
func (s *RiskService) Limits() domain.RiskLimits {
	return s.controls.Limits()
}

// UpdateLimits validates and atomically installs new limits.
func (s *RiskService) UpdateLimits(ctx context.Context, next domain.RiskLimits, actor string) error {
	if err := ValidateLimits(next); err != nil {
		return err
	}
	prev := s.controls.SwapLimits(next)
	s.logger.InfoContext(ctx, "risk limits updated",
		slog.String("actor", actor),
		slog.String("min", next.MinTradeAmount.String()),
		slog.String("max", next.MaxTradeAmount.String()),
		slog.String("max_gas_gwei", next.MaxGasPriceGwei.String()),
	)
	s.record(ctx, "risk_limits_updated", map[string]any{
		"actor":    actor,
		"previous": prev,
		"current":  next,
	})
	return nil
}

// ValidateLimits checks that a limits value is internally consistent.
func ValidateLimits(l domain.RiskLimits) error {
	switch {
	case l.MinTradeAmount.IsNegative():
		return fmt.Errorf("risk_service: min_trade_amount must be >= 0")
	case !l.MaxTradeAmount.GreaterThan(l.MinTradeAmount):
		return fmt.Errorf("risk_service: max_trade_amount must exceed min_trade_amount")
	case !l.MaxGasPriceGwei.IsPositive():
		return fmt.Errorf("risk_service: max_gas_price_gwei must be > 0")
	case l.MaxSlippageBps < 0 || l.MaxSlippageBps > 10_000:
		return fmt.Errorf("risk_service: max_slippage_bps must be within [0, 10000]")
	case l.DefaultSlippageBps < 0 || l.DefaultSlippageBps > l.MaxSlippageBps:
		return fmt.Errorf("risk_service: default_slippage_bps must be within [0, max_slippage_bps]")
	}
	return nil
}

func (s *RiskService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *RiskService) publish(t domain.EventType, summary string) {
	if s.events == nil {
		return
	}
	s.events.PublishAsync(domain.OrderEvent{Type: t, Summary: summary, OccurredAt: time.Now().UTC()})
}
