package domain

import (
	"fmt"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderConfirmed EventType = "order_confirmed"
	EventOrderFailed    EventType = "order_failed"
	EventTradingHalted  EventType = "trading_halted"
	EventTradingResumed EventType = "trading_resumed"
)

// OrderEvent is published to event sinks after a transition.
type OrderEvent struct {
	Type       EventType `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	Wallet     string    `json:"wallet,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Summary    string    `json:"summary"`
	Order      *Order    `json:"order,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BotStatus is a summary of the service's current operational state.
type BotStatus struct {
	Mode             string `json:"mode"`
	TradingHalted    bool   `json:"trading_halted"`
	DryRun           bool   `json:"dry_run"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ActiveStrategies int    `json:"active_strategies"`
	InFlightOrders   int    `json:"in_flight_orders"`
}

// StrategySignal carries an intent produced by a strategy tick to the
// executor's intake loop.
type StrategySignal struct {
	StrategyID string
	Intent     TradeIntent
	TickAt     time.Time
}

// IdempotencyKey identifies the tick that produced the signal, so a replayed
// tick collapses onto the order it already created.
func (s StrategySignal) IdempotencyKey() string {
	return fmt.Sprintf("tick:%s:%d", s.StrategyID, s.TickAt.UnixNano())
}
