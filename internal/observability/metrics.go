// Package observability provides Prometheus metrics for the trading pipeline.
package observability

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Resolution and risk
	IntentsResolved  *prometheus.CounterVec
	ResolutionErrors *prometheus.CounterVec
	RiskRejections   *prometheus.CounterVec

	// Execution
	OrdersCreated      *prometheus.CounterVec
	OrdersFinalized    *prometheus.CounterVec
	SubmitAttempts     *prometheus.CounterVec
	ExecutionDuration  prometheus.Histogram
	InFlightOrders     prometheus.Gauge
	SideEffectFailures *prometheus.CounterVec

	// Strategy
	StrategyTicks        *prometheus.CounterVec
	StrategyIntents      *prometheus.CounterVec
	StrategyTickDuration prometheus.Histogram

	// Controls
	TradingHalted prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swapbot"
	}

	return &Metrics{
		IntentsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "intents_resolved_total",
			Help:      "Total number of intents resolved by origin kind",
		}, []string{"origin"}),
		ResolutionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "errors_total",
			Help:      "Total number of resolution failures by kind",
		}, []string{"kind"}),
		RiskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Total number of intents rejected by the risk gate",
		}, []string{"reason"}),

		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_created_total",
			Help:      "Total number of orders created, split by dedup outcome",
		}, []string{"outcome"}),
		OrdersFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_finalized_total",
			Help:      "Total number of orders reaching a terminal state",
		}, []string{"state", "reason"}),
		SubmitAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "submit_attempts_total",
			Help:      "Total number of swap submission attempts by outcome",
		}, []string{"outcome"}),
		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Time from leaving PENDING to a terminal state",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		InFlightOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "in_flight_orders",
			Help:      "Number of orders currently queued or submitting",
		}),
		SideEffectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed (events, snapshot rebuilds)",
		}, []string{"kind"}),

		StrategyTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "ticks_total",
			Help:      "Total number of strategy ticks by status",
		}, []string{"status"}),
		StrategyIntents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "intents_total",
			Help:      "Total number of intents produced per strategy",
		}, []string{"strategy"}),
		StrategyTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "tick_duration_seconds",
			Help:      "Strategy tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		TradingHalted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "trading_halted",
			Help:      "1 while the emergency stop is engaged",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordResolved counts a successfully resolved intent.
func RecordResolved(origin string) {
	if strings.HasPrefix(origin, "strategy:") {
		origin = "strategy"
	}
	DefaultMetrics.IntentsResolved.WithLabelValues(origin).Inc()
}

// RecordResolutionError counts a resolution failure.
func RecordResolutionError(kind string) {
	DefaultMetrics.ResolutionErrors.WithLabelValues(kind).Inc()
}

// RecordRejection counts a risk gate rejection.
func RecordRejection(reason string) {
	DefaultMetrics.RiskRejections.WithLabelValues(reason).Inc()
}

// RecordOrderCreated counts an order submission; existing is true when the
// idempotency key collapsed onto a stored order.
func RecordOrderCreated(existing bool) {
	outcome := "created"
	if existing {
		outcome = "deduplicated"
	}
	DefaultMetrics.OrdersCreated.WithLabelValues(outcome).Inc()
}

// RecordOrderFinalized counts a terminal order transition.
func RecordOrderFinalized(state, reason string, seconds float64) {
	DefaultMetrics.OrdersFinalized.WithLabelValues(state, reason).Inc()
	if seconds > 0 {
		DefaultMetrics.ExecutionDuration.Observe(seconds)
	}
}

// RecordAttempt counts a submission attempt.
func RecordAttempt(outcome string) {
	DefaultMetrics.SubmitAttempts.WithLabelValues(outcome).Inc()
}

// AddInFlight adjusts the in-flight gauge.
func AddInFlight(delta float64) {
	DefaultMetrics.InFlightOrders.Add(delta)
}

// RecordSideEffectFailure counts a failed best-effort side effect.
func RecordSideEffectFailure(kind string) {
	DefaultMetrics.SideEffectFailures.WithLabelValues(kind).Inc()
}

// RecordTick records a strategy tick.
func RecordTick(status string, seconds float64) {
	DefaultMetrics.StrategyTicks.WithLabelValues(status).Inc()
	DefaultMetrics.StrategyTickDuration.Observe(seconds)
}

// RecordStrategyIntent counts an intent produced by a strategy.
func RecordStrategyIntent(strategyID string) {
	DefaultMetrics.StrategyIntents.WithLabelValues(strategyID).Inc()
}

// SetHalted mirrors the emergency stop flag.
func SetHalted(halted bool) {
	v := 0.0
	if halted {
		v = 1
	}
	DefaultMetrics.TradingHalted.Set(v)
}
