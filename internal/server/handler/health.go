package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// StatusFunc reports the bot's operational state.
type StatusFunc func(ctx context.Context) domain.BotStatus

// HealthHandler serves liveness, readiness and status endpoints.
type HealthHandler struct {
	checks  map[string]HealthCheck
	status  StatusFunc
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are run on readiness
// probes; status may be nil.
func NewHealthHandler(checks map[string]HealthCheck, status StatusFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		status:  status,
		timeout: 3 * time.Second,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Live reports that the process is serving requests.
// GET /healthz/live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every dependency check and answers 503 if any fails.
// GET /healthz/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": results})
}

// Status returns the bot's operational summary.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, domain.BotStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}
