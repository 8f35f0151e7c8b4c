package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// RiskControls exposes the emergency stop and the live risk limits.
type RiskControls interface {
	EmergencyStop(ctx context.Context, actor string)
	Resume(ctx context.Context, actor string)
	Halted() bool
	Limits() domain.RiskLimits
	UpdateLimits(ctx context.Context, next domain.RiskLimits, actor string) error
}

// AdminHandler serves operator endpoints. Routes are mounted behind the admin
// token middleware.
type AdminHandler struct {
	risk   RiskControls
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil.
func NewAdminHandler(risk RiskControls, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{risk: risk, audit: audit, logger: logger.With(slog.String("handler", "admin"))}
}

const adminActor = "admin_api"

// Stop engages the emergency stop. Queued orders fail at dequeue time.
// POST /api/admin/stop
func (h *AdminHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.risk.EmergencyStop(r.Context(), adminActor)
	writeJSON(w, http.StatusOK, map[string]bool{"trading_halted": h.risk.Halted()})
}

// Resume clears the emergency stop.
// POST /api/admin/resume
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.risk.Resume(r.Context(), adminActor)
	writeJSON(w, http.StatusOK, map[string]bool{"trading_halted": h.risk.Halted()})
}

// GetLimits returns the risk limits in force.
// GET /api/admin/limits
func (h *AdminHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Limits())
}

// UpdateLimits atomically replaces the risk limits. Intents already accepted
// keep the limits they were gated with.
// PUT /api/admin/limits
func (h *AdminHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var next domain.RiskLimits
	if err := decodeJSON(w, r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.risk.UpdateLimits(r.Context(), next, adminActor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.risk.Limits())
}

// ListAudit returns audit log rows, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []domain.AuditEntry{}})
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
