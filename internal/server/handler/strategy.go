package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/server/middleware"
	"github.com/alanyoungcy/swapbot/internal/strategy"
)

// StrategyManager manages strategy definitions and their metrics.
type StrategyManager interface {
	Create(ctx context.Context, s domain.Strategy) (domain.Strategy, error)
	Get(ctx context.Context, id string) (domain.Strategy, error)
	List(ctx context.Context) ([]domain.Strategy, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Performance(ctx context.Context, id string) (domain.Performance, error)
}

// StrategyHandler serves strategy endpoints. Every strategy is scoped to the
// wallet that created it.
type StrategyHandler struct {
	manager StrategyManager
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(manager StrategyManager, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{manager: manager, logger: logger.With(slog.String("handler", "strategy"))}
}

type createStrategyRequest struct {
	ID         string                `json:"strategy_id"`
	Name       string                `json:"name"`
	Kind       domain.StrategyKind   `json:"kind"`
	Token      string                `json:"token"`
	QuoteToken string                `json:"quote_token"`
	Params     map[string]float64    `json:"params"`
	Status     domain.StrategyStatus `json:"status"`
}

// CreateStrategy registers a strategy for the caller's wallet.
// POST /api/strategies
func (h *StrategyHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wallet := middleware.WalletFrom(r.Context())
	if req.ID != "" {
		if existing, err := h.manager.Get(r.Context(), req.ID); err == nil && !strings.EqualFold(existing.Wallet, wallet) {
			writeError(w, http.StatusConflict, "strategy id already taken")
			return
		}
	}

	s, err := h.manager.Create(r.Context(), domain.Strategy{
		ID:         req.ID,
		Name:       req.Name,
		Kind:       req.Kind,
		Wallet:     wallet,
		Token:      req.Token,
		QuoteToken: req.QuoteToken,
		Params:     req.Params,
		Status:     req.Status,
	})
	if errors.Is(err, strategy.ErrInvalidStrategy) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to create strategy")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ListStrategies returns the caller's strategies.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	all, err := h.manager.List(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list strategies")
		return
	}
	wallet := middleware.WalletFrom(r.Context())
	out := make([]domain.Strategy, 0, len(all))
	for _, s := range all {
		if strings.EqualFold(s.Wallet, wallet) {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}

// GetStrategy returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PauseStrategy stops a strategy from producing intents.
// POST /api/strategies/{id}/pause
func (h *StrategyHandler) PauseStrategy(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.StrategyPaused)
}

// ResumeStrategy re-activates a paused strategy.
// POST /api/strategies/{id}/resume
func (h *StrategyHandler) ResumeStrategy(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.StrategyActive)
}

// GetPerformance derives the strategy's metrics from its order history.
// GET /api/strategies/{id}/performance
func (h *StrategyHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	perf, err := h.manager.Performance(r.Context(), s.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to compute performance")
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (h *StrategyHandler) setStatus(w http.ResponseWriter, r *http.Request, status domain.StrategyStatus) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var err error
	if status == domain.StrategyPaused {
		err = h.manager.Pause(r.Context(), s.ID)
	} else {
		err = h.manager.Resume(r.Context(), s.ID)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to update strategy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"strategy_id": s.ID,
		"status":      string(status),
	})
}

func (h *StrategyHandler) owned(w http.ResponseWriter, r *http.Request) (domain.Strategy, bool) {
	s, err := h.manager.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get strategy")
		return domain.Strategy{}, false
	}
	if !strings.EqualFold(s.Wallet, middleware.WalletFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "not found")
		return domain.Strategy{}, false
	}
	return s, true
}
