package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/server/middleware"
)

// PortfolioReader serves wallet snapshots.
type PortfolioReader interface {
	Fresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error)
	Refresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error)
}

// PortfolioHandler serves the caller's portfolio snapshot.
type PortfolioHandler struct {
	portfolio PortfolioReader
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioReader, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logger.With(slog.String("handler", "portfolio"))}
}

// GetPortfolio returns the latest snapshot, rebuilding it when stale.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolio.Fresh(r.Context(), middleware.WalletFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to load portfolio")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RefreshPortfolio rebuilds the snapshot from chain balances and prices.
// POST /api/portfolio/refresh
func (h *PortfolioHandler) RefreshPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolio.Refresh(r.Context(), middleware.WalletFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to refresh portfolio")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
