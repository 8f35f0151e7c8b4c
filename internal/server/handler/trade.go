package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/server/middleware"
	"github.com/alanyoungcy/swapbot/internal/service"
)

// IdempotencyHeader lets clients make trade submissions safe to retry.
const IdempotencyHeader = "Idempotency-Key"

// IntentResolver turns user requests into trade intents.
type IntentResolver interface {
	ResolvePrompt(ctx context.Context, wallet, text string) (domain.TradeIntent, error)
	ResolveDirect(ctx context.Context, wallet string, req service.DirectRequest) (domain.TradeIntent, error)
}

// IntentExecutor gates and submits a resolved intent.
type IntentExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent, idempotencyKey string) (domain.Order, error)
}

// TradeHandler serves the prompt and direct trade endpoints.
type TradeHandler struct {
	resolver IntentResolver
	executor IntentExecutor
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(resolver IntentResolver, executor IntentExecutor, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		resolver: resolver,
		executor: executor,
		logger:   logger.With(slog.String("handler", "trade")),
	}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// tradeResponse returns the accepted order together with the intent it was
// built from.
type tradeResponse struct {
	Order  domain.Order       `json:"order"`
	Intent domain.TradeIntent `json:"intent"`
}

// Prompt resolves a natural-language request and submits it.
// POST /api/trades/prompt
func (h *TradeHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	intent, err := h.resolver.ResolvePrompt(r.Context(), middleware.WalletFrom(r.Context()), req.Prompt)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to resolve prompt")
		return
	}
	h.submit(w, r, intent)
}

// Direct resolves a structured request without the LLM and submits it.
// POST /api/trades/direct
func (h *TradeHandler) Direct(w http.ResponseWriter, r *http.Request) {
	var req service.DirectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	intent, err := h.resolver.ResolveDirect(r.Context(), middleware.WalletFrom(r.Context()), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to resolve request")
		return
	}
	h.submit(w, r, intent)
}

func (h *TradeHandler) submit(w http.ResponseWriter, r *http.Request, intent domain.TradeIntent) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = uuid.NewString()
	}

	order, err := h.executor.Execute(r.Context(), intent, key)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to submit order")
		return
	}
	writeJSON(w, http.StatusAccepted, tradeResponse{Order: order, Intent: order.Intent})
}
