package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/crypto"
	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/executor"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/service"
	"github.com/alanyoungcy/swapbot/internal/store/memory"
	"github.com/alanyoungcy/swapbot/internal/strategy"
)

const (
	walletA = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	walletB = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
)

type fixedVenue struct{}

func (fixedVenue) Quote(_ context.Context, _, _ string, amount decimal.Decimal) (domain.Quote, error) {
	return domain.Quote{AmountOut: amount.Div(decimal.NewFromInt(2000))}, nil
}
func (fixedVenue) GasPrice(context.Context) (decimal.Decimal, error) { return decimal.NewFromInt(20), nil }
func (fixedVenue) Submit(context.Context, domain.SwapRequest) (string, error) {
	return "0xtx", nil
}
func (fixedVenue) Status(context.Context, string) (domain.TxStatus, error) {
	return domain.TxStatus{State: domain.TxConfirmed}, nil
}

type fixedBalances map[string]decimal.Decimal

func (b fixedBalances) Balances(context.Context, string) (map[string]decimal.Decimal, error) {
	return b, nil
}

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	if v, ok := p[symbol]; ok {
		return v, nil
	}
	return decimal.Zero, domain.ErrNotFound
}

type testAPI struct {
	handler http.Handler
	auth    *crypto.SessionAuth
	risk    *service.RiskService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := domain.NewTokenRegistry([]domain.Token{
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
	}, nil)

	orders := memory.NewOrderStore()
	audit := memory.NewAuditStore()
	controls := service.NewControls(domain.RiskLimits{
		MinTradeAmount:     decimal.NewFromInt(1),
		MaxTradeAmount:     decimal.NewFromInt(1000),
		MaxGasPriceGwei:    decimal.NewFromInt(100),
		DefaultSlippageBps: 50,
		MaxSlippageBps:     300,
	}, false)
	events := service.NewEventFanout(time.Second, logger)
	risk := service.NewRiskService(controls, audit, events, logger)

	prices := fixedPrices{"ETH": decimal.NewFromInt(2000), "USDC": decimal.NewFromInt(1)}
	portfolio := service.NewPortfolioService(
		fixedBalances{"USDC": decimal.NewFromInt(500)}, prices, memory.NewSnapshotStore(),
		5*time.Minute, time.Second, logger)
	resolver := service.NewResolverService(nil, tokens, portfolio, service.ResolverConfig{}, logger)

	engine := executor.NewEngine(orders, fixedVenue{}, controls,
		executor.EngineConfig{DryRun: true, PollInterval: 10 * time.Millisecond}, logger,
		executor.WithAudit(audit))
	t.Cleanup(func() { engine.Close(context.Background()) })
	exec := executor.NewExecutor(nil, resolver, risk, engine, time.Minute, logger)

	manager := strategy.NewManager(memory.NewStrategyStore(), orders, strategy.DefaultRegistry(), tokens, logger)
	auth := crypto.NewSessionAuth("test-secret")

	srv := NewServer(Config{Port: 0, AdminToken: "admin", RateLimit: 100, RateWindow: time.Minute},
		Handlers{
			Health:     handler.NewHealthHandler(nil, nil, logger),
			Trades:     handler.NewTradeHandler(resolver, exec, logger),
			Orders:     handler.NewOrderHandler(engine, orders, logger),
			Portfolio:  handler.NewPortfolioHandler(portfolio, logger),
			Strategies: handler.NewStrategyHandler(manager, logger),
			Admin:      handler.NewAdminHandler(risk, audit, logger),
		},
		auth, memory.NewRateLimiter(), nil, logger)

	return &testAPI{handler: srv.Handler(), auth: auth, risk: risk}
}

func (a *testAPI) do(t *testing.T, method, path, wallet string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if wallet != "" {
		req.Header.Set("Authorization", "Bearer "+a.auth.Issue(wallet, time.Now().Add(time.Hour)))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func directTrade(amount float64) map[string]any {
	return map[string]any{
		"action": "buy", "token_in": "usdc", "token_out": "eth",
		"amount": amount, "amount_kind": "absolute",
	}
}

func TestServer_DirectTradeLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/trades/direct", walletA, directTrade(100), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[struct {
		Order  domain.Order       `json:"order"`
		Intent domain.TradeIntent `json:"intent"`
	}](t, rec)
	id := resp.Order.ID
	assert.Equal(t, "USDC", resp.Intent.TokenIn)
	assert.Equal(t, 50, resp.Intent.SlippageBps())

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/api/orders/"+id, walletA, nil)
		return rec.Code == http.StatusOK && decode[domain.Order](t, rec).State == domain.OrderStateConfirmed
	}, 2*time.Second, 20*time.Millisecond)

	// Same idempotency key collapses onto the same order.
	again := decode[struct {
		Order domain.Order `json:"order"`
	}](t, api.do(t, http.MethodPost, "/api/trades/direct", walletA, directTrade(100), "Idempotency-Key", "k1"))
	assert.Equal(t, id, again.Order.ID)

	// Another wallet cannot see it.
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/orders/"+id, walletB, nil).Code)

	list := decode[struct {
		Orders []domain.Order `json:"orders"`
	}](t, api.do(t, http.MethodGet, "/api/orders", walletA, nil))
	assert.Len(t, list.Orders, 1)

	// Cancelling a confirmed order conflicts.
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodDelete, "/api/orders/"+id, walletA, nil).Code)
}

func TestServer_TradeErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantField  string
		wantValue  string
	}{
		{name: "amount above max", path: "/api/trades/direct", body: directTrade(5000),
			wantStatus: http.StatusUnprocessableEntity, wantField: "reason", wantValue: "amount_out_of_bounds"},
		{name: "unknown token", path: "/api/trades/direct",
			body:       map[string]any{"action": "buy", "token_in": "usdc", "token_out": "doge", "amount": 10, "amount_kind": "absolute"},
			wantStatus: http.StatusUnprocessableEntity, wantField: "kind", wantValue: "unknown_token"},
		{name: "no parser", path: "/api/trades/prompt", body: map[string]any{"prompt": "buy eth"},
			wantStatus: http.StatusServiceUnavailable, wantField: "kind", wantValue: "upstream_unavailable"},
		{name: "empty prompt", path: "/api/trades/prompt", body: map[string]any{"prompt": " "},
			wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, tt.path, walletA, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantField != "" {
				assert.Equal(t, tt.wantValue, decode[map[string]any](t, rec)[tt.wantField])
			}
		})
	}

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/api/trades/direct", "", directTrade(10)).Code)
}

func TestServer_AdminStopAndLimits(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, "/api/admin/stop", "", nil).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/admin/stop", "", nil, "X-Admin-Token", "admin").Code)
	assert.True(t, api.risk.Halted())

	rec := api.do(t, http.MethodPost, "/api/trades/direct", walletA, directTrade(10))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "trading_halted", decode[map[string]any](t, rec)["reason"])

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/admin/resume", "", nil, "X-Admin-Token", "admin").Code)
	assert.False(t, api.risk.Halted())

	next := domain.RiskLimits{
		MinTradeAmount:     decimal.NewFromInt(1),
		MaxTradeAmount:     decimal.NewFromInt(5),
		MaxGasPriceGwei:    decimal.NewFromInt(50),
		DefaultSlippageBps: 10,
		MaxSlippageBps:     100,
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPut, "/api/admin/limits", "", next, "X-Admin-Token", "admin").Code)
	assert.True(t, api.risk.Limits().MaxTradeAmount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(t, http.MethodPost, "/api/trades/direct", walletA, directTrade(10)).Code)

	bad := next
	bad.MaxTradeAmount = decimal.Zero
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPut, "/api/admin/limits", "", bad, "X-Admin-Token", "admin").Code)

	audit := decode[struct {
		Entries []domain.AuditEntry `json:"entries"`
	}](t, api.do(t, http.MethodGet, "/api/admin/audit", "", nil, "X-Admin-Token", "admin"))
	assert.NotEmpty(t, audit.Entries)
}

func TestServer_Strategies(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/strategies", walletA, map[string]any{
		"strategy_id": "mom-eth", "kind": "momentum", "token": "eth", "quote_token": "usdc",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Strategy](t, rec)
	assert.Equal(t, walletA, created.Wallet)

	bad := api.do(t, http.MethodPost, "/api/strategies", walletA, map[string]any{"kind": "grid", "token": "eth", "quote_token": "usdc"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	// Another wallet can neither see nor take over the id.
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/strategies/mom-eth", walletB, nil).Code)
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, "/api/strategies", walletB, map[string]any{
		"strategy_id": "mom-eth", "kind": "momentum", "token": "eth", "quote_token": "usdc",
	}).Code)
	listB := decode[struct {
		Strategies []domain.Strategy `json:"strategies"`
	}](t, api.do(t, http.MethodGet, "/api/strategies", walletB, nil))
	assert.Empty(t, listB.Strategies)

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/strategies/mom-eth/pause", walletA, nil).Code)
	got := decode[domain.Strategy](t, api.do(t, http.MethodGet, "/api/strategies/mom-eth", walletA, nil))
	assert.Equal(t, domain.StrategyPaused, got.Status)

	perf := decode[domain.Performance](t, api.do(t, http.MethodGet, "/api/strategies/mom-eth/performance", walletA, nil))
	assert.Equal(t, "mom-eth", perf.StrategyID)
	assert.Equal(t, 0, perf.TotalOrders)
}

func TestServer_PortfolioAndHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/portfolio", walletA, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[domain.PortfolioSnapshot](t, rec)
	assert.True(t, snap.Balance("USDC").Equal(decimal.NewFromInt(500)))

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/portfolio/refresh", walletA, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz/ready", "", nil).Code)
}
