// Package coingecko is the market data source: spot USD prices and recent
// price history from the CoinGecko REST API.
package coingecko

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Config holds the API parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	VsCurrency string
	Timeout    time.Duration
}

// Client implements domain.PriceSource.
type Client struct {
	http   *resty.Client
	tokens *domain.TokenRegistry
	vs     string
	now    func() time.Time
}

var _ domain.PriceSource = (*Client)(nil)

// New creates a Client. Tokens without a CoinGecko id cannot be priced.
func New(cfg Config, tokens *domain.TokenRegistry) *Client {
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("x-cg-demo-api-key", cfg.APIKey)
	}
	return &Client{http: client, tokens: tokens, vs: strings.ToLower(cfg.VsCurrency), now: time.Now}
}

// Price returns the current price of symbol.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id, err := c.coinID(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	var result map[string]map[string]decimal.Decimal
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": id, "vs_currencies": c.vs}).
		SetResult(&result).
		Get("/simple/price")
	if err := checkResponse(resp, err); err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: price %s: %w", symbol, err)
	}

	price, ok := result[id][c.vs]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: price %s: %w", symbol, domain.ErrNotFound)
	}
	return price, nil
}

// Series returns samples covering the last window, oldest first.
func (c *Client) Series(ctx context.Context, symbol string, window time.Duration) ([]domain.PricePoint, error) {
	id, err := c.coinID(symbol)
	if err != nil {
		return nil, err
	}
	days := int(math.Ceil(window.Hours() / 24))
	if days < 1 {
		days = 1
	}

	var result struct {
		Prices [][2]decimal.Decimal `json:"prices"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{"vs_currency": c.vs, "days": strconv.Itoa(days)}).
		SetResult(&result).
		Get("/coins/{id}/market_chart")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("coingecko: series %s: %w", symbol, err)
	}

	cutoff := c.now().Add(-window)
	points := make([]domain.PricePoint, 0, len(result.Prices))
	for _, p := range result.Prices {
		at := time.UnixMilli(p[0].IntPart()).UTC()
		if at.Before(cutoff) {
			continue
		}
		points = append(points, domain.PricePoint{At: at, Price: p[1]})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points, nil
}

func (c *Client) coinID(symbol string) (string, error) {
	t, ok := c.tokens.Lookup(symbol)
	if !ok || t.CoingeckoID == "" {
		return "", fmt.Errorf("coingecko: no coin id for %q: %w", symbol, domain.ErrNotFound)
	}
	return t.CoingeckoID, nil
}

// checkResponse folds transport errors and non-2xx statuses into one error.
// Throttling and server errors are transient.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	if resp.IsError() {
		status := resp.StatusCode()
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("%w: status %d", domain.ErrTransient, status)
		}
		return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
