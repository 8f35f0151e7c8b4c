// Package config defines the top-level configuration for swapbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	LLM       LLMConfig       `toml:"llm"`
	Market    MarketConfig    `toml:"market"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Tokens    []TokenConfig   `toml:"tokens"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key. Exactly one source is used: a raw
// private key or an encrypted key file.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC and router parameters for the swap venue.
type ChainConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	ChainID       int64    `toml:"chain_id"`
	RouterAddress string   `toml:"router_address"`
	WrappedNative string   `toml:"wrapped_native"`
	NativeSymbol  string   `toml:"native_symbol"`
	GasLimit      uint64   `toml:"gas_limit"`
	Deadline      duration `toml:"deadline"`
}

// StoreConfig selects the durable order store.
type StoreConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded single-node store parameters.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LLMConfig holds the OpenAI-compatible chat model used for prompt parsing.
type LLMConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Model         string   `toml:"model"`
	MaxTokens     int      `toml:"max_tokens"`
	Timeout       duration `toml:"timeout"`
	MinConfidence float64  `toml:"min_confidence"`
}

// MarketConfig holds the market data provider parameters.
type MarketConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	CacheTTL   duration `toml:"cache_ttl"`
	VsCurrency string   `toml:"vs_currency"`
}

// RiskConfig holds the initial risk limits.
type RiskConfig struct {
	MinTradeAmount     float64 `toml:"min_trade_amount"`
	MaxTradeAmount     float64 `toml:"max_trade_amount"`
	MaxGasPriceGwei    float64 `toml:"max_gas_price_gwei"`
	DefaultSlippageBps int     `toml:"default_slippage_bps"`
	MaxSlippageBps     int     `toml:"max_slippage_bps"`
	EmergencyStop      bool    `toml:"emergency_stop"`
}

// Limits converts the configured values into domain.RiskLimits.
func (r RiskConfig) Limits() domain.RiskLimits {
	return domain.RiskLimits{
		MinTradeAmount:     decimal.NewFromFloat(r.MinTradeAmount),
		MaxTradeAmount:     decimal.NewFromFloat(r.MaxTradeAmount),
		MaxGasPriceGwei:    decimal.NewFromFloat(r.MaxGasPriceGwei),
		DefaultSlippageBps: r.DefaultSlippageBps,
		MaxSlippageBps:     r.MaxSlippageBps,
	}
}

// ExecutionConfig holds execution engine parameters.
type ExecutionConfig struct {
	DryRun       bool     `toml:"dry_run"`
	MaxAttempts  int      `toml:"max_attempts"`
	GasStepPct   float64  `toml:"gas_step_pct"`
	Timeout      duration `toml:"timeout"`
	PollInterval duration `toml:"poll_interval"`
	QueueSize    int      `toml:"queue_size"`
}

// PortfolioConfig holds snapshot freshness parameters.
type PortfolioConfig struct {
	StaleAfter     duration `toml:"stale_after"`
	RebuildTimeout duration `toml:"rebuild_timeout"`
}

// StrategyConfig holds strategy loop parameters.
type StrategyConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	Cooldown       duration `toml:"cooldown"`
	SeriesWindow   duration `toml:"series_window"`
	MaxConcurrency int      `toml:"max_concurrency"`
	SeedFile       string   `toml:"seed_file"`
}

// ArchiveConfig controls the daily order archive to object storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthSecret verifies wallet session tokens issued by the auth service.
	AuthSecret string `toml:"auth_secret"`
	AdminToken string `toml:"admin_token"`
	// RateLimit is the number of trade requests per wallet per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TokenConfig describes a supported token.
type TokenConfig struct {
	Symbol      string   `toml:"symbol"`
	Address     string   `toml:"address"`
	Decimals    int      `toml:"decimals"`
	CoingeckoID string   `toml:"coingecko_id"`
	Aliases     []string `toml:"aliases"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:        "http://localhost:8545",
			ChainID:       1,
			RouterAddress: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			WrappedNative: "0xC02aaA39b223FE8C0625C6E8C11028C0C5B9B2dB",
			NativeSymbol:  "ETH",
			GasLimit:      250_000,
			Deadline:      duration{20 * time.Minute},
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "data/swapbot.db"},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapbot-archive",
			ForcePathStyle: true,
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			MaxTokens:     1000,
			Timeout:       duration{20 * time.Second},
			MinConfidence: 0.5,
		},
		Market: MarketConfig{
			BaseURL:    "https://api.coingecko.com/api/v3",
			Timeout:    duration{10 * time.Second},
			CacheTTL:   duration{30 * time.Second},
			VsCurrency: "usd",
		},
		Risk: RiskConfig{
			MinTradeAmount:     0.001,
			MaxTradeAmount:     10,
			MaxGasPriceGwei:    100,
			DefaultSlippageBps: 50,
			MaxSlippageBps:     300,
		},
		Execution: ExecutionConfig{
			MaxAttempts:  3,
			GasStepPct:   10,
			Timeout:      duration{120 * time.Second},
			PollInterval: duration{5 * time.Second},
			QueueSize:    64,
		},
		Portfolio: PortfolioConfig{
			StaleAfter:     duration{5 * time.Minute},
			RebuildTimeout: duration{30 * time.Second},
		},
		Strategy: StrategyConfig{
			Enabled:        true,
			Interval:       duration{time.Minute},
			Cooldown:       duration{time.Hour},
			SeriesWindow:   duration{24 * time.Hour},
			MaxConcurrency: 4,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventOrderConfirmed), string(domain.EventOrderFailed), string(domain.EventTradingHalted)},
		},
		Tokens: []TokenConfig{
			{Symbol: "ETH", Decimals: 18, CoingeckoID: "ethereum", Aliases: []string{"ether"}},
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8C0625C6E8C11028C0C5B9B2dB", Decimals: 18, CoingeckoID: "weth"},
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, CoingeckoID: "usd-coin"},
			{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, CoingeckoID: "tether"},
			{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18, CoingeckoID: "dai"},
			{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8, CoingeckoID: "wrapped-bitcoin", Aliases: []string{"btc", "bitcoin"}},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":      true,
	"strategy": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, strategy, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a signing key is only optional when every order is simulated.
	if !c.Execution.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set unless execution.dry_run is true")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.RouterAddress) {
		errs = append(errs, fmt.Sprintf("chain: router_address %q is not a hex address", c.Chain.RouterAddress))
	}
	if !common.IsHexAddress(c.Chain.WrappedNative) {
		errs = append(errs, fmt.Sprintf("chain: wrapped_native %q is not a hex address", c.Chain.WrappedNative))
	}
	if c.Chain.GasLimit == 0 {
		errs = append(errs, "chain: gas_limit must be > 0")
	}

	// Store
	if !validDrivers[strings.ToLower(c.Store.Driver)] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if strings.EqualFold(c.Store.Driver, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if strings.EqualFold(c.Store.Driver, "sqlite") && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is only needed for the archive.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// LLM
	if c.LLM.MinConfidence < 0 || c.LLM.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("llm: min_confidence must be within [0, 1], got %v", c.LLM.MinConfidence))
	}
	if c.LLM.Timeout.Duration <= 0 {
		errs = append(errs, "llm: timeout must be > 0")
	}

	// Risk
	if c.Risk.MinTradeAmount < 0 {
		errs = append(errs, "risk: min_trade_amount must be >= 0")
	}
	if c.Risk.MaxTradeAmount <= c.Risk.MinTradeAmount {
		errs = append(errs, "risk: max_trade_amount must exceed min_trade_amount")
	}
	if c.Risk.MaxGasPriceGwei <= 0 {
		errs = append(errs, "risk: max_gas_price_gwei must be > 0")
	}
	if c.Risk.MaxSlippageBps < 0 || c.Risk.MaxSlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("risk: max_slippage_bps must be within [0, 10000], got %d", c.Risk.MaxSlippageBps))
	}
	if c.Risk.DefaultSlippageBps < 0 || c.Risk.DefaultSlippageBps > c.Risk.MaxSlippageBps {
		errs = append(errs, "risk: default_slippage_bps must be within [0, max_slippage_bps]")
	}

	// Execution
	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, "execution: max_attempts must be >= 1")
	}
	if c.Execution.GasStepPct < 0 {
		errs = append(errs, "execution: gas_step_pct must be >= 0")
	}
	if c.Execution.Timeout.Duration <= 0 {
		errs = append(errs, "execution: timeout must be > 0")
	}
	if c.Execution.PollInterval.Duration <= 0 {
		errs = append(errs, "execution: poll_interval must be > 0")
	}

	// Portfolio
	if c.Portfolio.StaleAfter.Duration <= 0 {
		errs = append(errs, "portfolio: stale_after must be > 0")
	}

	// Strategy
	if c.Strategy.Enabled {
		if c.Strategy.Interval.Duration <= 0 {
			errs = append(errs, "strategy: interval must be > 0")
		}
		if c.Strategy.MaxConcurrency < 1 {
			errs = append(errs, "strategy: max_concurrency must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AuthSecret == "" {
			errs = append(errs, "server: auth_secret must be set")
		}
	}

	// Tokens
	if len(c.Tokens) == 0 {
		errs = append(errs, "tokens: at least one token must be configured")
	}
	seen := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		sym := strings.ToUpper(t.Symbol)
		if sym == "" {
			errs = append(errs, "tokens: symbol must not be empty")
			continue
		}
		if seen[sym] {
			errs = append(errs, fmt.Sprintf("tokens: duplicate symbol %s", sym))
		}
		seen[sym] = true
		if t.Address != "" && !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("tokens: %s address %q is not a hex address", sym, t.Address))
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("tokens: %s decimals out of range", sym))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TokenRegistry builds the token registry from the configured tokens.
func (c *Config) TokenRegistry() *domain.TokenRegistry {
	tokens := make([]domain.Token, 0, len(c.Tokens))
	aliases := make(map[string][]string, len(c.Tokens))
	for _, t := range c.Tokens {
		sym := strings.ToUpper(t.Symbol)
		tokens = append(tokens, domain.Token{
			Symbol:      sym,
			Address:     t.Address,
			Decimals:    t.Decimals,
			CoingeckoID: t.CoingeckoID,
		})
		aliases[sym] = t.Aliases
	}
	return domain.NewTokenRegistry(tokens, aliases)
}
