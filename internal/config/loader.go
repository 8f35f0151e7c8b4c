package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies SWAPBOT_* environment overrides. The result is not
// validated; call Config.Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from SWAPBOT_* variables that are
// set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SWAPBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SWAPBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SWAPBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "SWAPBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "SWAPBOT_CHAIN_ID")
	setStr(&cfg.Chain.RouterAddress, "SWAPBOT_CHAIN_ROUTER_ADDRESS")
	setDuration(&cfg.Chain.Deadline, "SWAPBOT_CHAIN_DEADLINE")

	// ── Store ──
	setStr(&cfg.Store.Driver, "SWAPBOT_STORE_DRIVER")
	setStr(&cfg.SQLite.Path, "SWAPBOT_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWAPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SWAPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWAPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWAPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SWAPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SWAPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SWAPBOT_S3_FORCE_PATH_STYLE")

	// ── LLM ──
	setStr(&cfg.LLM.BaseURL, "SWAPBOT_LLM_BASE_URL")
	setStr(&cfg.LLM.APIKey, "SWAPBOT_LLM_API_KEY")
	setStr(&cfg.LLM.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.LLM.Model, "SWAPBOT_LLM_MODEL")
	setDuration(&cfg.LLM.Timeout, "SWAPBOT_LLM_TIMEOUT")
	setFloat64(&cfg.LLM.MinConfidence, "SWAPBOT_LLM_MIN_CONFIDENCE")

	// ── Market ──
	setStr(&cfg.Market.BaseURL, "SWAPBOT_MARKET_BASE_URL")
	setStr(&cfg.Market.APIKey, "SWAPBOT_MARKET_API_KEY")
	setStr(&cfg.Market.APIKey, "COINGECKO_API_KEY") // compatibility alias

	// ── Risk ──
	setFloat64(&cfg.Risk.MinTradeAmount, "SWAPBOT_RISK_MIN_TRADE_AMOUNT")
	setFloat64(&cfg.Risk.MaxTradeAmount, "SWAPBOT_RISK_MAX_TRADE_AMOUNT")
	setFloat64(&cfg.Risk.MaxGasPriceGwei, "SWAPBOT_RISK_MAX_GAS_PRICE_GWEI")
	setInt(&cfg.Risk.DefaultSlippageBps, "SWAPBOT_RISK_DEFAULT_SLIPPAGE_BPS")
	setInt(&cfg.Risk.MaxSlippageBps, "SWAPBOT_RISK_MAX_SLIPPAGE_BPS")
	setBool(&cfg.Risk.EmergencyStop, "SWAPBOT_RISK_EMERGENCY_STOP")

	// ── Execution ──
	setBool(&cfg.Execution.DryRun, "SWAPBOT_EXECUTION_DRY_RUN")
	setInt(&cfg.Execution.MaxAttempts, "SWAPBOT_EXECUTION_MAX_ATTEMPTS")
	setFloat64(&cfg.Execution.GasStepPct, "SWAPBOT_EXECUTION_GAS_STEP_PCT")
	setDuration(&cfg.Execution.Timeout, "SWAPBOT_EXECUTION_TIMEOUT")
	setDuration(&cfg.Execution.PollInterval, "SWAPBOT_EXECUTION_POLL_INTERVAL")

	// ── Portfolio ──
	setDuration(&cfg.Portfolio.StaleAfter, "SWAPBOT_PORTFOLIO_STALE_AFTER")

	// ── Strategy ──
	setBool(&cfg.Strategy.Enabled, "SWAPBOT_STRATEGY_ENABLED")
	setDuration(&cfg.Strategy.Interval, "SWAPBOT_STRATEGY_INTERVAL")
	setDuration(&cfg.Strategy.Cooldown, "SWAPBOT_STRATEGY_COOLDOWN")
	setStr(&cfg.Strategy.SeedFile, "SWAPBOT_STRATEGY_SEED_FILE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SWAPBOT_ARCHIVE_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthSecret, "SWAPBOT_SERVER_AUTH_SECRET")
	setStr(&cfg.Server.AdminToken, "SWAPBOT_SERVER_ADMIN_TOKEN")
	setInt(&cfg.Server.RateLimit, "SWAPBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPBOT_MODE")
	setStr(&cfg.LogLevel, "SWAPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
