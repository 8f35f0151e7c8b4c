package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Server.AuthSecret = "secret"
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
	assert.Equal(t, 10.0, cfg.Execution.GasStepPct)
	assert.Equal(t, 120*time.Second, cfg.Execution.Timeout.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Portfolio.StaleAfter.Duration)
	assert.Equal(t, 0.5, cfg.LLM.MinConfidence)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Risk.MaxTradeAmount = 0
	cfg.Execution.MaxAttempts = 0
	cfg.Store.Driver = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "bogus"`)
	assert.Contains(t, err.Error(), "max_trade_amount")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), `unknown driver "mongo"`)
}

func TestValidate_DryRunNeedsNoWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	require.Error(t, cfg.Validate())

	cfg.Execution.DryRun = true
	require.NoError(t, cfg.Validate())
}

func TestValidate_DuplicateTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Tokens = append(cfg.Tokens, TokenConfig{Symbol: "usdc", Decimals: 6})

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate symbol USDC")
}

func TestRiskConfig_Limits(t *testing.T) {
	limits := Defaults().Risk.Limits()

	assert.Equal(t, "0.001", limits.MinTradeAmount.String())
	assert.Equal(t, "100", limits.MaxGasPriceGwei.String())
	assert.Equal(t, 50, limits.DefaultSlippageBps)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swapbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[execution]
timeout = "90s"
max_attempts = 5

[risk]
max_gas_price_gwei = 50.0
`), 0o600))

	t.Setenv("SWAPBOT_RISK_MAX_SLIPPAGE_BPS", "150")
	t.Setenv("SWAPBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, 90*time.Second, cfg.Execution.Timeout.Duration)
	assert.Equal(t, 5, cfg.Execution.MaxAttempts)
	assert.Equal(t, 50.0, cfg.Risk.MaxGasPriceGwei)
	assert.Equal(t, 150, cfg.Risk.MaxSlippageBps)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Execution.PollInterval.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = "sk-live"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.LLM.APIKey)
	assert.Equal(t, "***", red.Server.AuthSecret)
	assert.Equal(t, "", red.Server.AdminToken)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
}

func TestLoadStrategySeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - id: mom-eth
    kind: momentum
    wallet: "0x1111111111111111111111111111111111111111"
    token: eth
    quote_token: usdc
    params:
      lookback_period: 14
      base_trade_amount: 100
  - id: mr-btc
    name: BTC reversion
    kind: mean_reversion
    status: paused
    token: WBTC
    quote_token: USDC
`), 0o600))

	seeds, err := LoadStrategySeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	assert.Equal(t, "ETH", seeds[0].Token)
	assert.Equal(t, domain.StrategyActive, seeds[0].Status)
	assert.Equal(t, "mom-eth", seeds[0].Name)
	assert.Equal(t, 14.0, seeds[0].Params["lookback_period"])
	assert.Equal(t, domain.StrategyPaused, seeds[1].Status)
}

func TestLoadStrategySeeds_RejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - id: a
    kind: momentum
  - id: a
    kind: momentum
`), 0o600))

	_, err := LoadStrategySeeds(path)
	require.Error(t, err)
}
