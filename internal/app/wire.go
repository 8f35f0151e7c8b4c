package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/swapbot/internal/blob/s3"
	"github.com/alanyoungcy/swapbot/internal/cache/redis"
	"github.com/alanyoungcy/swapbot/internal/config"
	"github.com/alanyoungcy/swapbot/internal/crypto"
	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/notify"
	"github.com/alanyoungcy/swapbot/internal/platform/coingecko"
	"github.com/alanyoungcy/swapbot/internal/platform/llm"
	"github.com/alanyoungcy/swapbot/internal/platform/uniswap"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/store/memory"
	"github.com/alanyoungcy/swapbot/internal/store/postgres"
	"github.com/alanyoungcy/swapbot/internal/store/sqlite"
)

// Dependencies bundles every concrete collaborator the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional collaborators are nil when not configured.
type Dependencies struct {
	Tokens *domain.TokenRegistry

	// Stores
	OrderStore    domain.OrderStore
	StrategyStore domain.StrategyStore
	SnapshotStore domain.SnapshotStore
	AuditStore    domain.AuditStore

	// Caches. LockManager and SignalBus are nil without redis.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archive.enabled.
	Archiver *s3blob.OrderArchiver

	// Collaborators. Parser is nil without an LLM api key.
	Parser   domain.IntentParser
	Market   domain.PriceSource
	Venue    domain.Venue
	Balances domain.BalanceSource

	// Event sinks besides the websocket hub.
	Sinks []domain.EventSink

	// HealthChecks back the readiness probe.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Tokens:       cfg.TokenRegistry(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Durable store ---
	closeStore, err := wireStore(ctx, cfg, deps, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)

	// --- Redis (optional; process-local fallbacks otherwise) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Market.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.Sinks = append(deps.Sinks, redis.NewEventStream(bus))
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled, using process-local cache and rate limiter")
		deps.PriceCache = memory.NewPriceCache()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewOrderArchiver(deps.OrderStore,
			s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Chain: signer, venue and balances ---
	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: dial rpc: %w", err))
	}
	closers = append(closers, eth.Close)

	var txSigner uniswap.TxSigner
	key, keyErr := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	switch {
	case keyErr == nil:
		signer, err := crypto.NewSigner(key)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		txSigner = signer
		logger.InfoContext(ctx, "trading wallet loaded", slog.String("address", signer.Address().Hex()))
	case cfg.Execution.DryRun:
		logger.WarnContext(ctx, "no signing key configured, dry run only", slog.String("reason", keyErr.Error()))
	default:
		return fail(fmt.Errorf("wire: load key: %w", keyErr))
	}

	venue := uniswap.New(eth, txSigner, deps.Tokens, uniswap.Config{
		ChainID:       cfg.Chain.ChainID,
		Router:        cfg.Chain.RouterAddress,
		WrappedNative: cfg.Chain.WrappedNative,
		GasLimit:      cfg.Chain.GasLimit,
		Deadline:      cfg.Chain.Deadline.Duration,
	}, logger)
	deps.Venue = venue
	deps.Balances = venue
	deps.HealthChecks["rpc"] = func(ctx context.Context) error {
		_, err := eth.ChainID(ctx)
		return err
	}

	// --- Market data ---
	deps.Market = coingecko.New(coingecko.Config{
		BaseURL:    cfg.Market.BaseURL,
		APIKey:     cfg.Market.APIKey,
		VsCurrency: cfg.Market.VsCurrency,
		Timeout:    cfg.Market.Timeout.Duration,
	}, deps.Tokens)

	// --- LLM ---
	if cfg.LLM.APIKey != "" {
		cm, err := llm.NewChatModel(ctx, llm.Config{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Parser = llm.NewParser(cm, deps.Tokens.Symbols())
	} else {
		logger.WarnContext(ctx, "llm api_key not set, prompt trades are unavailable")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, ""))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger); notifier.Enabled() {
		deps.Sinks = append(deps.Sinks, notifier)
	}

	return deps, cleanup, nil
}

// OpenStore opens only the configured durable store. Offline commands use it
// to inspect state without dialing the chain or market APIs.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Tokens:       cfg.TokenRegistry(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}
	closeStore, err := wireStore(ctx, cfg, deps, logger)
	if err != nil {
		return nil, nil, err
	}
	return deps, closeStore, nil
}

// wireStore opens the configured durable store.
func wireStore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pg, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pool := pg.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.StrategyStore = postgres.NewStrategyStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pg.Ping
		return pg.Close, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		deps.OrderStore = db.Orders()
		deps.StrategyStore = db.Strategies()
		deps.SnapshotStore = db.Snapshots()
		deps.AuditStore = db.Audit()
		deps.HealthChecks["sqlite"] = db.Ping
		return func() { _ = db.Close() }, nil

	default:
		logger.WarnContext(ctx, "memory store selected, orders do not survive a restart")
		deps.OrderStore = memory.NewOrderStore()
		deps.StrategyStore = memory.NewStrategyStore()
		deps.SnapshotStore = memory.NewSnapshotStore()
		deps.AuditStore = memory.NewAuditStore()
		return func() {}, nil
	}
}

// OpenPostgres connects to PostgreSQL and applies migrations when enabled.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	return pg, nil
}
