package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swapbot/internal/app"
	"github.com/alanyoungcy/swapbot/internal/crypto"
	"github.com/alanyoungcy/swapbot/internal/strategy"
)

// newMigrateCmd applies the PostgreSQL schema. SQLite and memory stores
// create their schema on open.
func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !strings.EqualFold(cfg.Store.Driver, "postgres") {
				logger.Info("nothing to migrate", slog.String("driver", cfg.Store.Driver))
				return nil
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg.Postgres.RunMigrations = true
			pg, err := app.OpenPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pg.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newStrategyCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect stored strategies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "perf <strategy-id>",
		Short: "Print performance metrics derived from a strategy's orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			deps, cleanup, err := app.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			manager := strategy.NewManager(deps.StrategyStore, deps.OrderStore,
				strategy.DefaultRegistry(), deps.Tokens, logger)
			perf, err := manager.Performance(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(perf)
		},
	})
	return cmd
}

// newKeyCmd manages the encrypted wallet key file. The private key and
// password are read from the environment so they never appear in shell
// history.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the trading wallet key",
	}

	var out string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt SWAPBOT_WALLET_PRIVATE_KEY with SWAPBOT_WALLET_KEY_PASSWORD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv := os.Getenv("SWAPBOT_WALLET_PRIVATE_KEY")
			password := os.Getenv("SWAPBOT_WALLET_KEY_PASSWORD")
			if priv == "" || password == "" {
				return errors.New("SWAPBOT_WALLET_PRIVATE_KEY and SWAPBOT_WALLET_KEY_PASSWORD must be set")
			}
			blob, err := crypto.EncryptKey(priv, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted key written to %s\n", out)
			return nil
		},
	}
	encrypt.Flags().StringVar(&out, "out", "wallet.key", "output path for the encrypted key")
	cmd.AddCommand(encrypt)
	return cmd
}

// newTokenCmd issues wallet session tokens for local testing against the API.
func newTokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API session tokens",
	}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <wallet>",
		Short: "Issue a session token for a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Server.AuthSecret == "" {
				return errors.New("server.auth_secret is not configured")
			}
			auth := crypto.NewSessionAuth(cfg.Server.AuthSecret)
			fmt.Fprintln(cmd.OutOrStdout(), auth.Issue(args[0], time.Now().Add(ttl)))
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(issue)
	return cmd
}
