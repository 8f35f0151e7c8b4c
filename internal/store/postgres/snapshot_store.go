package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Only the
// latest snapshot per wallet is kept; a save replaces it whole.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save replaces the wallet's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	holdings, err := json.Marshal(snap.Holdings)
	if err != nil {
		return fmt.Errorf("postgres: marshal holdings %s: %w", snap.Wallet, err)
	}

	const query = `
		INSERT INTO portfolio_snapshots (wallet, holdings, total_value_usd, as_of)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (wallet) DO UPDATE SET
			holdings = EXCLUDED.holdings,
			total_value_usd = EXCLUDED.total_value_usd,
			as_of = EXCLUDED.as_of`

	if _, err := s.pool.Exec(ctx, query,
		strings.ToLower(snap.Wallet), holdings, snap.TotalValueUSD.String(), snap.AsOf,
	); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.Wallet, err)
	}
	return nil
}

// Latest returns the wallet's snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	var (
		snap     domain.PortfolioSnapshot
		holdings []byte
		total    string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT wallet, holdings, total_value_usd::text, as_of FROM portfolio_snapshots WHERE wallet = $1`,
		strings.ToLower(wallet),
	).Scan(&snap.Wallet, &holdings, &total, &snap.AsOf)
	if err != nil {
		if isNoRows(err) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", wallet, err)
	}
	if err := json.Unmarshal(holdings, &snap.Holdings); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: unmarshal holdings %s: %w", wallet, err)
	}
	if snap.TotalValueUSD, err = decimal.NewFromString(total); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: parse total value %s: %w", wallet, err)
	}
	snap.AsOf = snap.AsOf.UTC()
	return snap, nil
}
