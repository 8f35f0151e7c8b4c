package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore.
type StrategyStore struct {
	db *sql.DB
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// Upsert inserts or replaces a strategy, keeping an existing creation time.
func (s *StrategyStore) Upsert(ctx context.Context, st domain.Strategy) error {
	now := time.Now().UTC()
	if prev, err := s.Get(ctx, st.ID); err == nil {
		st.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	} else if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	return s.put(ctx, st)
}

// Get returns a strategy by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM strategies WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("sqlite: get strategy %s: %w", id, err)
	}
	var st domain.Strategy
	if err := json.Unmarshal(payload, &st); err != nil {
		return domain.Strategy{}, fmt.Errorf("sqlite: decode strategy %s: %w", id, err)
	}
	return st, nil
}

// List returns every strategy ordered by id.
func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan strategy: %w", err)
		}
		var st domain.Strategy
		if err := json.Unmarshal(payload, &st); err != nil {
			return nil, fmt.Errorf("sqlite: decode strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetStatus changes the status of an existing strategy.
func (s *StrategyStore) SetStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	st, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	return s.put(ctx, st)
}

func (s *StrategyStore) put(ctx context.Context, st domain.Strategy) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sqlite: marshal strategy %s: %w", st.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, st.ID, payload); err != nil {
		return fmt.Errorf("sqlite: save strategy %s: %w", st.ID, err)
	}
	return nil
}

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Save replaces the wallet's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot %s: %w", snap.Wallet, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (wallet, payload) VALUES (?, ?)
		ON CONFLICT(wallet) DO UPDATE SET payload = excluded.payload`,
		strings.ToLower(snap.Wallet), payload); err != nil {
		return fmt.Errorf("sqlite: save snapshot %s: %w", snap.Wallet, err)
	}
	return nil
}

// Latest returns the wallet's snapshot.
func (s *SnapshotStore) Latest(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM portfolio_snapshots WHERE wallet = ?`,
		strings.ToLower(wallet)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: get snapshot %s: %w", wallet, err)
	}
	var snap domain.PortfolioSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: decode snapshot %s: %w", wallet, err)
	}
	return snap, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *sql.DB
}

var _ domain.AuditStore = (*AuditStore)(nil)

// Log appends an entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, raw, unixNano(time.Now())); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, unixNano(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, unixNano(*opts.Until))
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
			ts  int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: decode audit detail: %w", err)
			}
		}
		e.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
