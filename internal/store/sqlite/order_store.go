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

// OrderStore implements domain.OrderStore. Each row keeps the full order as a
// JSON payload next to the indexed columns used for listing.
type OrderStore struct {
	db *sql.DB
}

var _ domain.OrderStore = (*OrderStore)(nil)

// Create inserts the order unless its id exists.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlite: marshal order %s: %w", o.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, wallet, origin, state, created_at, finalized_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		o.ID, strings.ToLower(o.Wallet), o.Intent.Origin, string(o.State),
		unixNano(o.CreatedAt), finalizedNano(o.FinalizedAt), payload)
	if err != nil {
		return fmt.Errorf("sqlite: create order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Get returns the order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := getOrder(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return o, nil
}

// UpdateState moves the order from one state to another.
func (s *OrderStore) UpdateState(ctx context.Context, id string, from, to domain.OrderState) error {
	return s.mutate(ctx, id, func(o *domain.Order) error {
		if o.State != from {
			return domain.ErrStateConflict
		}
		o.State = to
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// AppendAttempt adds an attempt to the order's history.
func (s *OrderStore) AppendAttempt(ctx context.Context, id string, attempt domain.Attempt) error {
	return s.mutate(ctx, id, func(o *domain.Order) error {
		o.Attempts = append(o.Attempts, attempt)
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Finalize writes the terminal fields when the order is still in state from.
func (s *OrderStore) Finalize(ctx context.Context, id string, from domain.OrderState, final domain.OrderFinal) error {
	return s.mutate(ctx, id, func(o *domain.Order) error {
		if o.State != from {
			return domain.ErrStateConflict
		}
		at := final.FinalizedAt.UTC()
		o.State = final.State
		o.FailureReason = final.FailureReason
		o.QuotedAmountOut = final.QuotedAmountOut
		o.AmountOutActual = final.AmountOutActual
		o.ExecutionPrice = final.ExecutionPrice
		o.Simulated = final.Simulated
		o.FinalizedAt = &at
		o.UpdatedAt = at
		return nil
	})
}

// ListByOrigin returns every order with the given origin, oldest first.
func (s *OrderStore) ListByOrigin(ctx context.Context, origin string) ([]domain.Order, error) {
	return s.list(ctx, "list orders by origin",
		`SELECT payload FROM orders WHERE origin = ? ORDER BY created_at, id`, origin)
}

// ListByWallet returns the wallet's orders newest first.
func (s *OrderStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT payload FROM orders WHERE wallet = ?`
	args := []any{strings.ToLower(wallet)}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, unixNano(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, unixNano(*opts.Until))
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return s.list(ctx, "list orders by wallet", query, args...)
}

// ListByState returns orders in state, oldest first.
func (s *OrderStore) ListByState(ctx context.Context, state domain.OrderState) ([]domain.Order, error) {
	return s.list(ctx, "list orders by state",
		`SELECT payload FROM orders WHERE state = ? ORDER BY created_at, id`, string(state))
}

// ListFinalizedBetween returns orders finalized in [from, to).
func (s *OrderStore) ListFinalizedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	return s.list(ctx, "list finalized orders",
		`SELECT payload FROM orders WHERE finalized_at >= ? AND finalized_at < ? ORDER BY created_at, id`,
		unixNano(from), unixNano(to))
}

// mutate applies fn to the stored order inside a transaction and writes the
// result back. An error from fn aborts without writing.
func (s *OrderStore) mutate(ctx context.Context, id string, fn func(*domain.Order) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o, err := getOrder(ctx, tx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: read order %s: %w", id, err)
	}
	if err := fn(&o); err != nil {
		return err
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlite: marshal order %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET state = ?, finalized_at = ?, payload = ? WHERE id = ?`,
		string(o.State), finalizedNano(o.FinalizedAt), payload, id,
	); err != nil {
		return fmt.Errorf("sqlite: update order %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit order %s: %w", id, err)
	}
	return nil
}

func (s *OrderStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", op, err)
		}
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("sqlite: decode %s: %w", op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate %s: %w", op, err)
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOrder(ctx context.Context, q queryRower, id string) (domain.Order, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, err
	}
	var o domain.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}

func finalizedNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixNano(*t)
}
