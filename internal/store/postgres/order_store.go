package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. The primary key
// on id makes Create an atomic create-if-absent, and state transitions are
// conditional updates on the current state.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order. It returns domain.ErrAlreadyExists when the id
// is taken.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	intentJSON, err := json.Marshal(o.Intent)
	if err != nil {
		return fmt.Errorf("postgres: marshal intent %s: %w", o.ID, err)
	}
	attempts := o.Attempts
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempts %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO orders (
			id, idempotency_key, wallet, origin, intent, state, failure_reason,
			attempts, quoted_amount_out, amount_out_actual, execution_price,
			dry_run, simulated, created_at, updated_at, finalized_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15, $16
		)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.IdempotencyKey, o.Wallet, o.Intent.Origin, intentJSON,
		string(o.State), string(o.FailureReason), attemptsJSON,
		o.QuotedAmountOut.String(), o.AmountOutActual.String(), o.ExecutionPrice.String(),
		o.DryRun, o.Simulated, o.CreatedAt, o.UpdatedAt, o.FinalizedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Get retrieves a single order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// UpdateState moves the order from one state to another.
func (s *OrderStore) UpdateState(ctx context.Context, id string, from, to domain.OrderState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// AppendAttempt adds an attempt to the order's history in a single statement.
func (s *OrderStore) AppendAttempt(ctx context.Context, id string, attempt domain.Attempt) error {
	attemptJSON, err := json.Marshal([]domain.Attempt{attempt})
	if err != nil {
		return fmt.Errorf("postgres: marshal attempt %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET attempts = attempts || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		id, attemptJSON)
	if err != nil {
		return fmt.Errorf("postgres: append attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Finalize writes the terminal fields when the order is still in state from.
func (s *OrderStore) Finalize(ctx context.Context, id string, from domain.OrderState, final domain.OrderFinal) error {
	const query = `
		UPDATE orders SET
			state = $3,
			failure_reason = $4,
			quoted_amount_out = $5::numeric,
			amount_out_actual = $6::numeric,
			execution_price = $7::numeric,
			simulated = $8,
			finalized_at = $9,
			updated_at = $9
		WHERE id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query,
		id, string(from), string(final.State), string(final.FailureReason),
		final.QuotedAmountOut.String(), final.AmountOutActual.String(), final.ExecutionPrice.String(),
		final.Simulated, final.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// ListByOrigin returns every order with the given origin, oldest first.
func (s *OrderStore) ListByOrigin(ctx context.Context, origin string) ([]domain.Order, error) {
	return s.query(ctx, "list orders by origin",
		`SELECT `+orderSelectCols+` FROM orders WHERE origin = $1 ORDER BY created_at, id`, origin)
}

// ListByWallet returns the wallet's orders newest first, with pagination and
// optional time filtering.
func (s *OrderStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := withListOpts(
		`SELECT `+orderSelectCols+` FROM orders WHERE lower(wallet) = $1`,
		[]any{strings.ToLower(wallet)}, "created_at", "created_at DESC, id", opts)
	return s.query(ctx, "list orders by wallet", query, args...)
}

// ListByState returns orders in the given state, oldest first.
func (s *OrderStore) ListByState(ctx context.Context, state domain.OrderState) ([]domain.Order, error) {
	return s.query(ctx, "list orders by state",
		`SELECT `+orderSelectCols+` FROM orders WHERE state = $1 ORDER BY created_at, id`, string(state))
}

// ListFinalizedBetween returns orders finalized in [from, to).
func (s *OrderStore) ListFinalizedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	return s.query(ctx, "list finalized orders",
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE finalized_at >= $1 AND finalized_at < $2
		 ORDER BY created_at, id`, from, to)
}

func (s *OrderStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return orders, nil
}

// missOrConflict tells a missing order apart from a lost state race after a
// conditional update touched no rows.
func (s *OrderStore) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check order %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrStateConflict
}

const orderSelectCols = `id, idempotency_key, wallet, intent, state, failure_reason, attempts,
	quoted_amount_out::text, amount_out_actual::text, execution_price::text,
	dry_run, simulated, created_at, updated_at, finalized_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                     domain.Order
		state, reason         string
		intentJSON, attempts  []byte
		quoted, actual, price string
	)
	err := scanner.Scan(
		&o.ID, &o.IdempotencyKey, &o.Wallet, &intentJSON, &state, &reason, &attempts,
		&quoted, &actual, &price,
		&o.DryRun, &o.Simulated, &o.CreatedAt, &o.UpdatedAt, &o.FinalizedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.State = domain.OrderState(state)
	o.FailureReason = domain.FailureReason(reason)
	if err := json.Unmarshal(intentJSON, &o.Intent); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal intent: %w", err)
	}
	if err := json.Unmarshal(attempts, &o.Attempts); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if o.QuotedAmountOut, err = decimal.NewFromString(quoted); err != nil {
		return domain.Order{}, fmt.Errorf("parse quoted_amount_out: %w", err)
	}
	if o.AmountOutActual, err = decimal.NewFromString(actual); err != nil {
		return domain.Order{}, fmt.Errorf("parse amount_out_actual: %w", err)
	}
	if o.ExecutionPrice, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("parse execution_price: %w", err)
	}

	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if o.FinalizedAt != nil {
		t := o.FinalizedAt.UTC()
		o.FinalizedAt = &t
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
