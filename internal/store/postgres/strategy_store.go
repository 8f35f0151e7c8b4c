package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, name, kind, wallet, token, quote_token, params, status, created_at, updated_at`

// Upsert inserts or replaces a strategy. The creation time of an existing
// row is kept. Params are stored as JSONB.
func (s *StrategyStore) Upsert(ctx context.Context, st domain.Strategy) error {
	params := st.Params
	if params == nil {
		params = map[string]float64{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params %s: %w", st.ID, err)
	}

	const query = `
		INSERT INTO strategies (id, name, kind, wallet, token, quote_token, params, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			wallet = EXCLUDED.wallet,
			token = EXCLUDED.token,
			quote_token = EXCLUDED.quote_token,
			params = EXCLUDED.params,
			status = EXCLUDED.status,
			updated_at = NOW()`

	var createdAt any
	if !st.CreatedAt.IsZero() {
		createdAt = st.CreatedAt
	}
	_, err = s.pool.Exec(ctx, query,
		st.ID, st.Name, string(st.Kind), st.Wallet, st.Token, st.QuoteToken,
		paramsJSON, string(st.Status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", st.ID, err)
	}
	return nil
}

// Get retrieves a strategy by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategy(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// List returns every strategy ordered by id.
func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategySelectCols+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}

// SetStatus changes the status of an existing strategy.
func (s *StrategyStore) SetStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set strategy status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanStrategy(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var (
		st           domain.Strategy
		kind, status string
		paramsJSON   []byte
	)
	err := scanner.Scan(&st.ID, &st.Name, &kind, &st.Wallet, &st.Token, &st.QuoteToken,
		&paramsJSON, &status, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.Strategy{}, err
	}
	st.Kind = domain.StrategyKind(kind)
	st.Status = domain.StrategyStatus(status)
	if err := json.Unmarshal(paramsJSON, &st.Params); err != nil {
		return domain.Strategy{}, fmt.Errorf("unmarshal params: %w", err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}
