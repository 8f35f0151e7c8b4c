package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists orders. Create is an atomic create-if-absent keyed by
// order id and returns ErrAlreadyExists when the id is taken.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// UpdateState moves an order from one state to another and returns
	// ErrStateConflict when the stored state is not from.
	UpdateState(ctx context.Context, id string, from, to OrderState) error
	AppendAttempt(ctx context.Context, id string, attempt Attempt) error
	// Finalize writes terminal fields when the stored state is from and
	// returns ErrStateConflict otherwise.
	Finalize(ctx context.Context, id string, from OrderState, final OrderFinal) error
	ListByOrigin(ctx context.Context, origin string) ([]Order, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Order, error)
	ListByState(ctx context.Context, state OrderState) ([]Order, error)
	ListFinalizedBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	Upsert(ctx context.Context, s Strategy) error
	Get(ctx context.Context, id string) (Strategy, error)
	List(ctx context.Context) ([]Strategy, error)
	SetStatus(ctx context.Context, id string, status StrategyStatus) error
}

// SnapshotStore persists the latest portfolio snapshot per wallet.
type SnapshotStore interface {
	Save(ctx context.Context, snap PortfolioSnapshot) error
	Latest(ctx context.Context, wallet string) (PortfolioSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
