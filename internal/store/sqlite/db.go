// Package sqlite implements the domain stores on an embedded SQLite file for
// single-node deployments. A file lock next to the database keeps a second
// process from opening the same store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrStoreLocked is returned by Open when another process holds the store.
var ErrStoreLocked = errors.New("sqlite: store is locked by another process")

// lockWait bounds how long Open waits for the process lock.
const lockWait = time.Second

// DB is an open SQLite store.
type DB struct {
	db   *sql.DB
	lock *flock.Flock
}

var schema = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		wallet TEXT NOT NULL,
		origin TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		finalized_at INTEGER,
		payload BLOB NOT NULL
	);`,
	"CREATE INDEX IF NOT EXISTS idx_orders_wallet ON orders(wallet, created_at DESC);",
	"CREATE INDEX IF NOT EXISTS idx_orders_origin ON orders(origin);",
	"CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);",
	"CREATE INDEX IF NOT EXISTS idx_orders_finalized ON orders(finalized_at);",
	`CREATE TABLE IF NOT EXISTS strategies (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		wallet TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL,
		detail BLOB,
		created_at INTEGER NOT NULL
	);`,
}

// Open creates the database file if needed, takes the process lock and
// applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create store directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	cancel()
	if !locked {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("sqlite: lock store: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection serializes writers, which makes the read-modify-write
	// transactions below atomic.
	db.SetMaxOpenConns(1)

	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return &DB{db: db, lock: lock}, nil
}

// Ping checks the database handle.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the database and releases the process lock.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	err := d.db.Close()
	if uerr := d.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Orders returns the order store.
func (d *DB) Orders() *OrderStore { return &OrderStore{db: d.db} }

// Strategies returns the strategy store.
func (d *DB) Strategies() *StrategyStore { return &StrategyStore{db: d.db} }

// Snapshots returns the snapshot store.
func (d *DB) Snapshots() *SnapshotStore { return &SnapshotStore{db: d.db} }

// Audit returns the audit store.
func (d *DB) Audit() *AuditStore { return &AuditStore{db: d.db} }

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }
