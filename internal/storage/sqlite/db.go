// Package sqlite persists the registry, the coordinator state and the event
// log in one SQLite database.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa: HTTP reads run while a settlement is writing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    business_id     TEXT    NOT NULL DEFAULT '',
    -- uint64 values are stored as decimal TEXT; SQLite integers are signed.
    units_required  TEXT    NOT NULL,
    aux_detail      TEXT    NOT NULL,
    aux_address     TEXT    NOT NULL DEFAULT '',
    ledger_ref      TEXT    NOT NULL,
    currency        TEXT    NOT NULL DEFAULT '',
    amount          TEXT    NOT NULL,
    issued_amount   TEXT    NOT NULL,
    sender          TEXT    NOT NULL,
    receiver        TEXT    NOT NULL,
    status          INTEGER NOT NULL,
    mint_time       TEXT    NOT NULL,
    holder          TEXT    NOT NULL,
    approved        TEXT    NOT NULL DEFAULT ''
);

-- Every id ever issued. Rows are never deleted by retirement.
CREATE TABLE IF NOT EXISTS used_ids (
    id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS business_ids (
    business_id TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL
);

-- seq keeps the per-holder acquisition order.
CREATE TABLE IF NOT EXISTS holder_index (
    seq      INTEGER PRIMARY KEY AUTOINCREMENT,
    holder   TEXT NOT NULL,
    order_id TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_holder_index_holder ON holder_index(holder, seq);

CREATE TABLE IF NOT EXISTS operators (
    holder   TEXT NOT NULL,
    operator TEXT NOT NULL,
    PRIMARY KEY (holder, operator)
);

CREATE TABLE IF NOT EXISTS registry_state (
    id     INTEGER PRIMARY KEY CHECK (id = 1),
    paused INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS coordinator_state (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    registry_ref TEXT    NOT NULL DEFAULT '',
    admin        TEXT    NOT NULL DEFAULT '',
    paused       INTEGER NOT NULL DEFAULT 0,
    version_tag  TEXT    NOT NULL DEFAULT '',
    initialized  INTEGER NOT NULL DEFAULT 0
);

-- Units pulled into coordinator custody per order and not released yet.
CREATE TABLE IF NOT EXISTS coordinator_custody (
    order_id TEXT PRIMARY KEY,
    units    TEXT NOT NULL
);

-- Append-only: each row is an immutable event.
CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id   TEXT NOT NULL UNIQUE,
    source     TEXT NOT NULL,
    name       TEXT NOT NULL,
    order_id   TEXT NOT NULL DEFAULT '',
    payload    TEXT NOT NULL,
    trace_id   TEXT NOT NULL DEFAULT '',
    span_id    TEXT NOT NULL DEFAULT '',
    emitted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_order_id ON events(order_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_trace_id ON events(trace_id);
`

// DB owns the connection pool shared by the stores.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	db, err := sqlite.Open("./data/settlement.db")
func Open(path string) (*DB, error) {
	// The pure-Go driver uses _pragma query parameters to configure connection state.
	// busy_timeout waits for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Orders() *OrderStore { return &OrderStore{db: d.db} }

func (d *DB) Coordinator() *StateStore { return &StateStore{db: d.db} }

func (d *DB) Events() *EventRepository { return &EventRepository{db: d.db} }

// applySchema runs the DDL statements once. Idempotent due to IF NOT EXISTS.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
