// Package sqlite implements the repository interfaces on SQLite through
// database/sql and the pure-Go modernc.org/sqlite driver.
//
// CONNECTION SETTINGS:
//
// Pragmas are passed in the DSN so they apply to every pooled connection,
// not just the first one:
//
//	busy_timeout(5000)  a connection that finds the database locked waits
//	                    up to 5s inside the driver before SQLITE_BUSY
//	foreign_keys(1)     user_cards and coupons cascade with their user
//	journal_mode(WAL)   readers never block the single writer (files only)
//	_txlock=immediate   every BeginTx issues BEGIN IMMEDIATE
//
// WHY BEGIN IMMEDIATE?
//
// A plain BEGIN is deferred: the transaction starts as a reader and asks for
// the write lock on its first write. Two fortune opens for the same key would
// both read "not opened", both try to upgrade, and one of them gets
// SQLITE_BUSY in the middle of its work with no way to wait it out. With
// BEGIN IMMEDIATE the write lock is taken before the first read, so the
// second open queues behind the first (busy_timeout) and then reads the
// already-opened record. That is what makes the at-most-once fortune hold on
// a file database with a full connection pool.
//
// An in-memory database is private to its connection, so MemoryPath pools
// are capped at one connection and the lock never comes into play there.
//
// Timestamps are stored as INTEGER Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const busyTimeoutMillis = 5000

// DB wraps a sql.DB pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so queries can be shared
// between plain calls and transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (creating if needed) the database at dbPath and runs migrations.
// Use MemoryPath for tests; an in-memory database is limited to one
// connection because each connection would otherwise see its own database.
func New(dbPath string) (*DB, error) {
	return open(dbPath, busyTimeoutMillis)
}

// open is New with an explicit busy timeout. Tests pass 0 to see SQLITE_BUSY
// immediately instead of waiting in the driver.
func open(dbPath string, busyMillis int) (*DB, error) {
	// sql.Open does not connect; it only validates the driver name and
	// builds the pool. "sqlite" is registered by the modernc.org/sqlite
	// blank import.
	conn, err := sql.Open("sqlite", dsn(dbPath, busyMillis))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	// Ping forces the first real connection, so a bad path or missing
	// permission fails here rather than on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// Migrations run on every start; each statement is idempotent.
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn builds the driver connection string. The modernc driver applies each
// _pragma to every new connection in the pool, which matters because
// database/sql may open several.
func dsn(path string, busyMillis int) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyMillis))
	q.Add("_pragma", "foreign_keys(1)")
	// WAL needs a file; an in-memory database ignores it anyway.
	if path != MemoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema.
//
// SCHEMA:
//
//	users               handle PK, credential hash, profile columns
//	user_cards          (handle, card_id) PK, count, first_acquired_at
//	coupons             seq PK, UNIQUE (handle, type, ref, created_at)
//	daily_checkins      (cycle_key, handle) PK, fortune snapshot columns
//	admin_config        single row, id = 1, JSON document
//	fortune_debug_logs  xid PK, indexed by (handle, created_at)
//
// All timestamps are INTEGER Unix milliseconds. daily_checkins has no
// foreign key to users: a check-in is a fact about the night, and the
// record outlives a tester reset.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			handle          TEXT PRIMARY KEY,
			credential_hash TEXT NOT NULL,
			mbti            TEXT NOT NULL DEFAULT '',
			birth_date      TEXT NOT NULL DEFAULT '',
			calendar_type   TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// The element tag arrived after the first profile fields.
	if err := db.addColumnIfNotExists("users", "element", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding element to users: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user_cards (
			handle            TEXT NOT NULL REFERENCES users(handle) ON DELETE CASCADE,
			card_id           INTEGER NOT NULL,
			count             INTEGER NOT NULL,
			first_acquired_at INTEGER NOT NULL,
			PRIMARY KEY (handle, card_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating user_cards table: %w", err)
	}

	// AUTOINCREMENT keeps seq strictly increasing even after deletes, so
	// ORDER BY seq is insertion order.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS coupons (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			handle     TEXT NOT NULL REFERENCES users(handle) ON DELETE CASCADE,
			type       TEXT NOT NULL,
			ref        TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			used_at    INTEGER
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_coupons_identity ON coupons(handle, type, ref, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating coupons table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS daily_checkins (
			cycle_key       TEXT NOT NULL,
			handle          TEXT NOT NULL,
			checked_in_at   INTEGER NOT NULL,
			fortune_opened  INTEGER NOT NULL DEFAULT 0,
			fortune_message TEXT NOT NULL DEFAULT '',
			coupon_won      TEXT,
			collected_item  INTEGER,
			horoscope       TEXT,
			matched_with    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (cycle_key, handle)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating daily_checkins table: %w", err)
	}

	// CHECK (id = 1) makes a second config row impossible.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS admin_config (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			doc        TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating admin_config table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS fortune_debug_logs (
			id         TEXT PRIMARY KEY,
			handle     TEXT NOT NULL,
			level      TEXT NOT NULL,
			step       TEXT NOT NULL,
			phase      TEXT NOT NULL DEFAULT '',
			details    TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_debug_logs_handle ON fortune_debug_logs(handle, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating fortune_debug_logs table: %w", err)
	}

	return nil
}

// addColumnIfNotExists makes ALTER TABLE ADD COLUMN idempotent.
//
// SQLite has no "ADD COLUMN IF NOT EXISTS". pragma_table_info lists the
// existing columns; the ALTER only runs when the column is missing. table,
// column and definition are constants from migrate, never user input, so
// building the statement with Sprintf is safe here.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// millis and fromMillis convert at the storage boundary. Reads come back in
// UTC; callers that need venue time convert through cycle.Clock.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
