package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

var (
	_ repository.Transactor = (*DB)(nil)
	_ repository.LedgerTx   = (*ledgerTx)(nil)
)

// BUSY RETRY:
// busy_timeout already makes a connection wait up to 5s inside the driver
// for the write lock. RunInTx adds a second, outer loop for the cases the
// driver does not wait out:
//
//   - SQLITE_BUSY at BEGIN IMMEDIATE once busy_timeout is exhausted
//   - SQLITE_BUSY or SQLITE_LOCKED at COMMIT (a WAL checkpoint in progress)
//   - SQLITE_BUSY_SNAPSHOT and other extended codes of the same family
//
// Each retry rolls back, waits attempt*20ms and runs fn again from the start,
// which is why fn must not touch anything outside tx. Any other error, and
// any error returned by fn itself, is returned at once.
//
//	attempt 1 ──busy──▶ wait 20ms ──▶ attempt 2 ──busy──▶ wait 40ms ──▶ ...
//	attempt 5 ──busy──▶ "transaction still busy after 5 attempts: <cause>"
const (
	maxTxAttempts = 5
	txRetryDelay  = 20 * time.Millisecond
)

// RunInTx runs fn inside BEGIN IMMEDIATE. A busy or locked database, at begin
// or at commit, rolls back and retries up to maxTxAttempts times. A cancelled
// ctx stops the loop between attempts.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryDelay):
		}
	}
	return fmt.Errorf("sqlite: transaction still busy after %d attempts: %w", maxTxAttempts, err)
}

// runOnce is one attempt. The deferred Rollback is a no-op after Commit.
func (db *DB) runOnce(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &ledgerTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// ledgerTx exposes the transaction-scoped reads and writes. It reuses the
// same query helpers as *DB through the querier interface, so a read inside
// the transaction runs exactly the SQL a plain read would.
type ledgerTx struct {
	q querier
}

func (t *ledgerTx) GetUser(ctx context.Context, handle string) (*model.User, error) {
	return getUser(ctx, t.q, handle)
}

func (t *ledgerTx) GetCheckin(ctx context.Context, cycleKey, handle string) (*model.Checkin, error) {
	return getCheckin(ctx, t.q, cycleKey, handle)
}

func (t *ledgerTx) PutCheckin(ctx context.Context, c *model.Checkin) error {
	return putCheckin(ctx, t.q, c)
}

func (t *ledgerTx) SetCollectionCount(ctx context.Context, handle string, cardID, count int, at time.Time) error {
	return setCollectionCount(ctx, t.q, handle, cardID, count, at)
}

// sqliteCode digs the driver's result code out of a wrapped error.
func sqliteCode(err error) (int, bool) {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// isBusy reports whether err carries SQLITE_BUSY or SQLITE_LOCKED. Extended
// codes keep the primary code in their low byte, so SQLITE_BUSY_SNAPSHOT
// (517) counts as busy too.
func isBusy(err error) bool {
	if code, ok := sqliteCode(err); ok {
		primary := code & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	return false
}

// isUniqueViolation falls back to the message text for errors the driver
// wrapped without a code.
func isUniqueViolation(err error) bool {
	if code, ok := sqliteCode(err); ok {
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
