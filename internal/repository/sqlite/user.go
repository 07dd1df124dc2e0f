package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// TWO TABLES PER USER:
//
//	users       one row per handle: credential hash, profile, timestamps
//	user_cards  one row per (handle, card): count and first_acquired_at
//
// model.User flattens both. Collection is user_cards ordered by
// first_acquired_at, and CollectionCounts is the same rows as a map.

// GetUser loads the user with its collection in acquisition order.
func (db *DB) GetUser(ctx context.Context, handle string) (*model.User, error) {
	return getUser(ctx, db.conn, handle)
}

// getUser runs against either the pool or a transaction. The ledger reads
// the user through its tx so the collection it updates is the one it saw.
func getUser(ctx context.Context, q querier, handle string) (*model.User, error) {
	// Timestamps are stored as Unix milliseconds (INTEGER) and converted
	// after the scan.
	var (
		u                    model.User
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT handle, credential_hash, mbti, birth_date, calendar_type, element, created_at, updated_at
		 FROM users WHERE handle = ?`,
		handle,
	).Scan(
		&u.Handle,
		&u.CredentialHash,
		&u.Profile.MBTI,
		&u.Profile.BirthDate,
		&u.Profile.CalendarType,
		&u.Profile.Element,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// sql.ErrNoRows is how QueryRow reports "nothing matched". Translate
		// it to the domain error so services never import database/sql.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", handle)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", handle, err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)

	// rowid breaks ties between cards acquired in the same millisecond,
	// which only happens in tests that freeze the clock.
	rows, err := q.QueryContext(ctx,
		`SELECT card_id, count FROM user_cards WHERE handle = ? ORDER BY first_acquired_at, rowid`,
		handle,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cards for %s: %w", handle, err)
	}
	defer rows.Close()

	// Never nil: a user with no cards encodes as [] and {}.
	u.Collection = []int{}
	u.CollectionCounts = map[int]int{}
	for rows.Next() {
		var id, count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("sqlite: scanning card row: %w", err)
		}
		u.Collection = append(u.Collection, id)
		u.CollectionCounts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating card rows: %w", err)
	}

	return &u, nil
}

// CreateUser inserts a new user. CreatedAt/UpdatedAt are set if zero.
//
// Two first check-ins for the same handle can race here. The PRIMARY KEY on
// handle lets exactly one INSERT win; the loser gets apperror.ErrConflict and
// the check-in service verifies against the winner's credential.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (handle, credential_hash, mbti, birth_date, calendar_type, element, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Handle,
		user.CredentialHash,
		user.Profile.MBTI,
		user.Profile.BirthDate,
		user.Profile.CalendarType,
		user.Profile.Element,
		millis(user.CreatedAt),
		millis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Handle)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Handle, err)
	}
	// A fresh user has no user_cards rows; mirror what GetUser would return.
	if user.Collection == nil {
		user.Collection = []int{}
	}
	if user.CollectionCounts == nil {
		user.CollectionCounts = map[int]int{}
	}
	return nil
}

// UpdateProfile replaces all profile fields. The service has already
// merged the patch, so every column is written.
func (db *DB) UpdateProfile(ctx context.Context, handle string, p model.Profile) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET mbti = ?, birth_date = ?, calendar_type = ?, element = ?, updated_at = ?
		 WHERE handle = ?`,
		p.MBTI, p.BirthDate, p.CalendarType, p.Element, millis(time.Now()), handle,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile for %s: %w", handle, err)
	}
	return requireAffected(res, "user", handle)
}

// ResetUserData clears profile, collection and coupons in one transaction.
//
// TRANSACTIONS IN database/sql:
//
//	tx, err := db.BeginTx(ctx, nil)  → BEGIN (IMMEDIATE, see dsn)
//	defer tx.Rollback()              → no-op once Commit has succeeded
//	tx.ExecContext(...)              → every statement on the same connection
//	tx.Commit()                      → COMMIT
//
// The deferred Rollback covers every early return, so a failed DELETE never
// leaves a half-reset user behind. The credential and today's check-in stay.
func (db *DB) ResetUserData(ctx context.Context, handle string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning reset for %s: %w", handle, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET mbti = '', birth_date = '', calendar_type = '', element = '', updated_at = ?
		 WHERE handle = ?`,
		millis(time.Now()), handle,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing profile for %s: %w", handle, err)
	}
	// An unknown handle is a 404, not a silent success.
	if err := requireAffected(res, "user", handle); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_cards WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("sqlite: clearing cards for %s: %w", handle, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM coupons WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("sqlite: clearing coupons for %s: %w", handle, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing reset for %s: %w", handle, err)
	}
	return nil
}

// setCollectionCount writes the capped count for one card. The first insert
// fixes first_acquired_at, which orders the album; later upserts only move
// the count.
func setCollectionCount(ctx context.Context, q querier, handle string, cardID, count int, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_cards (handle, card_id, count, first_acquired_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (handle, card_id) DO UPDATE SET count = excluded.count`,
		handle, cardID, count, millis(at),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting card %d count for %s: %w", cardID, handle, err)
	}
	return nil
}

// requireAffected turns "UPDATE matched nothing" into apperror.ErrNotFound.
// SQLite counts rows matched by the WHERE, so writing identical values still
// reports 1.
func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
