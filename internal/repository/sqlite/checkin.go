package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// Assigning a nil *DB to the interface fails the build as soon as a method
// is missing or its signature drifts, instead of failing at server wiring.
var _ repository.CheckinRepository = (*DB)(nil)

// checkinColumns is shared by every SELECT and by putCheckin so the scan
// order cannot drift from the column list.
const checkinColumns = `cycle_key, handle, checked_in_at, fortune_opened, fortune_message,
	coupon_won, collected_item, horoscope, matched_with`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so one scan
// function serves single lookups and list queries.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCheckin rebuilds the fortune snapshot only when fortune_opened is set.
// An unopened record has Fortune == nil whatever the other columns hold.
func scanCheckin(s rowScanner) (*model.Checkin, error) {
	var (
		c           model.Checkin
		checkedInAt int64
		opened      bool
		message     string
		couponWon   sql.NullString
		item        sql.NullInt64
		horoscope   sql.NullString
	)
	if err := s.Scan(
		&c.CycleKey, &c.Handle, &checkedInAt, &opened, &message,
		&couponWon, &item, &horoscope, &c.MatchedWith,
	); err != nil {
		return nil, err
	}
	c.CheckedInAt = fromMillis(checkedInAt)
	c.FortuneOpened = opened

	if opened {
		// collected_item is NOT NULL once opened, so item.Int64 is the card.
		f := &model.FortuneResult{Message: message, CollectibleID: int(item.Int64)}
		if couponWon.Valid && couponWon.String != "" {
			f.Coupon = &model.CouponOffer{}
			if err := json.Unmarshal([]byte(couponWon.String), f.Coupon); err != nil {
				return nil, fmt.Errorf("decoding coupon_won: %w", err)
			}
		}
		if horoscope.Valid && horoscope.String != "" {
			f.Horoscope = &model.Horoscope{}
			if err := json.Unmarshal([]byte(horoscope.String), f.Horoscope); err != nil {
				return nil, fmt.Errorf("decoding horoscope: %w", err)
			}
		}
		c.Fortune = f
	}
	return &c, nil
}

// getCheckin takes a querier so the ledger can read the record inside its
// transaction and see the same row it is about to overwrite.
func getCheckin(ctx context.Context, q querier, cycleKey, handle string) (*model.Checkin, error) {
	c, err := scanCheckin(q.QueryRowContext(ctx,
		`SELECT `+checkinColumns+` FROM daily_checkins WHERE cycle_key = ? AND handle = ?`,
		cycleKey, handle,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("checkin", cycleKey+"/"+handle)
		}
		return nil, fmt.Errorf("sqlite: getting checkin %s/%s: %w", cycleKey, handle, err)
	}
	return c, nil
}

// fortuneColumns flattens the fortune snapshot into column values.
func fortuneColumns(c *model.Checkin) (message string, couponWon, item, horoscope any, err error) {
	// Before the open every fortune column stays at its default.
	if c.Fortune == nil {
		return "", nil, nil, nil, nil
	}
	f := c.Fortune
	item = f.CollectibleID
	if f.Coupon != nil {
		b, err := json.Marshal(f.Coupon)
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("encoding coupon_won: %w", err)
		}
		couponWon = string(b)
	}
	if f.Horoscope != nil {
		b, err := json.Marshal(f.Horoscope)
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("encoding horoscope: %w", err)
		}
		horoscope = string(b)
	}
	return f.Message, couponWon, item, horoscope, nil
}

// putCheckin upserts the whole record, fortune snapshot included. Only the
// ledger calls it, inside its transaction.
//
// THE SNAPSHOT COLUMNS:
//
//	fortune_message  FortuneResult.Message, "" before the open
//	coupon_won       CouponOffer as JSON, NULL when none was won
//	collected_item   the card id, NULL before the open
//	horoscope        Horoscope as JSON, NULL without a birth date
func putCheckin(ctx context.Context, q querier, c *model.Checkin) error {
	message, couponWon, item, horoscope, err := fortuneColumns(c)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO daily_checkins (`+checkinColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cycle_key, handle) DO UPDATE SET
			checked_in_at = excluded.checked_in_at,
			fortune_opened = excluded.fortune_opened,
			fortune_message = excluded.fortune_message,
			coupon_won = excluded.coupon_won,
			collected_item = excluded.collected_item,
			horoscope = excluded.horoscope,
			matched_with = excluded.matched_with`,
		c.CycleKey, c.Handle, millis(c.CheckedInAt), c.FortuneOpened, message,
		couponWon, item, horoscope, c.MatchedWith,
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing checkin %s/%s: %w", c.CycleKey, c.Handle, err)
	}
	return nil
}

// GetCheckin returns the record for (cycleKey, handle).
func (db *DB) GetCheckin(ctx context.Context, cycleKey, handle string) (*model.Checkin, error) {
	return getCheckin(ctx, db.conn, cycleKey, handle)
}

// CreateCheckin inserts c if no record exists for its key. An existing record
// is returned untouched, so checking in twice never resets fortune_opened.
//
// ON CONFLICT DO NOTHING:
// The (cycle_key, handle) primary key decides who was first. The INSERT
// either adds a row (1 affected) or silently skips (0 affected); no error
// path is needed for the repeat case. The stored row is read back either way
// so the caller always sees what the database holds.
func (db *DB) CreateCheckin(ctx context.Context, c *model.Checkin) (*model.Checkin, bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO daily_checkins (cycle_key, handle, checked_in_at, matched_with)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (cycle_key, handle) DO NOTHING`,
		c.CycleKey, c.Handle, millis(c.CheckedInAt), c.MatchedWith,
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: inserting checkin %s/%s: %w", c.CycleKey, c.Handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	stored, err := db.GetCheckin(ctx, c.CycleKey, c.Handle)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

// ListCheckins returns the cycle's records in check-in order.
func (db *DB) ListCheckins(ctx context.Context, cycleKey string, opts repository.ListOptions) ([]model.Checkin, error) {
	// A negative LIMIT means "no limit" in SQLite, which lets one query
	// serve paged and unpaged callers.
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+checkinColumns+` FROM daily_checkins WHERE cycle_key = ?
		 ORDER BY checked_in_at, handle LIMIT ? OFFSET ?`,
		cycleKey, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing checkins for %s: %w", cycleKey, err)
	}
	defer rows.Close()

	checkins := []model.Checkin{}
	for rows.Next() {
		// scanCheckin works on *sql.Rows too; see rowScanner.
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning checkin row: %w", err)
		}
		checkins = append(checkins, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating checkin rows: %w", err)
	}
	return checkins, nil
}

// DeleteCheckins removes every record for cycleKey. Staff call it through
// the cycle reset; users, cards and coupons are untouched.
func (db *DB) DeleteCheckins(ctx context.Context, cycleKey string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM daily_checkins WHERE cycle_key = ?`, cycleKey)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting checkins for %s: %w", cycleKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// SetMatch records the advisory matched_with handle. matchedWith is not a
// foreign key; a later check-in by that handle is not required.
func (db *DB) SetMatch(ctx context.Context, cycleKey, handle, matchedWith string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE daily_checkins SET matched_with = ? WHERE cycle_key = ? AND handle = ?`,
		matchedWith, cycleKey, handle,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting match for %s/%s: %w", cycleKey, handle, err)
	}
	return requireAffected(res, "checkin", cycleKey+"/"+handle)
}

// ListCandidates joins the cycle's check-ins with the users table. Records
// without a user row are skipped.
//
// The SELECT names its columns explicitly and never reads
// users.credential_hash, so the hash cannot leak through this path even if
// MatchCandidate grows a field.
func (db *DB) ListCandidates(ctx context.Context, cycleKey, exclude string) ([]model.MatchCandidate, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.handle, u.mbti, u.birth_date, u.calendar_type, u.element, c.checked_in_at
		 FROM daily_checkins c JOIN users u ON u.handle = c.handle
		 WHERE c.cycle_key = ? AND c.handle <> ?
		 ORDER BY c.checked_in_at, c.handle`,
		cycleKey, exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing candidates for %s: %w", cycleKey, err)
	}
	defer rows.Close()

	// Non-nil so "nobody else is here yet" encodes as [].
	candidates := []model.MatchCandidate{}
	for rows.Next() {
		var (
			m           model.MatchCandidate
			checkedInAt int64
		)
		if err := rows.Scan(
			&m.Handle,
			&m.Profile.MBTI,
			&m.Profile.BirthDate,
			&m.Profile.CalendarType,
			&m.Profile.Element,
			&checkedInAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning candidate row: %w", err)
		}
		m.CheckedInAt = fromMillis(checkedInAt)
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating candidate rows: %w", err)
	}
	return candidates, nil
}
