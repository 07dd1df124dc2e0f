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

// compile-time check that *DB implements repository.CouponRepository
var _ repository.CouponRepository = (*DB)(nil)

// COUPON ROWS:
// A coupon has no id column. It is addressed by
//
//	(handle, type, ref, created_at)
//
// which the table enforces as UNIQUE. seq is an INTEGER PRIMARY KEY that only
// records insertion order for ListCoupons. Timestamps are Unix milliseconds,
// so a time.Time with nanoseconds compares equal to what was stored only
// after both sides pass through millis().

const couponColumns = `handle, type, ref, name, text, created_at, expires_at, used_at`

// scanCoupon reads one row in couponColumns order. used_at is nullable, so
// it scans into sql.NullInt64 and becomes a *time.Time.
func scanCoupon(s rowScanner) (*model.Coupon, error) {
	var (
		c                    model.Coupon
		typ                  string
		createdAt, expiresAt int64
		usedAt               sql.NullInt64
	)
	if err := s.Scan(&c.Handle, &typ, &c.Ref, &c.Name, &c.Text, &createdAt, &expiresAt, &usedAt); err != nil {
		return nil, err
	}
	c.Type = model.CouponType(typ)
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	if usedAt.Valid {
		t := fromMillis(usedAt.Int64)
		c.UsedAt = &t
	}
	return &c, nil
}

// couponKey renders a coupon identity for NotFound messages. CreatedAt is
// compared at millisecond precision everywhere, matching the column.
func couponKey(handle string, id model.CouponIdentity) string {
	return fmt.Sprintf("%s/%s/%s/%d", handle, id.Type, id.Ref, millis(id.CreatedAt))
}

// AddCoupon appends a coupon. Returns apperror.ErrConflict when a coupon
// with the same identity already exists for the handle.
func (db *DB) AddCoupon(ctx context.Context, c *model.Coupon) error {
	// A nil interface value binds as SQL NULL.
	var usedAt any
	if c.UsedAt != nil {
		usedAt = millis(*c.UsedAt)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO coupons (`+couponColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Handle, string(c.Type), c.Ref, c.Name, c.Text,
		millis(c.CreatedAt), millis(c.ExpiresAt), usedAt,
	)
	if err != nil {
		// Same identity twice means the caller issued one coupon twice in
		// the same millisecond. Surface it as a conflict, not a 500.
		if isUniqueViolation(err) {
			return apperror.Conflict("coupon", couponKey(c.Handle, c.Identity()))
		}
		return fmt.Errorf("sqlite: inserting coupon for %s: %w", c.Handle, err)
	}
	return nil
}

// ListCoupons returns all stored coupons, expired or not, in insertion order.
// Filtering by expiry is the coupon service's job.
func (db *DB) ListCoupons(ctx context.Context, handle string) ([]model.Coupon, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE handle = ? ORDER BY seq`,
		handle,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing coupons for %s: %w", handle, err)
	}
	defer rows.Close()

	// Non-nil so an empty result encodes as [] rather than null.
	coupons := []model.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning coupon row: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating coupon rows: %w", err)
	}
	return coupons, nil
}

// DeleteExpiredCoupons drops coupons whose expiry is at or before now, used
// or not. It returns how many rows went.
func (db *DB) DeleteExpiredCoupons(ctx context.Context, handle string, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM coupons WHERE handle = ? AND expires_at <= ?`,
		handle, millis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning coupons for %s: %w", handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// MarkCouponUsed sets used_at only while it is NULL, so a repeated call
// leaves the first timestamp in place.
//
// RESULT TABLE:
//
//	row exists, unused  → (true, nil), used_at set
//	row exists, used    → (false, nil), used_at unchanged
//	no such row         → (false, apperror.ErrNotFound)
//
// The guarded UPDATE is a single statement, so two staff tapping "used" at
// once cannot both win.
func (db *DB) MarkCouponUsed(ctx context.Context, handle string, id model.CouponIdentity, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE coupons SET used_at = ?
		 WHERE handle = ? AND type = ? AND ref = ? AND created_at = ? AND used_at IS NULL`,
		millis(now), handle, string(id.Type), id.Ref, millis(id.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: marking coupon used for %s: %w", handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing updated: either already used or never existed. One more read
	// tells the caller which.
	if _, err := db.GetCoupon(ctx, handle, id); err != nil {
		return false, err
	}
	return false, nil
}

// GetCoupon looks a coupon up by identity.
func (db *DB) GetCoupon(ctx context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error) {
	c, err := scanCoupon(db.conn.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons
		 WHERE handle = ? AND type = ? AND ref = ? AND created_at = ?`,
		handle, string(id.Type), id.Ref, millis(id.CreatedAt),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("coupon", couponKey(handle, id))
		}
		return nil, fmt.Errorf("sqlite: getting coupon for %s: %w", handle, err)
	}
	return c, nil
}
