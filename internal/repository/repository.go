// Package repository declares the storage capabilities the services depend on.
// internal/repository/sqlite is the production implementation; service tests
// use hand-written fakes.
//
// WHY INTERFACES HERE?
// Go interfaces are satisfied implicitly, so *sqlite.DB implements all of
// of these without naming them. Declaring them next to the services keeps
// the services ignorant of SQL, and lets a test swap the whole store for a
// map-backed fake in one line.
//
// ERROR CONTRACT:
// Implementations return apperror.ErrNotFound and apperror.ErrConflict
// (possibly wrapped) for missing and duplicate rows. Anything else is an
// infrastructure failure the caller wraps and passes up.
package repository

import (
	"context"
	"time"

	"github.com/sakif/fortune-club/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores patrons and their lifetime collection.
type UserRepository interface {
	// GetUser returns apperror.ErrNotFound when the handle is unknown.
	GetUser(ctx context.Context, handle string) (*model.User, error)
	// CreateUser returns apperror.ErrConflict when the handle is taken.
	CreateUser(ctx context.Context, user *model.User) error
	UpdateProfile(ctx context.Context, handle string, profile model.Profile) error
	// ResetUserData clears profile, collection and coupons but keeps the
	// credential.
	ResetUserData(ctx context.Context, handle string) error
}

// CheckinRepository stores per-cycle check-in records.
type CheckinRepository interface {
	// GetCheckin returns apperror.ErrNotFound when no record exists.
	GetCheckin(ctx context.Context, cycleKey, handle string) (*model.Checkin, error)
	// CreateCheckin inserts c unless a record for its key already exists, in
	// which case the stored record is returned and created is false.
	CreateCheckin(ctx context.Context, c *model.Checkin) (stored *model.Checkin, created bool, err error)
	ListCheckins(ctx context.Context, cycleKey string, opts ListOptions) ([]model.Checkin, error)
	DeleteCheckins(ctx context.Context, cycleKey string) (int64, error)
	// SetMatch returns apperror.ErrNotFound when the record is missing.
	SetMatch(ctx context.Context, cycleKey, handle, matchedWith string) error
	// ListCandidates returns the profiles of every patron checked in for
	// cycleKey except exclude, in check-in order.
	ListCandidates(ctx context.Context, cycleKey, exclude string) ([]model.MatchCandidate, error)
}

// CouponRepository stores issued coupons in insertion order.
type CouponRepository interface {
	AddCoupon(ctx context.Context, c *model.Coupon) error
	ListCoupons(ctx context.Context, handle string) ([]model.Coupon, error)
	// DeleteExpiredCoupons removes coupons with expiresAt <= now.
	DeleteExpiredCoupons(ctx context.Context, handle string, now time.Time) (int64, error)
	// MarkCouponUsed sets usedAt if it is unset. updated is false when the
	// coupon was already used; apperror.ErrNotFound when it does not exist.
	MarkCouponUsed(ctx context.Context, handle string, id model.CouponIdentity, now time.Time) (updated bool, err error)
	GetCoupon(ctx context.Context, handle string, id model.CouponIdentity) (*model.Coupon, error)
}

// ConfigRepository stores the singleton admin config document.
type ConfigRepository interface {
	// GetConfig returns apperror.ErrNotFound before the first InitConfig.
	GetConfig(ctx context.Context) (*model.AdminConfig, error)
	// InitConfig stores def only if no document exists and returns whichever
	// document is stored afterwards.
	InitConfig(ctx context.Context, def model.AdminConfig) (*model.AdminConfig, error)
	SaveConfig(ctx context.Context, cfg model.AdminConfig) error
}

// DebugLogRepository is an append-only diagnostic sink.
type DebugLogRepository interface {
	AppendDebugLog(ctx context.Context, e *model.DebugLogEntry) error
	ListDebugLogs(ctx context.Context, handle string, opts ListOptions) ([]model.DebugLogEntry, error)
}

// LedgerTx is the view of the store available inside a fortune-open
// transaction. Every read observes, and every write is serialized against,
// concurrent transactions on the same store.
type LedgerTx interface {
	GetUser(ctx context.Context, handle string) (*model.User, error)
	GetCheckin(ctx context.Context, cycleKey, handle string) (*model.Checkin, error)
	// PutCheckin inserts or replaces the record for (c.CycleKey, c.Handle).
	PutCheckin(ctx context.Context, c *model.Checkin) error
	// SetCollectionCount records count for cardID, adding the card to the
	// user's collection if absent.
	SetCollectionCount(ctx context.Context, handle string, cardID, count int, at time.Time) error
}

// Transactor runs fn atomically. fn may be invoked more than once when the
// store reports a write conflict, so it must not have side effects outside
// tx. Returning an error rolls back.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}
