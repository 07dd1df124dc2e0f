package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/model"
)

func newTestCouponService(t *testing.T) (*CouponService, *fakeStore, *time.Time) {
	t.Helper()
	store := newFakeStore()
	now := testNow
	return NewCouponService(store, testClock(&now), nil, quietLogger()), store, &now
}

func addCoupon(t *testing.T, store *fakeStore, handle, ref string, created, expires time.Time) model.Coupon {
	t.Helper()
	c := model.Coupon{
		Type: model.CouponTypeFortune, Ref: ref, Name: ref, Handle: handle,
		CreatedAt: created, ExpiresAt: expires,
	}
	require.NoError(t, store.AddCoupon(context.Background(), &c))
	return c
}

func TestListActive_ExpiryBoundary(t *testing.T) {
	svc, store, now := newTestCouponService(t)

	addCoupon(t, store, "alice", "expired", now.Add(-time.Hour), now.Add(-time.Millisecond))
	addCoupon(t, store, "alice", "exact", now.Add(-time.Hour), *now)
	addCoupon(t, store, "alice", "live", now.Add(-time.Hour), now.Add(time.Millisecond))
	addCoupon(t, store, "bob", "other", now.Add(-time.Hour), now.Add(-time.Hour))

	active, err := svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].Ref)

	assert.Len(t, store.coupons["alice"], 1, "expired coupons are pruned")
	assert.Len(t, store.coupons["bob"], 1, "other users are untouched")
}

func TestListActive_InsertionOrder(t *testing.T) {
	svc, store, now := newTestCouponService(t)
	for _, ref := range []string{"c", "a", "b"} {
		addCoupon(t, store, "alice", ref, *now, now.Add(time.Hour))
	}

	active, err := svc.ListActive(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "c", active[0].Ref)
	assert.Equal(t, "a", active[1].Ref)
	assert.Equal(t, "b", active[2].Ref)
}

func TestMarkUsed_Idempotent(t *testing.T) {
	svc, store, now := newTestCouponService(t)
	c := addCoupon(t, store, "alice", "shot", *now, now.Add(30*time.Minute))
	ctx := context.Background()

	first, err := svc.MarkUsed(ctx, "alice", c.Identity())
	require.NoError(t, err)
	require.NotNil(t, first.UsedAt)
	assert.True(t, first.UsedAt.Equal(*now))

	*now = now.Add(5 * time.Minute)
	second, err := svc.MarkUsed(ctx, "alice", c.Identity())
	require.NoError(t, err, "second call is a no-op, not an error")
	require.NotNil(t, second.UsedAt)
	assert.True(t, second.UsedAt.Equal(*first.UsedAt), "usedAt never changes once set")
}

func TestMarkUsed_Validation(t *testing.T) {
	svc, _, now := newTestCouponService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   model.CouponIdentity
	}{
		{"bad type", model.CouponIdentity{Type: "promo", Ref: "x", CreatedAt: *now}},
		{"empty ref", model.CouponIdentity{Type: model.CouponTypeFortune, Ref: " ", CreatedAt: *now}},
		{"zero time", model.CouponIdentity{Type: model.CouponTypeFortune, Ref: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MarkUsed(ctx, "alice", tt.id)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("MarkUsed() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestMarkUsed_UnknownCoupon(t *testing.T) {
	svc, store, now := newTestCouponService(t)
	c := addCoupon(t, store, "alice", "shot", *now, now.Add(time.Hour))

	other := c.Identity()
	other.CreatedAt = other.CreatedAt.Add(time.Second)
	_, err := svc.MarkUsed(context.Background(), "alice", other)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)

	_, err = svc.MarkUsed(context.Background(), "bob", c.Identity())
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "coupons are scoped to their owner")
}
