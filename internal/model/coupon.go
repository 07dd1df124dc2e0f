package model

import "time"

// CouponType distinguishes draw coupons from first-acquisition bonuses.
type CouponType string

const (
	CouponTypeFortune    CouponType = "fortune"
	CouponTypeCollection CouponType = "collection"
)

// Valid reports whether t is one of the two known types.
func (t CouponType) Valid() bool {
	return t == CouponTypeFortune || t == CouponTypeCollection
}

// Coupon is a time-boxed redeemable reward owned by a user. It has no id
// column; its identity is (Type, Ref, CreatedAt). UsedAt is set at most once.
type Coupon struct {
	Type      CouponType `json:"type"`
	Ref       string     `json:"ref"` // catalog coupon id, card id, or text
	Name      string     `json:"name"`
	Text      string     `json:"text,omitempty"`
	Handle    string     `json:"handle"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// CouponIdentity is the composite key used to address a coupon.
type CouponIdentity struct {
	Type      CouponType `json:"type"`
	Ref       string     `json:"ref"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Identity is what a client sends back to mark the coupon used.
func (c Coupon) Identity() CouponIdentity {
	return CouponIdentity{Type: c.Type, Ref: c.Ref, CreatedAt: c.CreatedAt}
}

// ActiveAt reports whether the coupon has not yet expired at now. A coupon
// is dead at exactly ExpiresAt, matching the "expires_at <= now" prune.
func (c Coupon) ActiveAt(now time.Time) bool {
	return c.ExpiresAt.After(now)
}
