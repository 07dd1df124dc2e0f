package model

import "time"

// CouponOffer is one entry in the admin coupon catalog. Probability is an
// independent chance in [0, 1); whatever mass the catalog leaves unassigned
// means "no coupon".
type CouponOffer struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
}

// CardSetting overrides the draw weight of one collectible and optionally
// attaches a first-acquisition bonus. A nil Probability keeps the default.
type CardSetting struct {
	Probability *float64 `json:"probability,omitempty"`
	BonusText   string   `json:"bonusText,omitempty"`
}

// Geofence is the venue circle patrons must be inside to check in.
type Geofence struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radiusMeters"`
	Enabled      bool    `json:"enabled"`
}

// AdminConfig is the process-wide settings document. It is read at the start
// of every user-facing request and passed down explicitly.
type AdminConfig struct {
	DailyStaffCode     string              `json:"dailyStaffCode"`
	LastCodeUpdate     time.Time           `json:"lastCodeUpdate"`
	Geofence           Geofence            `json:"geofence"`
	Coupons            []CouponOffer       `json:"coupons"`
	CardSettings       map[int]CardSetting `json:"cardSettings"`
	CouponTimerMinutes int                 `json:"couponTimerMinutes"`
}

// Catalog limits and first-boot defaults. The venue coordinates are only a
// starting point; staff move the geofence from the admin page.
const (
	MaxCatalogCoupons         = 3
	DefaultCouponTimerMinutes = 30
	DefaultVenueLat           = 37.5340
	DefaultVenueLng           = 126.9948
	DefaultGeofenceRadius     = 100.0
)

// DefaultCoupons is the catalog installed when no config document exists.
// The three probabilities sum to 0.08, leaving a 92% chance of no coupon.
func DefaultCoupons() []CouponOffer {
	return []CouponOffer{
		{ID: "shot", Name: "Free Shot", Text: "One house shot on us", Probability: 0.035},
		{ID: "discount", Name: "10% Off", Text: "10% off your bill tonight", Probability: 0.035},
		{ID: "drink", Name: "Free Drink", Text: "One signature cocktail on us", Probability: 0.01},
	}
}

// DefaultAdminConfig builds the initial config document around a freshly
// generated staff code.
func DefaultAdminConfig(staffCode string, now time.Time) AdminConfig {
	return AdminConfig{
		DailyStaffCode: staffCode,
		LastCodeUpdate: now,
		Geofence: Geofence{
			Lat:          DefaultVenueLat,
			Lng:          DefaultVenueLng,
			RadiusMeters: DefaultGeofenceRadius,
			Enabled:      true,
		},
		Coupons:            DefaultCoupons(),
		CardSettings:       map[int]CardSetting{},
		CouponTimerMinutes: DefaultCouponTimerMinutes,
	}
}

// CouponValidity returns how long an issued coupon stays redeemable.
func (c AdminConfig) CouponValidity() time.Duration {
	m := c.CouponTimerMinutes
	if m <= 0 {
		m = DefaultCouponTimerMinutes
	}
	return time.Duration(m) * time.Minute
}

// PublicConfig is the subset safe to show unauthenticated clients.
type PublicConfig struct {
	Geofence           Geofence `json:"geofence"`
	CouponTimerMinutes int      `json:"couponTimerMinutes"`
}

// Public drops the staff code, the coupon catalog and the card settings.
func (c AdminConfig) Public() PublicConfig {
	return PublicConfig{Geofence: c.Geofence, CouponTimerMinutes: c.CouponTimerMinutes}
}

// AdminConfigPatch is a partial update; nil fields are left untouched.
// CardSettings entries are merged per card id.
//
// WHY POINTERS?
// A plain int cannot tell "set the timer to 0" from "field absent". With
// *int, an absent JSON field decodes to nil and an explicit value to a
// pointer. *[]CouponOffer does the same for the catalog, so {"coupons": []}
// empties it while omitting "coupons" leaves it alone.
type AdminConfigPatch struct {
	Geofence           *Geofence           `json:"geofence,omitempty"`
	Coupons            *[]CouponOffer      `json:"coupons,omitempty"`
	CardSettings       map[int]CardSetting `json:"cardSettings,omitempty"`
	CouponTimerMinutes *int                `json:"couponTimerMinutes,omitempty"`
}

// Apply merges p into c and returns the result.
func (p AdminConfigPatch) Apply(c AdminConfig) AdminConfig {
	if p.Geofence != nil {
		c.Geofence = *p.Geofence
	}
	// Copy so the stored config never aliases the caller's slice.
	if p.Coupons != nil {
		c.Coupons = append([]CouponOffer(nil), (*p.Coupons)...)
	}
	// A new map: c is a copy, but its map is shared with the original.
	if len(p.CardSettings) > 0 {
		merged := make(map[int]CardSetting, len(c.CardSettings)+len(p.CardSettings))
		for id, s := range c.CardSettings {
			merged[id] = s
		}
		for id, s := range p.CardSettings {
			merged[id] = s
		}
		c.CardSettings = merged
	}
	if p.CouponTimerMinutes != nil {
		c.CouponTimerMinutes = *p.CouponTimerMinutes
	}
	return c
}
