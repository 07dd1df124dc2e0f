package reward

import (
	"math"

	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/sampler"
)

// DefaultCardWeight is each card's share when no override is configured.
const DefaultCardWeight = 1.0 / CardCount

// Request carries everything a draw depends on. Config is the snapshot read
// at the start of the request.
type Request struct {
	Profile  model.Profile
	Config   model.AdminConfig
	CycleKey string
}

// Drawer rolls fortunes from an injected randomness source.
type Drawer struct {
	src    sampler.Source
	policy sampler.ZeroPolicy
}

// NewDrawer returns a Drawer. policy decides the card when every card weight
// is zero.
func NewDrawer(src sampler.Source, policy sampler.ZeroPolicy) *Drawer {
	return &Drawer{src: src, policy: policy}
}

// Draw rolls message, card and coupon in that order, then derives the
// horoscope. It performs no I/O.
//
// THREE ROLLS, THREE DISTRIBUTIONS:
//
//	message  weighted Pick, own-element lines at 3x a general line
//	card     weighted Pick over 22 cards; staff weights override the
//	         default 1/22, and a zero-weight table falls back per policy
//	coupon   one Threshold roll against the catalog; the unassigned mass
//	         is "no coupon"
//
// The order is fixed so a scripted Source in tests maps roll n to the same
// decision every time.
func (d *Drawer) Draw(req Request) model.FortuneResult {
	message, _ := sampler.Pick(d.src, messagePool(req.Profile.Element), sampler.FallbackLast)
	cardID, _ := sampler.Pick(d.src, CardWeights(req.Config.CardSettings), d.policy)

	var coupon *model.CouponOffer
	if offer, ok := sampler.Threshold(d.src, couponItems(req.Config.Coupons)); ok {
		coupon = &offer
	}

	return model.FortuneResult{
		Message:       message,
		CollectibleID: cardID,
		Coupon:        coupon,
		Horoscope:     Horoscope(req.Profile.BirthDate, req.Profile.Element, req.CycleKey),
	}
}

// CardWeights returns one item per card, applying valid overrides. Missing,
// negative or non-finite overrides fall back to DefaultCardWeight.
func CardWeights(settings map[int]model.CardSetting) []sampler.Item[int] {
	items := make([]sampler.Item[int], CardCount)
	for id := range CardCount {
		w := DefaultCardWeight
		if s, ok := settings[id]; ok && s.Probability != nil && validWeight(*s.Probability) {
			w = *s.Probability
		}
		items[id] = sampler.Item[int]{Value: id, Weight: w}
	}
	return items
}

// couponItems keeps at most MaxCatalogCoupons entries and zeroes any
// probability outside [0, 1).
func couponItems(catalog []model.CouponOffer) []sampler.Item[model.CouponOffer] {
	if len(catalog) > model.MaxCatalogCoupons {
		catalog = catalog[:model.MaxCatalogCoupons]
	}
	items := make([]sampler.Item[model.CouponOffer], 0, len(catalog))
	for _, c := range catalog {
		p := c.Probability
		if !validWeight(p) || p >= 1 {
			p = 0
		}
		items = append(items, sampler.Item[model.CouponOffer]{Value: c, Weight: p})
	}
	return items
}

// validWeight rejects NaN, infinities and negatives, which the admin patch
// validation also refuses; this covers documents written before it did.
func validWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w >= 0
}
