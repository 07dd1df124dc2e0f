package reward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/sampler"
)

// seq replays rolls in order: message, card, coupon.
type seq struct {
	rolls []float64
	i     int
}

func (s *seq) Float64() float64 {
	v := s.rolls[min(s.i, len(s.rolls)-1)]
	s.i++
	return v
}

func drawWith(cfg model.AdminConfig, profile model.Profile, rolls ...float64) model.FortuneResult {
	d := NewDrawer(&seq{rolls: rolls}, sampler.FallbackLast)
	return d.Draw(Request{Profile: profile, Config: cfg, CycleKey: "2026-02-20"})
}

func ptr(f float64) *float64 { return &f }

func TestDraw_CouponThreshold(t *testing.T) {
	cfg := model.AdminConfig{Coupons: []model.CouponOffer{{ID: "c1", Name: "Shot", Probability: 0.03}}}

	won := drawWith(cfg, model.Profile{}, 0.5, 0.5, 0.02)
	require.NotNil(t, won.Coupon)
	assert.Equal(t, "c1", won.Coupon.ID)

	lost := drawWith(cfg, model.Profile{}, 0.5, 0.5, 0.5)
	assert.Nil(t, lost.Coupon)
}

func TestDraw_DefaultCatalogTiers(t *testing.T) {
	cfg := model.DefaultAdminConfig("1234", testNow)

	tests := []struct {
		roll float64
		want string
	}{
		{0.01, "shot"},
		{0.05, "discount"},
		{0.075, "drink"},
		{0.2, ""},
	}
	for _, tt := range tests {
		res := drawWith(cfg, model.Profile{}, 0.5, 0.5, tt.roll)
		if tt.want == "" {
			assert.Nil(t, res.Coupon, "roll %v", tt.roll)
			continue
		}
		require.NotNil(t, res.Coupon, "roll %v", tt.roll)
		assert.Equal(t, tt.want, res.Coupon.ID)
	}
}

func TestDraw_IgnoresInvalidCouponEntries(t *testing.T) {
	cfg := model.AdminConfig{Coupons: []model.CouponOffer{
		{ID: "too-big", Probability: 1.5},
		{ID: "negative", Probability: -0.2},
		{ID: "zero", Probability: 0},
		{ID: "fourth", Probability: 0.9},
	}}

	res := drawWith(cfg, model.Profile{}, 0.5, 0.5, 0.1)
	assert.Nil(t, res.Coupon)
}

func TestDraw_CardUniformByDefault(t *testing.T) {
	cfg := model.AdminConfig{}

	first := drawWith(cfg, model.Profile{}, 0.5, 0.0, 0.99)
	assert.Equal(t, 0, first.CollectibleID)

	last := drawWith(cfg, model.Profile{}, 0.5, 0.999, 0.99)
	assert.Equal(t, CardCount-1, last.CollectibleID)

	mid := drawWith(cfg, model.Profile{}, 0.5, 10.5/CardCount, 0.99)
	assert.Equal(t, 10, mid.CollectibleID)
}

func TestDraw_CardOverrides(t *testing.T) {
	settings := map[int]model.CardSetting{}
	for id := range CardCount {
		settings[id] = model.CardSetting{Probability: ptr(0)}
	}
	settings[7] = model.CardSetting{Probability: ptr(0.5)}

	res := drawWith(model.AdminConfig{CardSettings: settings}, model.Profile{}, 0.5, 0.3, 0.99)
	assert.Equal(t, 7, res.CollectibleID)
}

func TestDraw_MalformedCardOverrideFallsBackToDefault(t *testing.T) {
	settings := map[int]model.CardSetting{}
	for id := range CardCount {
		settings[id] = model.CardSetting{Probability: ptr(0)}
	}
	settings[5] = model.CardSetting{Probability: ptr(math.NaN())}
	settings[9] = model.CardSetting{Probability: ptr(-3), BonusText: "bonus"}

	weights := CardWeights(settings)
	assert.Equal(t, DefaultCardWeight, weights[5].Weight)
	assert.Equal(t, DefaultCardWeight, weights[9].Weight)
	assert.Equal(t, 0.0, weights[0].Weight)

	res := drawWith(model.AdminConfig{CardSettings: settings}, model.Profile{}, 0.5, 0.1, 0.99)
	assert.Equal(t, 5, res.CollectibleID)
}

func TestDraw_AllCardsZeroUsesPolicy(t *testing.T) {
	settings := map[int]model.CardSetting{}
	for id := range CardCount {
		settings[id] = model.CardSetting{Probability: ptr(0)}
	}
	cfg := model.AdminConfig{CardSettings: settings}

	last := NewDrawer(&seq{rolls: []float64{0.5, 0.0, 0.99}}, sampler.FallbackLast).
		Draw(Request{Config: cfg})
	assert.Equal(t, CardCount-1, last.CollectibleID)

	uniform := NewDrawer(&seq{rolls: []float64{0.5, 0.0, 0.99}}, sampler.FallbackUniform).
		Draw(Request{Config: cfg})
	assert.Equal(t, 0, uniform.CollectibleID)
}

func TestDraw_MessageFavoursElement(t *testing.T) {
	// 10 general messages at weight 1 plus 2 fire messages at weight 3.
	res := drawWith(model.AdminConfig{}, model.Profile{Element: model.ElementFire}, 0.99, 0.5, 0.99)
	assert.Equal(t, elementMessages[model.ElementFire][1], res.Message)

	res = drawWith(model.AdminConfig{}, model.Profile{Element: model.ElementFire}, 0.0, 0.5, 0.99)
	assert.Equal(t, generalMessages[0], res.Message)

	res = drawWith(model.AdminConfig{}, model.Profile{}, 0.99, 0.5, 0.99)
	assert.Equal(t, generalMessages[len(generalMessages)-1], res.Message)
}

func TestMessagePool_ExcludesOtherElements(t *testing.T) {
	pool := messagePool(model.ElementWater)
	for _, it := range pool {
		for _, m := range elementMessages[model.ElementFire] {
			assert.NotEqual(t, m, it.Value)
		}
	}
	assert.Len(t, pool, len(generalMessages)+len(elementMessages[model.ElementWater]))
}

func TestDraw_HoroscopeOnlyWithBirthDate(t *testing.T) {
	res := drawWith(model.AdminConfig{}, model.Profile{}, 0.5, 0.5, 0.99)
	assert.Nil(t, res.Horoscope)

	res = drawWith(model.AdminConfig{}, model.Profile{BirthDate: "1994-03-25"}, 0.5, 0.5, 0.99)
	require.NotNil(t, res.Horoscope)
	assert.Equal(t, "Aries", res.Horoscope.Zodiac)
}
