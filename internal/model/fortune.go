package model

// FortuneResult is the outcome of one draw: a message, one collectible, an
// optional coupon offer and an optional horoscope.
type FortuneResult struct {
	Message       string       `json:"message"`
	CollectibleID int          `json:"collectibleId"`
	Coupon        *CouponOffer `json:"coupon"`
	Horoscope     *Horoscope   `json:"horoscope,omitempty"`
}

// Horoscope is deterministic per (cycle key, zodiac sign).
type Horoscope struct {
	Zodiac         string `json:"zodiac"`
	ZodiacEmoji    string `json:"zodiacEmoji"`
	Category       string `json:"category"`
	Message        string `json:"message"`
	LuckyScore     int    `json:"luckyScore"`
	ElementMessage string `json:"elementMessage,omitempty"`
}
