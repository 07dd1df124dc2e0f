// HOROSCOPE SEEDING:
// The reading is seeded from the cycle key and the sign index, never from the
// patron. Two Leos at the same table read the same line tonight and a
// different one tomorrow, and re-opening the profile never reshuffles it.
//
//	seed = (fnv64a(cycleKey), signIndex)

package reward

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/sakif/fortune-club/internal/model"
)

// zodiacSign is a Western sign and the first day it covers.
type zodiacSign struct {
	name       string
	emoji      string
	startMonth time.Month
	startDay   int
}

// zodiacSigns is ordered by start date within the year, Capricorn wrapping.
var zodiacSigns = []zodiacSign{
	{"Aquarius", "♒", time.January, 20},
	{"Pisces", "♓", time.February, 19},
	{"Aries", "♈", time.March, 21},
	{"Taurus", "♉", time.April, 20},
	{"Gemini", "♊", time.May, 21},
	{"Cancer", "♋", time.June, 22},
	{"Leo", "♌", time.July, 23},
	{"Virgo", "♍", time.August, 23},
	{"Libra", "♎", time.September, 23},
	{"Scorpio", "♏", time.October, 24},
	{"Sagittarius", "♐", time.November, 22},
	{"Capricorn", "♑", time.December, 22},
}

// zodiacIndex returns the sign index for a birth month and day.
func zodiacIndex(month time.Month, day int) int {
	idx := len(zodiacSigns) - 1 // Capricorn covers Dec 22 through Jan 19
	for i, s := range zodiacSigns {
		if month > s.startMonth || (month == s.startMonth && day >= s.startDay) {
			idx = i
		}
	}
	return idx
}

// horoscopeCategories picks which template list a reading draws from.
var horoscopeCategories = []string{"love", "social", "luck", "energy"}

var horoscopeTemplates = map[string][]string{
	"love": {
		"Love is in the air tonight. Keep your heart open.",
		"Romantic energy surrounds you.",
		"Don't miss the signs of a new connection.",
		"A sincere conversation deepens a bond.",
		"Someone you meet tonight may feel special.",
		"Saying how you feel brings good fortune.",
	},
	"social": {
		"Your social luck is high. Be the first to say hello.",
		"You leave a great impression on everyone around you.",
		"A new crowd brings a fun evening.",
		"Your sense of humour wins people over.",
		"Conversation flows easily tonight.",
		"Mixing with different people invites luck.",
	},
	"luck": {
		"Small pieces of luck are hidden everywhere today.",
		"Unexpected good news may be on its way.",
		"Your intuition is sharp. Trust the feeling.",
		"A chance encounter becomes an opportunity.",
		"A positive mindset pulls luck towards you.",
		"Whatever you try tonight tends to work out.",
	},
	"energy": {
		"Tonight is full of lively energy.",
		"A calm energy wraps around you tonight.",
		"Your inner strength shines through.",
		"You're armed with confident energy tonight.",
		"An easygoing vibe adds to your charm.",
		"Your passion lights up the room.",
	},
}

// elementBonus is appended to the reading when the profile has an element.
var elementBonus = map[string]string{
	model.ElementWood:  "Wood energy adds a push of growth today.",
	model.ElementFire:  "Fire energy fuels your passion today.",
	model.ElementEarth: "Earth energy brings you a sense of calm today.",
	model.ElementMetal: "Metal energy sharpens your resolve today.",
	model.ElementWater: "Water energy sharpens your intuition today.",
}

// Horoscope derives the reading for a solar birth date (YYYY-MM-DD) on the
// given cycle. Everyone sharing a sign sees the same reading for a cycle; it
// changes from cycle to cycle. Returns nil when birthDate is empty or
// unparseable.
func Horoscope(birthDate, element, cycleKey string) *model.Horoscope {
	if birthDate == "" {
		return nil
	}
	bd, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return nil
	}

	idx := zodiacIndex(bd.Month(), bd.Day())
	sign := zodiacSigns[idx]
	// A private generator, not the draw's Source: the reading must not
	// depend on how many rolls the card and coupon used.
	rng := rand.New(rand.NewPCG(daySeed(cycleKey), uint64(idx)))

	category := horoscopeCategories[rng.IntN(len(horoscopeCategories))]
	messages := horoscopeTemplates[category]

	return &model.Horoscope{
		Zodiac:         sign.name,
		ZodiacEmoji:    sign.emoji,
		Category:       category,
		Message:        messages[rng.IntN(len(messages))],
		LuckyScore:     rng.IntN(5) + 1, // 1..5 stars
		ElementMessage: elementBonus[element],
	}
}

// daySeed hashes the cycle key so consecutive days are unrelated seeds.
func daySeed(cycleKey string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(cycleKey))
	return h.Sum64()
}
