// Package reward produces the candidate outcome of a fortune open: a message,
// a collectible card, an optional coupon offer and an optional horoscope.
//
// Nothing here touches storage. All randomness comes through a
// sampler.Source so a draw can be replayed in tests.
package reward

// Card is one of the 22 collectible major arcana.
//
// THE COLLECTION:
// Every open adds one card. The first copy of a card puts it in the album
// and may earn the staff-configured bonus coupon for that card; repeats only
// raise its count, capped at model.MaxCollectibleCount. The catalog is
// static and ids are array indexes, so they must never be renumbered.
type Card struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Emoji   string `json:"emoji"`
	Meaning string `json:"meaning"`
}

// CardCount is the size of the collectible set.
const CardCount = 22

// Cards is indexed by card id.
var Cards = [CardCount]Card{
	{0, "The Fool", "🃏", "New beginnings, adventure, limitless potential"},
	{1, "The Magician", "🎩", "Creativity, willpower, focus"},
	{2, "The High Priestess", "🌙", "Intuition, inner wisdom, mystery"},
	{3, "The Empress", "👑", "Abundance, beauty, nature's blessing"},
	{4, "The Emperor", "🏛️", "Authority, stability, firm foundations"},
	{5, "The Hierophant", "📿", "Tradition, teaching, spiritual guidance"},
	{6, "The Lovers", "💕", "Love, harmony, a fateful choice"},
	{7, "The Chariot", "⚡", "Victory, momentum, strong will"},
	{8, "Strength", "🦁", "Inner strength, courage, patience"},
	{9, "The Hermit", "🏔️", "Reflection, solitude, looking inward"},
	{10, "Wheel of Fortune", "🎡", "Change, turning points, the flow of fate"},
	{11, "Justice", "⚖️", "Balance, fairness, truth"},
	{12, "The Hanged Man", "🔄", "New perspective, sacrifice, insight"},
	{13, "Death", "🦋", "Transformation, endings and new starts"},
	{14, "Temperance", "🌈", "Harmony, balance, the virtue of patience"},
	{15, "The Devil", "🔥", "Temptation, desire, breaking free"},
	{16, "The Tower", "💥", "Sudden change, release, a moment of truth"},
	{17, "The Star", "⭐", "Hope, inspiration, inner light"},
	{18, "The Moon", "🌕", "Illusion, intuition, hidden truths"},
	{19, "The Sun", "☀️", "Joy, success, vitality"},
	{20, "Judgement", "📯", "Awakening, renewal, a new chapter"},
	{21, "The World", "🌍", "Completion, achievement, the next journey"},
}

// CardByID returns the catalog entry for id.
func CardByID(id int) (Card, bool) {
	if id < 0 || id >= CardCount {
		return Card{}, false
	}
	return Cards[id], true
}

// ValidCardID reports whether id names a collectible.
func ValidCardID(id int) bool {
	return id >= 0 && id < CardCount
}
