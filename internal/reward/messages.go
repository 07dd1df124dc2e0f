// THE MESSAGE POOL:
// A fortune message is one weighted pick from the general messages plus the
// messages for the patron's element:
//
//	general  weight 1 each, everyone
//	element  weight 3 each, only the patron's own element
//
// With ten general and two element messages a Fire patron lands on a Fire
// line 6 times in 16. Patrons without a profile element only see general
// messages.

package reward

import (
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/sampler"
)

// Message weights relative to a general message.
const (
	generalWeight = 1
	elementWeight = 3
)

var generalMessages = []string{
	"Someone at this table is about to make your night.",
	"Say yes to the next good idea you hear.",
	"A small kindness tonight comes back to you twice.",
	"Your laugh is your best accessory this evening.",
	"The conversation you almost skip is the one worth having.",
	"Luck favours the one who orders first.",
	"An old friend is thinking of you right now.",
	"Tonight rewards curiosity. Ask the question.",
	"What you let go of today makes room for something better.",
	"Trust the first instinct, then double-check the second.",
}

var elementMessages = map[string][]string{
	model.ElementWood: {
		"Your roots are strong enough to reach for something new.",
		"Growth comes quietly. Tonight it shows.",
	},
	model.ElementFire: {
		"Your spark is contagious. Share it generously.",
		"Passion opens a door you thought was locked.",
	},
	model.ElementEarth: {
		"Steady hands build the best memories.",
		"People lean on you tonight. Let them, and lean back.",
	},
	model.ElementMetal: {
		"A clear decision now saves a long detour later.",
		"Your honesty cuts through the noise. Use it kindly.",
	},
	model.ElementWater: {
		"Go with the flow and it will carry you somewhere good.",
		"Your intuition reads the room before anyone speaks.",
	},
}

// messagePool weights element-matching messages above general ones and
// leaves other elements' messages out. An unknown or empty element yields the
// general pool only.
func messagePool(element string) []sampler.Item[string] {
	pool := make([]sampler.Item[string], 0, len(generalMessages)+2)
	for _, m := range generalMessages {
		pool = append(pool, sampler.Item[string]{Value: m, Weight: generalWeight})
	}
	for _, m := range elementMessages[element] {
		pool = append(pool, sampler.Item[string]{Value: m, Weight: elementWeight})
	}
	return pool
}
