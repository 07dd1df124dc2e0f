// Package sampler implements weighted random selection.
//
// Two draws are supported:
//
//   - Pick: classic weighted sampling. A value is drawn uniformly from
//     [0, total) and the items are walked accumulating weight; the first item
//     whose cumulative weight exceeds the value wins.
//   - Threshold: each item carries an independent probability and a single
//     roll in [0, 1) is compared against the running sum. Whatever probability
//     mass is left over means "nothing", so the sum need not reach 1.
//
// Randomness comes from a Source so tests can inject a deterministic one.
package sampler

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// ZeroPolicy decides what Pick returns when every weight is zero.
type ZeroPolicy int

const (
	// FallbackLast returns the last item.
	FallbackLast ZeroPolicy = iota
	// FallbackUniform picks uniformly among all items.
	FallbackUniform
)

// String implements fmt.Stringer, so %v and slog print the policy name.
func (p ZeroPolicy) String() string {
	switch p {
	case FallbackUniform:
		return "uniform"
	default:
		return "last"
	}
}

// ParseZeroPolicy maps "uniform" to FallbackUniform and anything else to
// FallbackLast.
func ParseZeroPolicy(s string) ZeroPolicy {
	if s == "uniform" {
		return FallbackUniform
	}
	return FallbackLast
}

// Item is one candidate with its weight (Pick) or probability (Threshold).
//
// GENERICS:
// [T any] makes Item, Pick and Threshold work for any value type. The draw
// picks card ids (int), messages (string) and coupon offers (a struct) with
// the same code, and the compiler checks each use.
type Item[T any] struct {
	Value  T
	Weight float64
}

// NewSource returns a goroutine-safe Source seeded from the runtime
// generator.
func NewSource() Source {
	return &lockedSource{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// lockedSource serialises access: *rand.Rand is not safe for concurrent
// use, and every request draws from the same Source.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// usable clamps negative, NaN and infinite weights to zero.
func usable(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0
	}
	return w
}

// Pick draws one item proportionally to its weight. ok is false only when
// items is empty.
func Pick[T any](src Source, items []Item[T], policy ZeroPolicy) (value T, ok bool) {
	if len(items) == 0 {
		return value, false
	}

	var total float64
	for _, it := range items {
		total += usable(it.Weight)
	}

	// Every weight is zero (or unusable): the roll has nothing to land on.
	if total <= 0 {
		if policy == FallbackUniform {
			// Float64 is < 1, but a scripted Source in a test may return
			// exactly 1.
			idx := int(src.Float64() * float64(len(items)))
			if idx >= len(items) {
				idx = len(items) - 1
			}
			return items[idx].Value, true
		}
		return items[len(items)-1].Value, true
	}

	// Scale the roll instead of normalising every weight.
	//
	//	weights  2    1    1       total 4
	//	cum      2    3    4
	//	r=2.5         ^ second item wins
	r := src.Float64() * total
	var cum float64
	for _, it := range items {
		w := usable(it.Weight)
		if w == 0 {
			continue
		}
		cum += w
		if r < cum {
			return it.Value, true
		}
	}
	// Floating-point rounding can leave r just above the final sum.
	for i := len(items) - 1; i >= 0; i-- {
		if usable(items[i].Weight) > 0 {
			return items[i].Value, true
		}
	}
	return items[len(items)-1].Value, true
}

// Threshold rolls once and walks the items accumulating their probabilities.
// The first item whose running sum exceeds the roll wins; if the roll lands
// past every item, ok is false ("no reward").
func Threshold[T any](src Source, items []Item[T]) (value T, ok bool) {
	if len(items) == 0 {
		return value, false
	}

	// No scaling here: probabilities are absolute.
	//
	//	p        0.035  0.035  0.01   (sum 0.08)
	//	cum      0.035  0.07   0.08
	//	roll=0.5                      → past every item, no reward
	roll := src.Float64()
	var cum float64
	for _, it := range items {
		p := usable(it.Weight)
		if p == 0 {
			continue
		}
		cum += p
		if roll < cum {
			return it.Value, true
		}
	}
	return value, false
}
