package model

import "time"

// Checkin is the per-cycle record for one patron, keyed by (CycleKey, Handle).
//
// FortuneOpened flips to true exactly once per key for ordinary users; the
// Fortune snapshot written alongside it is what later reads return.
// MatchedWith is an advisory handle with no referential integrity.
type Checkin struct {
	CycleKey      string         `json:"cycleKey"`
	Handle        string         `json:"handle"`
	CheckedInAt   time.Time      `json:"checkedInAt"`
	FortuneOpened bool           `json:"fortuneOpened"`
	Fortune       *FortuneResult `json:"fortune,omitempty"`
	MatchedWith   string         `json:"matchedWith,omitempty"`
}

// MatchCandidate is another patron checked in for the same cycle, as offered
// to a patron picking a match. It never carries the credential hash.
type MatchCandidate struct {
	Handle      string    `json:"handle"`
	Profile     Profile   `json:"profile"`
	CheckedInAt time.Time `json:"checkedInAt"`
}
