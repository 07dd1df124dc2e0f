// Package cycle computes the venue's business-day key.
//
// The venue's "day" runs from the rollover hour (21:00 local) to one second
// before the same hour on the next calendar day. Every per-day reset
// (check-ins, fortune draws, staff code) is keyed by this value rather than
// by the calendar date.
//
// The target zone has no DST, so local time is always instant + fixed offset.
package cycle

import (
	"fmt"
	"time"
)

const (
	// DefaultUTCOffsetMinutes is KST (UTC+9).
	DefaultUTCOffsetMinutes = 540
	// DefaultRolloverHour is the local hour at which a new business day starts.
	DefaultRolloverHour = 21

	keyLayout = "2006-01-02"
)

// Key returns the cycle key (YYYY-MM-DD) for instant t.
//
// Local time is t shifted by utcOffsetMinutes. When the local hour is before
// rolloverHour the key is the previous local date, otherwise the local date.
//
// WORKED EXAMPLE (KST, rollover 21):
//
//	2026-02-20 20:59:59 KST  → "2026-02-19"  last second of the old night
//	2026-02-20 21:00:00 KST  → "2026-02-20"  doors open
//	2026-02-21 03:00:00 KST  → "2026-02-20"  still the same night
//
// A night out past midnight stays one cycle, which is why the key is not
// the calendar date.
func Key(t time.Time, utcOffsetMinutes, rolloverHour int) string {
	// Shift the instant and read it as UTC, which avoids building a
	// *time.Location for every call.
	local := t.UTC().Add(time.Duration(utcOffsetMinutes) * time.Minute)
	if local.Hour() < rolloverHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(keyLayout)
}

// Clock binds an offset and rollover hour to a time source.
type Clock struct {
	UTCOffsetMinutes int
	RolloverHour     int
	// Now defaults to time.Now when nil. Tests replace it.
	Now func() time.Time
}

// NewClock returns a Clock using the real time source.
func NewClock(utcOffsetMinutes, rolloverHour int) *Clock {
	return &Clock{
		UTCOffsetMinutes: utcOffsetMinutes,
		RolloverHour:     rolloverHour,
		Now:              time.Now,
	}
}

// Default returns the venue clock: UTC+9, 21:00 rollover.
func Default() *Clock {
	return NewClock(DefaultUTCOffsetMinutes, DefaultRolloverHour)
}

// now lets a zero Clock{} work without NewClock.
func (c *Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// CurrentTime returns the clock's notion of now.
func (c *Clock) CurrentTime() time.Time {
	return c.now()
}

// Current returns the key of the cycle that is open right now.
func (c *Clock) Current() string {
	return Key(c.now(), c.UTCOffsetMinutes, c.RolloverHour)
}

// KeyAt returns the cycle key for t.
func (c *Clock) KeyAt(t time.Time) string {
	return Key(t, c.UTCOffsetMinutes, c.RolloverHour)
}

// Location returns the fixed zone this clock models.
func (c *Clock) Location() *time.Location {
	// Named like "UTC+0900". The scheduler hands this to cron so "0 21 * * *"
	// fires at 21:00 venue time whatever the host's zone.
	return time.FixedZone(fmt.Sprintf("UTC%+03d%02d", c.UTCOffsetMinutes/60, abs(c.UTCOffsetMinutes%60)), c.UTCOffsetMinutes*60)
}

// NextRollover returns the first rollover instant strictly after t.
func (c *Clock) NextRollover(t time.Time) time.Time {
	loc := c.Location()
	local := t.In(loc)
	// Today's rollover, or tomorrow's if today's has already passed.
	next := time.Date(local.Year(), local.Month(), local.Day(), c.RolloverHour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
