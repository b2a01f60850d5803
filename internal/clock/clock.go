// Package clock provides the engine's one source of wall-clock and
// monotonic time, and the timezone-aware conversions the reset scheduler
// and session_block_outside rule depend on.
//
// Nothing here reaches for a third-party library: Go's standard time
// package already ships the IANA tzdata conversions, DST-safe instant
// arithmetic, and a monotonic clock reading baked into every time.Time —
// there is no pack dependency that specializes any of this, so this
// package is stdlib-only by design, not by omission.
package clock

import (
	"fmt"
	"time"
)

// Clock is the engine's time source. Production code uses the real clock;
// tests inject Frozen to pin "now" without sleeping.
type Clock interface {
	Now() time.Time
}

// Real reads the operating system's wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Frozen returns a fixed instant, used by tests that need deterministic
// DST-transition or reset-window behavior.
type Frozen struct {
	At time.Time
}

func (f Frozen) Now() time.Time { return f.At }

// Service resolves named timezones once and exposes the conversions the
// reset scheduler (C7) and session_block_outside rule (C11) need.
type Service struct {
	clock Clock
	zones map[string]*time.Location
}

// New creates a Service backed by the given Clock (use Real{} in
// production).
func New(c Clock) *Service {
	return &Service{
		clock: c,
		zones: make(map[string]*time.Location),
	}
}

// Now returns the current instant in UTC. Store writes and lockout
// expires_at values always use this.
func (s *Service) Now() time.Time {
	return s.clock.Now().UTC()
}

// Location resolves and caches a named IANA timezone (e.g.
// "America/New_York"). Returns an error if the zone is unknown — callers
// treat that as a ConfigInvalid condition at load time.
func (s *Service) Location(name string) (*time.Location, error) {
	if loc, ok := s.zones[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	s.zones[name] = loc
	return loc, nil
}

// InZone converts an instant into the named zone's wall-clock time.
func (s *Service) InZone(t time.Time, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

// SessionDate returns the calendar date (in the given zone) that "now"
// belongs to — the key used by the P&L tracker and reset ledger.
func (s *Service) SessionDate(zone string) (string, error) {
	local, err := s.InZone(s.Now(), zone)
	if err != nil {
		return "", err
	}
	return local.Format("2006-01-02"), nil
}

// resolveDailyTarget builds the instant for local wall-clock hour:minute
// on the given date in loc.
//
// A bare time.Date is not DST-correct for a spring-forward gap: when the
// requested local time falls in the nonexistent hour (e.g. 02:30 on a
// "spring forward at 02:00" day), Go resolves it using the offset that
// was in effect just *before* the transition, which normalizes the
// result backward in local time rather than forward past the gap — e.g.
// time.Date(2026, 3, 8, 2, 30, 0, 0, America/New_York) comes back as
// 2026-03-08 01:30:00 -0500 (EST), not something in the 03:00 EDT range.
// Detect that by checking whether the constructed value's Hour/Minute
// roundtrip back to what was asked for; if they don't, the zone period
// time.Date picked is the pre-transition one, and its end boundary
// (ZoneBounds) is exactly the instant the clock springs forward to — the
// first valid local instant after the gap.
//
// A fall-back ambiguity (the local hour that repeats) needs no special
// case here: time.Date deterministically resolves a repeated local time
// to the same instant every time it's asked, so two callers asking for
// the same "HH:MM" during a fall-back day always agree on one instant,
// and the reset scheduler's ±30s window (internal/reset) only ever
// matches it once.
func resolveDailyTarget(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	target := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if target.Hour() == hour && target.Minute() == minute {
		return target
	}
	_, end := target.ZoneBounds()
	return end
}

// NextDailyTarget computes the next occurrence of a local wall-clock
// "HH:MM" in the given zone, at or after the current instant.
func (s *Service) NextDailyTarget(hhmm string, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	var hour, minute int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("parse reset time %q: %w", hhmm, err)
	}

	now := s.Now().In(loc)
	target := resolveDailyTarget(now.Year(), now.Month(), now.Day(), hour, minute, loc)
	if target.Before(now) {
		target = resolveDailyTarget(now.Year(), now.Month(), now.Day()+1, hour, minute, loc)
	}
	return target.UTC(), nil
}

// TodayTarget computes the instant that corresponds to local wall-clock
// "HH:MM" on the current calendar date in zone, without rolling forward
// if that instant has already passed today. The reset scheduler (spec
// §4.7) uses this, not NextDailyTarget, because it needs to recognize
// "today's 17:00" even a few seconds after it has passed, to fire the
// ±30s window check.
func (s *Service) TodayTarget(hhmm string, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	var hour, minute int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("parse reset time %q: %w", hhmm, err)
	}
	now := s.Now().In(loc)
	target := resolveDailyTarget(now.Year(), now.Month(), now.Day(), hour, minute, loc)
	return target.UTC(), nil
}

// WithinWindow reports whether t (any timezone) falls within [start, end)
// local wall-clock time in zone, honoring an optional weekday mask. An
// empty mask means every day is eligible.
func (s *Service) WithinWindow(t time.Time, zone, start, end string, weekdays []time.Weekday) (bool, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return false, err
	}
	local := t.In(loc)

	if len(weekdays) > 0 {
		allowed := false
		for _, d := range weekdays {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
	}

	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(start, "%d:%d", &sh, &sm); err != nil {
		return false, fmt.Errorf("parse window start %q: %w", start, err)
	}
	if _, err := fmt.Sscanf(end, "%d:%d", &eh, &em); err != nil {
		return false, fmt.Errorf("parse window end %q: %w", end, err)
	}

	minutesNow := local.Hour()*60 + local.Minute()
	minutesStart := sh*60 + sm
	minutesEnd := eh*60 + em

	if minutesStart <= minutesEnd {
		return minutesNow >= minutesStart && minutesNow < minutesEnd, nil
	}
	// Window wraps midnight (e.g. 18:00-09:00).
	return minutesNow >= minutesStart || minutesNow < minutesEnd, nil
}
