package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDailyTarget_Basic(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-03-08 is a Sunday before the US spring-forward (2026-03-08 02:00 -> 03:00).
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, ny)
	svc := New(Frozen{At: now})

	target, err := svc.NextDailyTarget("17:00", "America/New_York")
	require.NoError(t, err)
	local := target.In(ny)
	assert.Equal(t, 17, local.Hour())
	assert.Equal(t, 7, local.Day())
}

func TestNextDailyTarget_RollsToTomorrowWhenPast(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2026, 3, 7, 18, 0, 0, 0, ny)
	svc := New(Frozen{At: now})

	target, err := svc.NextDailyTarget("17:00", "America/New_York")
	require.NoError(t, err)
	local := target.In(ny)
	assert.Equal(t, 8, local.Day())
}

func TestTodayTarget_SpringForwardRollsPastGap(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-03-08 02:00 local springs forward to 03:00; 02:30 never happens.
	now := time.Date(2026, 3, 8, 3, 0, 5, 0, ny)
	svc := New(Frozen{At: now})

	target, err := svc.TodayTarget("02:30", "America/New_York")
	require.NoError(t, err)
	local := target.In(ny)
	assert.Equal(t, 3, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.Equal(t, 8, local.Day())

	// Within 30s of the gap's first valid instant, so the reset scheduler's
	// window check (internal/reset.checkAndReset) would fire here.
	assert.LessOrEqual(t, absDuration(now.Sub(target)), 30*time.Second)
}

func TestNextDailyTarget_SpringForwardRollsPastGap(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2026, 3, 7, 10, 0, 0, 0, ny)
	svc := New(Frozen{At: now})

	target, err := svc.NextDailyTarget("02:30", "America/New_York")
	require.NoError(t, err)
	local := target.In(ny)
	assert.Equal(t, 8, local.Day())
	assert.Equal(t, 3, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestTodayTarget_FallBackResolvesToSingleInstant(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-11-01: local 01:00-02:00 occurs twice. Both callers below ask for
	// the ambiguous 01:30 from a different side of the repeat and must agree
	// on the same absolute instant.
	firstOccurrence := time.Date(2026, 11, 1, 1, 30, 5, 0, ny)
	secondOccurrence := firstOccurrence.Add(time.Hour)

	targetFromFirst, err := New(Frozen{At: firstOccurrence}).TodayTarget("01:30", "America/New_York")
	require.NoError(t, err)
	targetFromSecond, err := New(Frozen{At: secondOccurrence}).TodayTarget("01:30", "America/New_York")
	require.NoError(t, err)

	assert.True(t, targetFromFirst.Equal(targetFromSecond), "ambiguous local time must resolve to one instant regardless of which side of the repeat asks")

	// The second occurrence's tick is a real hour away from that instant,
	// well outside any ±30s reset window.
	assert.Greater(t, absDuration(secondOccurrence.Sub(targetFromSecond)), 30*time.Second)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func TestWithinWindow(t *testing.T) {
	svc := New(Real{})
	loc, _ := time.LoadLocation("America/New_York")
	inside := time.Date(2026, 7, 29, 10, 0, 0, 0, loc)
	outside := time.Date(2026, 7, 29, 20, 0, 0, 0, loc)

	ok, err := svc.WithinWindow(inside, "America/New_York", "09:30", "16:00", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.WithinWindow(outside, "America/New_York", "09:30", "16:00", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinWindow_WeekdayMask(t *testing.T) {
	svc := New(Real{})
	loc, _ := time.LoadLocation("America/New_York")
	// 2026-07-29 is a Wednesday.
	wed := time.Date(2026, 7, 29, 10, 0, 0, 0, loc)

	ok, err := svc.WithinWindow(wed, "America/New_York", "09:30", "16:00", []time.Weekday{time.Saturday, time.Sunday})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionDate(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, loc) // 3am local
	svc := New(Frozen{At: now})
	d, err := svc.SessionDate("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02", d)
}
