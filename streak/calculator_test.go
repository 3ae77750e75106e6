package streak

import (
	"testing"
	"time"

	"github.com/ameyrk/momentum/models"
	"github.com/stretchr/testify/assert"
)

// fixedNow is an arbitrary mid-afternoon reference instant used across the
// calculator tests.
var fixedNow = time.Date(2024, 3, 20, 15, 30, 0, 0, time.Local)

// daysBack builds completion days counting backwards from fixedNow's day:
// offsets of 0 means today, 1 means yesterday, and so on.
func daysBack(offsets ...int) []time.Time {
	days := make([]time.Time, len(offsets))
	for i, offset := range offsets {
		days[i] = StartOfDay(fixedNow).AddDate(0, 0, -offset)
	}
	return days
}

func TestCurrentStreakEmpty(t *testing.T) {
	assert.Equal(t, 0, CurrentStreak(nil, fixedNow))
	assert.Equal(t, 0, CurrentStreak([]time.Time{}, fixedNow))
}

func TestCurrentStreakCountsConsecutiveDays(t *testing.T) {
	assert.Equal(t, 1, CurrentStreak(daysBack(0), fixedNow))
	assert.Equal(t, 3, CurrentStreak(daysBack(0, 1, 2), fixedNow))
	assert.Equal(t, 5, CurrentStreak(daysBack(0, 1, 2, 3, 4), fixedNow))
}

func TestCurrentStreakCarriesForwardWhenTodayIncomplete(t *testing.T) {
	// Nothing recorded today, but yesterday and the two days before are
	// complete: the streak survives until today becomes a real gap.
	assert.Equal(t, 3, CurrentStreak(daysBack(1, 2, 3), fixedNow))
}

func TestCurrentStreakZeroWhenTodayAndYesterdayIncomplete(t *testing.T) {
	// The most recent completion was the day before yesterday, so the chain
	// to today is broken regardless of how long the old run was.
	assert.Equal(t, 0, CurrentStreak(daysBack(2, 3, 4, 5), fixedNow))
}

func TestCurrentStreakStopsAtGap(t *testing.T) {
	// Completions today, yesterday, then a gap, then more history. Only the
	// run that reaches the current day counts.
	assert.Equal(t, 2, CurrentStreak(daysBack(0, 1, 3, 4, 5), fixedNow))
}

func TestCurrentStreakIgnoresFutureDays(t *testing.T) {
	tomorrow := StartOfDay(fixedNow).AddDate(0, 0, 1)
	days := append(daysBack(0, 1), tomorrow)
	assert.Equal(t, 2, CurrentStreak(days, fixedNow))
}

func TestCurrentStreakBoundedByLookback(t *testing.T) {
	offsets := make([]int, LookbackDays+10)
	for i := range offsets {
		offsets[i] = i
	}
	assert.Equal(t, LookbackDays, CurrentStreak(daysBack(offsets...), fixedNow))
}

func TestCurrentStreakDuplicateDaysCountOnce(t *testing.T) {
	assert.Equal(t, 2, CurrentStreak(daysBack(0, 0, 1, 1), fixedNow))
}

func TestStartOfDayTruncates(t *testing.T) {
	start := StartOfDay(fixedNow)
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 0, start.Minute())
	assert.Equal(t, fixedNow.Day(), start.Day())
}

func TestWasCompletedToday(t *testing.T) {
	habit := &models.Habit{}
	assert.False(t, WasCompletedToday(habit, fixedNow))

	earlier := fixedNow.Add(-2 * time.Hour)
	habit.LastCompletedAt = &earlier
	assert.True(t, WasCompletedToday(habit, fixedNow))

	yesterday := fixedNow.AddDate(0, 0, -1)
	habit.LastCompletedAt = &yesterday
	assert.False(t, WasCompletedToday(habit, fixedNow))
}
