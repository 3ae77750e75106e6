package streak

import (
	"time"

	"github.com/ameyrk/momentum/models"
)

// LookbackDays bounds the streak scan. A single missing day always resets
// the streak, so no streak can extend past a 30 day window unbroken by the
// scan itself.
const LookbackDays = 30

// location is the canonical reference timezone for calendar-day arithmetic.
// Every day truncation in the system (event keys, streak walk, completed-today
// window, chart buckets) goes through this single location so that "day"
// means the same thing everywhere.
var location = time.Local

// SetLocation sets the reference timezone used for calendar-day truncation.
// Call once at process startup, before any day arithmetic happens.
func SetLocation(loc *time.Location) {
	if loc != nil {
		location = loc
	}
}

// Location returns the configured reference timezone.
func Location() *time.Location {
	return location
}

// StartOfDay truncates t to local midnight in the reference timezone.
func StartOfDay(t time.Time) time.Time {
	t = t.In(location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, location)
}

// dayKey formats a time as its calendar-day string in the reference timezone.
func dayKey(t time.Time) string {
	return t.In(location).Format("2006-01-02")
}

// CurrentStreak derives the current consecutive-day streak from a habit's
// event days, as of the given day. The scan starts at asOf if a completion
// exists for it; otherwise a completion on the day before keeps the streak
// alive until asOf explicitly becomes a gap (a habit not completed yet today
// retains yesterday's streak length). The scan never looks forward of asOf
// and stops at the first missing day. Pure function: it never writes state.
func CurrentStreak(days []time.Time, asOf time.Time) int {
	if len(days) == 0 {
		return 0
	}

	completed := make(map[string]bool, len(days))
	for _, d := range days {
		completed[dayKey(d)] = true
	}

	cursor := StartOfDay(asOf)
	if !completed[dayKey(cursor)] {
		cursor = cursor.AddDate(0, 0, -1)
		if !completed[dayKey(cursor)] {
			return 0
		}
	}

	streak := 0
	for i := 0; i < LookbackDays; i++ {
		if !completed[dayKey(cursor)] {
			break
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}

	return streak
}

// WasCompletedToday reports whether the habit's most recent completion falls
// within [startOfToday, startOfTomorrow) in the reference timezone.
func WasCompletedToday(habit *models.Habit, now time.Time) bool {
	if habit.LastCompletedAt == nil {
		return false
	}
	startOfToday := StartOfDay(now)
	startOfTomorrow := startOfToday.AddDate(0, 0, 1)
	last := habit.LastCompletedAt.In(location)
	return !last.Before(startOfToday) && last.Before(startOfTomorrow)
}
