package streak

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ameyrk/momentum/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// lastSevenDaysRange returns [start, end) covering the last 7 calendar days
// in the reference timezone, ending at the start of tomorrow.
func (s *StreakService) lastSevenDaysRange() (time.Time, time.Time) {
	end := StartOfDay(s.now()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -7)
	return start, end
}

// GetWeeklyStats buckets the user's completions over the last 7 calendar
// days. Every day appears in the result, zero-count days included, so chart
// consumers get a fixed set of labels.
func (s *StreakService) GetWeeklyStats(ctx context.Context, userID primitive.ObjectID) ([]models.DayCount, error) {
	start, end := s.lastSevenDaysRange()

	events, err := s.store.FindEventsByUser(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("error loading events for user %s: %w", userID.Hex(), err)
	}

	counts := make(map[string]int)
	for _, event := range events {
		counts[dayKey(event.Day)]++
	}

	days := make([]models.DayCount, 0, 7)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		key := dayKey(d)
		days = append(days, models.DayCount{Day: key, Count: counts[key]})
	}

	return days, nil
}

// GetWeeklyByHabit buckets the user's completions over the last 7 calendar
// days, grouped per habit. Habits with no completions in the window are
// omitted, matching the chart's expectations.
func (s *StreakService) GetWeeklyByHabit(ctx context.Context, userID primitive.ObjectID) ([]models.HabitWeekly, error) {
	start, end := s.lastSevenDaysRange()

	events, err := s.store.FindEventsByUser(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("error loading events for user %s: %w", userID.Hex(), err)
	}

	habits, err := s.store.FindHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading habits for user %s: %w", userID.Hex(), err)
	}
	nameByID := make(map[primitive.ObjectID]string, len(habits))
	for _, habit := range habits {
		nameByID[habit.ID] = habit.Name
	}

	grouped := make(map[primitive.ObjectID]map[string]int)
	for _, event := range events {
		if grouped[event.HabitID] == nil {
			grouped[event.HabitID] = make(map[string]int)
		}
		grouped[event.HabitID][dayKey(event.Day)]++
	}

	items := make([]models.HabitWeekly, 0, len(grouped))
	for habitID, counts := range grouped {
		name, ok := nameByID[habitID]
		if !ok {
			name = "Habit"
		}

		points := make([]models.DayCount, 0, len(counts))
		for day, count := range counts {
			points = append(points, models.DayCount{Day: day, Count: count})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

		items = append(items, models.HabitWeekly{
			HabitID:   habitID,
			HabitName: name,
			Points:    points,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].HabitID.Hex() < items[j].HabitID.Hex() })

	return items, nil
}

// GetLeaderboard returns the user's own streak summary. The cached streaks
// are reconciled against the ledger first so the report never shows stale
// values. Multi-user aggregation is out of scope; the board holds one entry.
func (s *StreakService) GetLeaderboard(ctx context.Context, userID primitive.ObjectID) ([]models.LeaderboardEntry, error) {
	if _, err := s.UpdateUserStreaks(ctx, userID); err != nil {
		return nil, err
	}

	habits, err := s.store.FindHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading habits for user %s: %w", userID.Hex(), err)
	}

	entry := models.LeaderboardEntry{
		UserID:      userID,
		Name:        "You",
		TotalHabits: len(habits),
	}
	for _, habit := range habits {
		if habit.Streak > entry.BestStreak {
			entry.BestStreak = habit.Streak
		}
		if habit.PrevStreak > entry.BestStreak {
			entry.BestStreak = habit.PrevStreak
		}
		entry.CurrentStreak += habit.Streak
		if habit.Streak > 0 {
			entry.ActiveHabits++
		}
	}

	if user, err := s.store.FindUserByID(ctx, userID); err == nil {
		entry.Name = user.Username
	}

	return []models.LeaderboardEntry{entry}, nil
}
