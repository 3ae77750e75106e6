package streak

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ameyrk/momentum/models"
	"github.com/ameyrk/momentum/queue"
	cache "github.com/ameyrk/momentum/storage/cache"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// milestones are the streak lengths that trigger a congratulation
// notification when first reached by a toggle.
var milestones = map[int]bool{7: true, 30: true, 100: true}

// StreakService owns every mutation of the cached streak fields. It takes
// explicit store handles rather than package globals so tests can inject an
// in-memory ledger. The cache and notification queue are optional; a nil
// value disables that concern.
type StreakService struct {
	store  storage.StorageInterface
	cache  cache.CacheInterface
	notify *queue.Queue
	now    func() time.Time
}

// NewStreakService creates a StreakService over the given persistent store.
// statsCache may be nil to disable stats caching; notifyQueue may be nil to
// disable streak notifications.
func NewStreakService(store storage.StorageInterface, statsCache cache.CacheInterface, notifyQueue *queue.Queue) *StreakService {
	return &StreakService{
		store:  store,
		cache:  statsCache,
		notify: notifyQueue,
		now:    time.Now,
	}
}

// CalculateCurrentStreak loads the habit's ledger events for the lookback
// window and derives the current streak. It reads the ledger only; the
// habit's cached fields play no part in the result.
func (s *StreakService) CalculateCurrentStreak(ctx context.Context, habit *models.Habit) (int, error) {
	now := s.now()
	startOfToday := StartOfDay(now)
	from := startOfToday.AddDate(0, 0, -LookbackDays)
	to := startOfToday.AddDate(0, 0, 1)

	events, err := s.store.FindEvents(ctx, habit.UserID, habit.ID, from, to)
	if err != nil {
		return 0, fmt.Errorf("error loading events for habit %s: %w", habit.ID.Hex(), err)
	}

	days := make([]time.Time, len(events))
	for i, event := range events {
		days[i] = event.Day
	}

	return CurrentStreak(days, now), nil
}

// ToggleHabit flips the habit's completion state for today. The direction of
// the flip comes from the ledger, not the cached CompletedToday flag: after a
// day rollover the flag can still say true while no event exists for the new
// day, and trusting it would make the first toggle of the morning an undo of
// nothing. It mutates the ledger first (idempotent upsert or delete of
// today's event), updates the cached flags, and then always re-derives the
// streak from the ledger before persisting. The streak is never adjusted by
// ±1 locally: recomputation is what keeps the cached value equal to ledger
// truth even when two toggles race each other.
func (s *StreakService) ToggleHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	habit, err := s.store.FindHabit(ctx, habitID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := StartOfDay(now)
	completedNow := false

	todayEvents, err := s.store.FindEvents(ctx, userID, habitID, today, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("error loading today's events: %w", err)
	}

	if len(todayEvents) > 0 {
		// Undo today's completion. This only ever reverses the single most
		// recent completion, never arbitrary past days.
		if err := s.store.DeleteEvent(ctx, userID, habitID, today); err != nil {
			return nil, fmt.Errorf("error deleting today's event: %w", err)
		}
		habit.CompletedToday = false
		habit.PrevLastCompletedAt = habit.LastCompletedAt
		habit.LastCompletedAt = nil
	} else {
		// Mark as completed today. The upsert is keyed on the unique
		// (user, habit, day) triple, so a duplicate request racing with
		// itself cannot create two events.
		if err := s.store.UpsertEvent(ctx, userID, habitID, today); err != nil {
			return nil, fmt.Errorf("error recording today's event: %w", err)
		}
		habit.CompletedToday = true
		habit.PrevLastCompletedAt = habit.LastCompletedAt
		habit.LastCompletedAt = &now
		completedNow = true
	}

	streak, err := s.CalculateCurrentStreak(ctx, habit)
	if err != nil {
		return nil, err
	}
	habit.Streak = streak

	if err := s.store.SaveHabit(ctx, habit); err != nil {
		return nil, fmt.Errorf("error saving habit: %w", err)
	}

	s.invalidateStats(ctx, userID)

	if completedNow && milestones[streak] {
		s.publishMilestone(ctx, habit, streak)
	}

	return habit, nil
}

// ValidateStreaks compares each of the user's stored streak fields against
// the values rederived from the ledger and reports every mismatch. A habit
// with the right streak but a stale completed-today flag is still a
// discrepancy (Difference 0): carry-forward keeps the streak number steady
// across a day rollover, so the flag can drift on its own. Read-only: it
// never repairs anything.
func (s *StreakService) ValidateStreaks(ctx context.Context, userID primitive.ObjectID) ([]models.StreakDiscrepancy, error) {
	habits, err := s.store.FindHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading habits for user %s: %w", userID.Hex(), err)
	}

	now := s.now()
	var discrepancies []models.StreakDiscrepancy
	for i := range habits {
		habit := &habits[i]
		calculated, err := s.CalculateCurrentStreak(ctx, habit)
		if err != nil {
			return nil, err
		}
		completedToday := false
		if calculated > 0 {
			completedToday = WasCompletedToday(habit, now)
		}
		if calculated != habit.Streak || completedToday != habit.CompletedToday {
			discrepancies = append(discrepancies, models.StreakDiscrepancy{
				HabitID:          habit.ID,
				HabitName:        habit.Name,
				StoredStreak:     habit.Streak,
				CalculatedStreak: calculated,
				Difference:       calculated - habit.Streak,
			})
		}
	}

	return discrepancies, nil
}

// UpdateUserStreaks reconciles every habit of the user whose stored streak
// fields disagree with the ledger: the streak and completed-today flag are
// overwritten with recalculated values and prevStreak rolls forward to the
// prior stored value. A flag-only mismatch is corrected too; after a day
// rollover carry-forward leaves the streak number unchanged while the flag
// must fall back to false. Idempotent: a second run with no intervening
// ledger change returns an empty correction list.
func (s *StreakService) UpdateUserStreaks(ctx context.Context, userID primitive.ObjectID) ([]models.StreakCorrection, error) {
	habits, err := s.store.FindHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading habits for user %s: %w", userID.Hex(), err)
	}

	now := s.now()
	var corrections []models.StreakCorrection
	for i := range habits {
		habit := &habits[i]
		calculated, err := s.CalculateCurrentStreak(ctx, habit)
		if err != nil {
			return nil, err
		}

		completedToday := false
		if calculated > 0 {
			completedToday = WasCompletedToday(habit, now)
		}

		if calculated == habit.Streak && completedToday == habit.CompletedToday {
			continue
		}

		corrections = append(corrections, models.StreakCorrection{
			HabitID:        habit.ID,
			HabitName:      habit.Name,
			OldStreak:      habit.Streak,
			NewStreak:      calculated,
			CompletedToday: completedToday,
		})

		habit.PrevStreak = habit.Streak
		habit.Streak = calculated
		habit.CompletedToday = completedToday
		if err := s.store.SaveHabit(ctx, habit); err != nil {
			return nil, fmt.Errorf("error saving habit %s: %w", habit.ID.Hex(), err)
		}
	}

	if len(corrections) > 0 {
		s.invalidateStats(ctx, userID)
	}

	return corrections, nil
}

// ResetDailyStreaks reconciles the habits of every user in the system.
// A failure for one user is logged and skipped so it cannot abort the pass
// for the remaining users. Returns the total number of corrected habits.
func (s *StreakService) ResetDailyStreaks(ctx context.Context) (int, error) {
	userIDs, err := s.store.DistinctUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing users: %w", err)
	}

	total := 0
	for _, userID := range userIDs {
		corrections, err := s.UpdateUserStreaks(ctx, userID)
		if err != nil {
			log.Printf("daily reset: error updating streaks for user %s: %v", userID.Hex(), err)
			continue
		}
		total += len(corrections)
		s.publishBrokenStreaks(ctx, userID, corrections)
	}

	return total, nil
}

// GetUserStreakStats aggregates the user's cached streak values into summary
// statistics, served from the cache when a fresh entry exists.
func (s *StreakService) GetUserStreakStats(ctx context.Context, userID primitive.ObjectID) (*models.StreakStats, error) {
	cacheKey := "streak_stats_" + userID.Hex()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			stats := &models.StreakStats{}
			raw, err := json.Marshal(cached)
			if err == nil && json.Unmarshal(raw, stats) == nil {
				return stats, nil
			}
		}
	}

	habits, err := s.store.FindHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading habits for user %s: %w", userID.Hex(), err)
	}

	stats := &models.StreakStats{TotalHabits: len(habits)}
	if len(habits) > 0 {
		for _, habit := range habits {
			if habit.Streak > 0 {
				stats.ActiveStreaks++
			}
			stats.TotalStreakDays += habit.Streak
			if habit.Streak > stats.LongestCurrentStreak {
				stats.LongestCurrentStreak = habit.Streak
			}
		}
		stats.AverageStreak = math.Round(float64(stats.TotalStreakDays)/float64(len(habits))*10) / 10
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats); err != nil {
			log.Printf("error caching streak stats for user %s: %v", userID.Hex(), err)
		}
	}

	return stats, nil
}

// invalidateStats drops the user's cached stats entry after any write that
// may have changed a streak.
func (s *StreakService) invalidateStats(ctx context.Context, userID primitive.ObjectID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, "streak_stats_"+userID.Hex()); err != nil {
		log.Printf("error invalidating streak stats for user %s: %v", userID.Hex(), err)
	}
}

// publishMilestone queues a congratulation email. Notification failures are
// logged, never surfaced: the toggle itself already succeeded.
func (s *StreakService) publishMilestone(ctx context.Context, habit *models.Habit, streak int) {
	if s.notify == nil {
		return
	}
	user, err := s.store.FindUserByID(ctx, habit.UserID)
	if err != nil {
		log.Printf("milestone notification: error loading user %s: %v", habit.UserID.Hex(), err)
		return
	}
	msg := &queue.NotificationMessage{
		Id:        fmt.Sprintf("%s_%s_%d_%s", queue.KindMilestone, habit.ID.Hex(), streak, dayKey(s.now())),
		Kind:      queue.KindMilestone,
		To:        user.Email,
		HabitName: habit.Name,
		Streak:    streak,
	}
	if err := queue.ProcessNotification(msg, s.notify); err != nil {
		log.Printf("error publishing milestone notification: %v", err)
	}
}

// publishBrokenStreaks queues a notification for every correction that
// zeroed a previously positive streak.
func (s *StreakService) publishBrokenStreaks(ctx context.Context, userID primitive.ObjectID, corrections []models.StreakCorrection) {
	if s.notify == nil || len(corrections) == 0 {
		return
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		log.Printf("broken-streak notification: error loading user %s: %v", userID.Hex(), err)
		return
	}

	for _, correction := range corrections {
		if correction.OldStreak <= 0 || correction.NewStreak != 0 {
			continue
		}
		msg := &queue.NotificationMessage{
			Id:        fmt.Sprintf("%s_%s_%s", queue.KindStreakBroken, correction.HabitID.Hex(), dayKey(s.now())),
			Kind:      queue.KindStreakBroken,
			To:        user.Email,
			HabitName: correction.HabitName,
			Streak:    correction.OldStreak,
		}
		if err := queue.ProcessNotification(msg, s.notify); err != nil {
			log.Printf("error publishing broken-streak notification: %v", err)
		}
	}
}
