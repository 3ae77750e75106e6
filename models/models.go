package models

import (
	"time"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// Habit carries two kinds of state: the identity fields, and the cached
// streak fields (Streak, CompletedToday, LastCompletedAt) which are derived
// from the habit_events ledger. The cached fields are written optimistically
// on toggle and authoritatively by reconciliation; at rest Streak must equal
// what the calculator derives from the ledger.
type Habit struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID              primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name                string             `bson:"name" json:"name"`
	Color               string             `bson:"color,omitempty" json:"color,omitempty"`
	Streak              int                `bson:"streak" json:"streak"`
	CompletedToday      bool               `bson:"completed_today" json:"completed_today"`
	LastCompletedAt     *time.Time         `bson:"last_completed_at,omitempty" json:"last_completed_at,omitempty"`
	PrevLastCompletedAt *time.Time         `bson:"prev_last_completed_at,omitempty" json:"prev_last_completed_at,omitempty"`
	PrevStreak          int                `bson:"prev_streak" json:"prev_streak"`
	CreatedAt           time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

// HabitEvent marks one habit completed on one calendar day. Day is always
// truncated to the start of day in the reference timezone; the unique
// (user_id, habit_id, day) index makes upserts idempotent.
type HabitEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	HabitID   primitive.ObjectID `bson:"habit_id" json:"habit_id"`
	Day       time.Time          `bson:"day" json:"day"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// StreakDiscrepancy reports a habit whose stored streak disagrees with the
// value recalculated from the ledger. Produced by validation, which is
// read-only; reconciliation is what repairs it.
type StreakDiscrepancy struct {
	HabitID          primitive.ObjectID `json:"habit_id"`
	HabitName        string             `json:"habit_name"`
	StoredStreak     int                `json:"stored_streak"`
	CalculatedStreak int                `json:"calculated_streak"`
	Difference       int                `json:"difference"`
}

// StreakCorrection records one repair applied by reconciliation.
type StreakCorrection struct {
	HabitID        primitive.ObjectID `json:"habit_id"`
	HabitName      string             `json:"habit_name"`
	OldStreak      int                `json:"old_streak"`
	NewStreak      int                `json:"new_streak"`
	CompletedToday bool               `json:"completed_today"`
}

type StreakStats struct {
	TotalHabits          int     `json:"total_habits"`
	ActiveStreaks        int     `json:"active_streaks"`
	TotalStreakDays      int     `json:"total_streak_days"`
	LongestCurrentStreak int     `json:"longest_current_streak"`
	AverageStreak        float64 `json:"average_streak"`
}

// DayCount is one bucket of the weekly chart: a calendar day label in the
// reference timezone and the number of completions recorded on it.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type HabitWeekly struct {
	HabitID   primitive.ObjectID `json:"habit_id"`
	HabitName string             `json:"habit_name"`
	Points    []DayCount         `json:"points"`
}

type LeaderboardEntry struct {
	UserID        primitive.ObjectID `json:"user_id"`
	Name          string             `json:"name"`
	BestStreak    int                `json:"best_streak"`
	CurrentStreak int                `json:"current_streak"`
	ActiveHabits  int                `json:"active_habits"`
	TotalHabits   int                `json:"total_habits"`
}
