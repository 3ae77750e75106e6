package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ameyrk/momentum/models"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/ameyrk/momentum/streak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// testConfig uses long intervals so no recurring timer fires while a test is
// still running; everything observable happens through Start's synchronous
// catch-up or explicit calls.
func testConfig() Config {
	return Config{
		HourlyInterval: time.Hour,
		InitialDelay:   time.Hour,
	}
}

// newTestScheduler builds a scheduler over an in-memory store and returns
// the store alongside it for seeding.
func newTestScheduler(t *testing.T) (*Scheduler, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	streaks := streak.NewStreakService(store, nil, nil)
	return NewScheduler(streaks, store, testConfig()), store
}

// seedStaleHabit creates a user with one habit whose stored streak has no
// backing events, so any reconciliation pass must zero it.
func seedStaleHabit(t *testing.T, store *storage.MemoryStorage, streakValue int) (*models.User, *models.Habit) {
	t.Helper()
	ctx := context.Background()

	user, err := store.AddUser(ctx, &models.User{Username: "testuser", Email: "testuser@example.com"})
	require.NoError(t, err)
	habit, err := store.AddHabit(ctx, &models.Habit{UserID: user.ID, Name: "Meditate"})
	require.NoError(t, err)

	habit.Streak = streakValue
	require.NoError(t, store.SaveHabit(ctx, habit))
	return user, habit
}

func TestSchedulerStartStop(t *testing.T) {
	sched, _ := newTestScheduler(t)

	status := sched.GetStatus()
	assert.False(t, status.IsRunning)
	assert.Equal(t, "stopped", status.State)
	assert.Empty(t, status.ActiveTimers)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	status = sched.GetStatus()
	assert.True(t, status.IsRunning)
	assert.Equal(t, "running", status.State)
	assert.ElementsMatch(t, []string{"dailyReset", "hourlyValidation", "initialValidation"}, status.ActiveTimers)

	require.NoError(t, sched.Stop())
	status = sched.GetStatus()
	assert.False(t, status.IsRunning)
	assert.Empty(t, status.ActiveTimers)
}

func TestSchedulerDoubleStart(t *testing.T) {
	sched, _ := newTestScheduler(t)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	err := sched.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestSchedulerStopWhenStopped(t *testing.T) {
	sched, _ := newTestScheduler(t)
	assert.NoError(t, sched.Stop())
}

func TestStartCatchesUpMissedMaintenance(t *testing.T) {
	sched, store := newTestScheduler(t)
	user, habit := seedStaleHabit(t, store, 9)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	stored, err := store.FindHabit(context.Background(), habit.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Streak)
	assert.Equal(t, 9, stored.PrevStreak)

	status := sched.GetStatus()
	require.NotNil(t, status.LastMaintenanceRun)
}

func TestCatchUpRunsResetOncePerDay(t *testing.T) {
	sched, store := newTestScheduler(t)
	seedStaleHabit(t, store, 4)

	require.NoError(t, sched.Start())
	firstRun := sched.GetStatus().LastMaintenanceRun
	require.NotNil(t, firstRun)
	require.NoError(t, sched.Stop())

	// A restart on the same calendar day must not run the reset again.
	require.NoError(t, sched.Start())
	defer sched.Stop()

	secondRun := sched.GetStatus().LastMaintenanceRun
	require.NotNil(t, secondRun)
	assert.True(t, firstRun.Equal(*secondRun))
}

func TestCatchUpSkipsEmptySystem(t *testing.T) {
	sched, _ := newTestScheduler(t)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Nil(t, sched.GetStatus().LastMaintenanceRun)
}

func TestForceCatchUpReconciles(t *testing.T) {
	sched, store := newTestScheduler(t)
	ctx := context.Background()

	user, habit := seedStaleHabit(t, store, 3)

	sched.ForceCatchUp(ctx)

	stored, err := store.FindHabit(ctx, habit.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Streak)
}

func TestGetStatusNextReset(t *testing.T) {
	sched, _ := newTestScheduler(t)
	fixed := time.Date(2024, 3, 20, 15, 30, 0, 0, streak.Location())
	sched.now = func() time.Time { return fixed }

	status := sched.GetStatus()
	assert.Equal(t, streak.StartOfDay(fixed).AddDate(0, 0, 1), status.NextScheduledReset)
}

// failingStore wraps the memory store and fails habit reads for one user.
type failingStore struct {
	storage.StorageInterface
	failFor primitive.ObjectID
}

func (f *failingStore) FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	if userID == f.failFor {
		return nil, errors.New("simulated storage failure")
	}
	return f.StorageInterface.FindHabits(ctx, userID)
}

func TestRunFullValidationIsolatesFailures(t *testing.T) {
	mem := storage.NewMemoryStorage()
	ctx := context.Background()

	brokenUser, err := mem.AddUser(ctx, &models.User{Username: "broken", Email: "broken@example.com"})
	require.NoError(t, err)
	_, err = mem.AddHabit(ctx, &models.Habit{UserID: brokenUser.ID, Name: "Write"})
	require.NoError(t, err)

	healthyUser, err := mem.AddUser(ctx, &models.User{Username: "healthy", Email: "healthy@example.com"})
	require.NoError(t, err)
	healthyHabit, err := mem.AddHabit(ctx, &models.Habit{UserID: healthyUser.ID, Name: "Swim"})
	require.NoError(t, err)
	healthyHabit.Streak = 5
	require.NoError(t, mem.SaveHabit(ctx, healthyHabit))

	store := &failingStore{StorageInterface: mem, failFor: brokenUser.ID}
	streaks := streak.NewStreakService(store, nil, nil)
	sched := NewScheduler(streaks, store, testConfig())

	// The failing user is skipped; the healthy user still gets reconciled.
	require.NoError(t, sched.RunFullValidation(ctx))

	stored, err := mem.FindHabit(ctx, healthyHabit.ID, healthyUser.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Streak)
}
