package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ameyrk/momentum/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func day(offset int) time.Time {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start.AddDate(0, 0, offset)
}

func seedUserAndHabit(t *testing.T, store *MemoryStorage) (*models.User, *models.Habit) {
	t.Helper()
	ctx := context.Background()

	user, err := store.AddUser(ctx, &models.User{Username: "testuser", Email: "testuser@example.com"})
	require.NoError(t, err)
	habit, err := store.AddHabit(ctx, &models.Habit{UserID: user.ID, Name: "Run"})
	require.NoError(t, err)
	return user, habit
}

func TestUpsertEventIsIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	user, habit := seedUserAndHabit(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(0)))
	}

	events, err := store.FindEvents(ctx, user.ID, habit.ID, day(-1), day(1))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeleteEventAbsentIsNoOp(t *testing.T) {
	store := NewMemoryStorage()
	user, habit := seedUserAndHabit(t, store)
	ctx := context.Background()

	assert.NoError(t, store.DeleteEvent(ctx, user.ID, habit.ID, day(0)))

	require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(0)))
	require.NoError(t, store.DeleteEvent(ctx, user.ID, habit.ID, day(0)))

	events, err := store.FindEvents(ctx, user.ID, habit.ID, day(-1), day(1))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFindEventsRangeIsHalfOpen(t *testing.T) {
	store := NewMemoryStorage()
	user, habit := seedUserAndHabit(t, store)
	ctx := context.Background()

	for offset := -3; offset <= 0; offset++ {
		require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(offset)))
	}

	events, err := store.FindEvents(ctx, user.ID, habit.ID, day(-2), day(0))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Day.After(events[1].Day))
}

func TestFindEventsByUserSpansHabits(t *testing.T) {
	store := NewMemoryStorage()
	user, habit := seedUserAndHabit(t, store)
	ctx := context.Background()

	second, err := store.AddHabit(ctx, &models.Habit{UserID: user.ID, Name: "Read"})
	require.NoError(t, err)

	require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(0)))
	require.NoError(t, store.UpsertEvent(ctx, user.ID, second.ID, day(0)))

	events, err := store.FindEventsByUser(ctx, user.ID, day(-1), day(1))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestDeleteHabitCascadesEvents(t *testing.T) {
	store := NewMemoryStorage()
	user, habit := seedUserAndHabit(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(0)))
	require.NoError(t, store.UpsertEvent(ctx, user.ID, habit.ID, day(-1)))

	result, err := store.DeleteHabit(ctx, habit.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)

	events, err := store.FindEventsByUser(ctx, user.ID, day(-7), day(1))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = store.FindHabit(ctx, habit.ID, user.ID)
	assert.ErrorIs(t, err, ErrHabitNotFound)
}

func TestSaveHabitUnknownHabit(t *testing.T) {
	store := NewMemoryStorage()
	user, _ := seedUserAndHabit(t, store)

	ghost := &models.Habit{ID: primitive.NewObjectID(), UserID: user.ID, Name: "Ghost"}
	assert.ErrorIs(t, store.SaveHabit(context.Background(), ghost), ErrHabitNotFound)
}

func TestDistinctUserIDs(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	first, err := store.AddUser(ctx, &models.User{Username: "first", Email: "first@example.com"})
	require.NoError(t, err)
	second, err := store.AddUser(ctx, &models.User{Username: "second", Email: "second@example.com"})
	require.NoError(t, err)

	_, err = store.AddHabit(ctx, &models.Habit{UserID: first.ID, Name: "A"})
	require.NoError(t, err)
	_, err = store.AddHabit(ctx, &models.Habit{UserID: first.ID, Name: "B"})
	require.NoError(t, err)
	_, err = store.AddHabit(ctx, &models.Habit{UserID: second.ID, Name: "C"})
	require.NoError(t, err)

	ids, err := store.DistinctUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []primitive.ObjectID{first.ID, second.ID}, ids)
}

func TestAddUserRejectsDuplicates(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	_, err := store.AddUser(ctx, &models.User{Username: "testuser", Email: "testuser@example.com"})
	require.NoError(t, err)

	_, err = store.AddUser(ctx, &models.User{Username: "testuser", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = store.AddUser(ctx, &models.User{Username: "other", Email: "testuser@example.com"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestFindUserByUsername(t *testing.T) {
	store := NewMemoryStorage()
	user, _ := seedUserAndHabit(t, store)
	ctx := context.Background()

	found, err := store.FindUserByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = store.FindUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
