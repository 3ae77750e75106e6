package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ameyrk/momentum/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrUserNotFound is returned when no user matches the given identifier.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when adding a user whose username or email is
// already taken.
var ErrUserExists = errors.New("a user with that username or email already exists")

// ErrHabitNotFound is returned when no habit matches the given identifier
// for the given user.
var ErrHabitNotFound = errors.New("habit not found")

// DeleteResult represents the result of a deletion operation,
// specifically the count of records deleted.
type DeleteResult struct {
	DeletedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. The habit methods operate on the cached habit
// records; the event methods operate on the append-only completion ledger.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user by their id.
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// Finds a user by their username.
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Adds a new habit with zeroed streak state.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds a single habit owned by the given user.
	FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error)
	// Finds all habits owned by the given user.
	FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error)
	// Persists the habit's current field values, cached streak state included.
	SaveHabit(ctx context.Context, habit *models.Habit) error
	// Deletes a habit and every ledger event recorded for it.
	DeleteHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*DeleteResult, error)
	// Returns the total number of habits across all users.
	CountHabits(ctx context.Context) (int64, error)
	// Returns the distinct user ids present in the habits collection.
	DistinctUserIDs(ctx context.Context) ([]primitive.ObjectID, error)

	// Records a completion for the given day. Idempotent: a duplicate upsert
	// for the same (user, habit, day) leaves exactly one event behind.
	UpsertEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error
	// Removes the completion recorded for the given day, if any.
	DeleteEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error
	// Finds one habit's events with day in [from, to).
	FindEvents(ctx context.Context, userID, habitID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error)
	// Finds all of a user's events with day in [from, to), across habits.
	FindEventsByUser(ctx context.Context, userID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	store := NewMongoStorage()
	err := store.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
