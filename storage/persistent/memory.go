package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ameyrk/momentum/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-memory implementation of StorageInterface. The
// streak engine takes explicit store handles, so tests inject this instead
// of a database. Events are keyed exactly like the MongoDB unique index,
// which is what makes the upsert idempotent here too.
type MemoryStorage struct {
	mu     sync.RWMutex
	users  map[primitive.ObjectID]*models.User
	habits map[primitive.ObjectID]*models.Habit
	events map[string]*models.HabitEvent
}

// NewMemoryStorage creates a new, empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:  make(map[primitive.ObjectID]*models.User),
		habits: make(map[primitive.ObjectID]*models.Habit),
		events: make(map[string]*models.HabitEvent),
	}
}

func eventKey(userID, habitID primitive.ObjectID, day time.Time) string {
	return userID.Hex() + "|" + habitID.Hex() + "|" + day.Format("2006-01-02")
}

// Connect is a no-op for the in-memory backend.
func (m *MemoryStorage) Connect(dbName, uri string) error {
	return nil
}

// Disconnect is a no-op for the in-memory backend.
func (m *MemoryStorage) Disconnect() error {
	return nil
}

func (m *MemoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirror the unique username/email indexes.
	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return nil, ErrUserExists
		}
	}

	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now()
	copied := *user
	m.users[user.ID] = &copied
	return user, nil
}

func (m *MemoryStorage) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *MemoryStorage) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit.ID = primitive.NewObjectID()
	habit.Streak = 0
	habit.CompletedToday = false
	habit.LastCompletedAt = nil
	habit.PrevLastCompletedAt = nil
	habit.PrevStreak = 0
	habit.CreatedAt = time.Now()
	habit.UpdatedAt = habit.CreatedAt
	copied := *habit
	m.habits[habit.ID] = &copied
	return habit, nil
}

func (m *MemoryStorage) FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	habit, ok := m.habits[habitID]
	if !ok || habit.UserID != userID {
		return nil, ErrHabitNotFound
	}
	copied := *habit
	return &copied, nil
}

func (m *MemoryStorage) FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var habits []models.Habit
	for _, habit := range m.habits {
		if habit.UserID == userID {
			habits = append(habits, *habit)
		}
	}
	sort.Slice(habits, func(i, j int) bool {
		return habits[i].ID.Hex() < habits[j].ID.Hex()
	})
	return habits, nil
}

func (m *MemoryStorage) SaveHabit(ctx context.Context, habit *models.Habit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.habits[habit.ID]
	if !ok || existing.UserID != habit.UserID {
		return ErrHabitNotFound
	}
	habit.UpdatedAt = time.Now()
	copied := *habit
	m.habits[habit.ID] = &copied
	return nil
}

func (m *MemoryStorage) DeleteHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habit, ok := m.habits[habitID]
	if !ok || habit.UserID != userID {
		return nil, ErrHabitNotFound
	}
	delete(m.habits, habitID)

	for key, event := range m.events {
		if event.HabitID == habitID && event.UserID == userID {
			delete(m.events, key)
		}
	}
	return &DeleteResult{DeletedCount: 1}, nil
}

func (m *MemoryStorage) CountHabits(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.habits)), nil
}

func (m *MemoryStorage) DistinctUserIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, habit := range m.habits {
		if !seen[habit.UserID] {
			seen[habit.UserID] = true
			ids = append(ids, habit.UserID)
		}
	}
	return ids, nil
}

func (m *MemoryStorage) UpsertEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(userID, habitID, day)
	if _, ok := m.events[key]; ok {
		return nil
	}
	m.events[key] = &models.HabitEvent{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		HabitID:   habitID,
		Day:       day,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryStorage) DeleteEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.events, eventKey(userID, habitID, day))
	return nil
}

func (m *MemoryStorage) FindEvents(ctx context.Context, userID, habitID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []models.HabitEvent
	for _, event := range m.events {
		if event.UserID == userID && event.HabitID == habitID && inRange(event.Day, from, to) {
			events = append(events, *event)
		}
	}
	sortEventsDesc(events)
	return events, nil
}

func (m *MemoryStorage) FindEventsByUser(ctx context.Context, userID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []models.HabitEvent
	for _, event := range m.events {
		if event.UserID == userID && inRange(event.Day, from, to) {
			events = append(events, *event)
		}
	}
	sortEventsDesc(events)
	return events, nil
}

func inRange(day, from, to time.Time) bool {
	return !day.Before(from) && day.Before(to)
}

func sortEventsDesc(events []models.HabitEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Day.After(events[j].Day)
	})
}
