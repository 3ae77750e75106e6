package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ameyrk/momentum/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the users, habits
// and habit_events collections.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing users collection
	usersCollection := m.client.Database(m.dbName).Collection("users")

	// Create an index on the "username" field. This is to ensure that every user has a unique username.
	usernameIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"username": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, usernameIndexModel)
	if err != nil {
		return fmt.Errorf("error creating username index: %v", err)
	}

	// Create an index on the "email" field. This is to ensure that every user has a unique email.
	emailIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"email": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, emailIndexModel)
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	// Initializing habits collection
	habitsCollection := m.client.Database(m.dbName).Collection("habits")

	// Create an index on the "user_id" field. This will speed up per-user habit queries
	// and the distinct user id scan the maintenance passes rely on.
	userIdIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	// Initializing habit_events collection
	eventsCollection := m.client.Database(m.dbName).Collection("habit_events")

	// Create a unique compound index on (user_id, habit_id, day). This constraint is
	// what makes event upserts idempotent: two racing toggles for the same day can
	// never leave two rows behind. It is load-bearing for correctness, not an index
	// added for speed.
	eventKeyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "habit_id", Value: 1},
			{Key: "day", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = eventsCollection.Indexes().CreateOne(ctx, eventKeyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id, habit_id and day index on habit_events: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// isDuplicateKey reports whether err is a MongoDB unique index violation (code 11000).
func isDuplicateKey(err error) bool {
	if writeException, ok := err.(mongo.WriteException); ok {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// AddUser adds a new user document to the 'users' collection.
// Returns the added user instance and an error if the insert operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	user.CreatedAt = time.Now()
	result, err := collection.InsertOne(ctx, user)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUserByID finds a user document in the 'users' collection by its id.
// Returns ErrUserNotFound if no such user exists.
func (m *MongoStorage) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id})
}

// FindUserByUsername finds a user document in the 'users' collection by its username.
// Returns ErrUserNotFound if no such user exists.
func (m *MongoStorage) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"username": username})
}

func (m *MongoStorage) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result := collection.FindOne(ctx, filter)
	user := &models.User{}
	err := result.Decode(user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// The cached streak fields always start zeroed; only toggling and
// reconciliation may move them afterwards.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.Name == "" || habit.UserID.IsZero() {
		return nil, fmt.Errorf("invalid habit fields")
	}

	habit.Streak = 0
	habit.CompletedToday = false
	habit.LastCompletedAt = nil
	habit.PrevLastCompletedAt = nil
	habit.PrevStreak = 0
	habit.CreatedAt = time.Now()
	habit.UpdatedAt = habit.CreatedAt

	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.InsertOne(ctx, habit)
	if err != nil {
		return nil, err
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds the habit with the given id owned by the given user.
// Returns ErrHabitNotFound if no such habit exists.
func (m *MongoStorage) FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result := collection.FindOne(ctx, bson.M{"_id": habitID, "user_id": userID})
	habit := &models.Habit{}
	err := result.Decode(habit)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrHabitNotFound
		}
		return nil, err
	}
	return habit, nil
}

// FindHabits finds all habit documents owned by the given user.
// Returns the found habits as a slice of Habit instances and an error if the find operation fails.
func (m *MongoStorage) FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	for cursor.Next(ctx) {
		var habit models.Habit
		err := cursor.Decode(&habit)
		if err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}

	return habits, nil
}

// SaveHabit overwrites the stored habit document with the in-memory field values.
// A single-document replace is atomic on the server, which is all the
// concurrency model requires: interleaved reconciliation writers converge
// because each re-derives the full value before writing.
func (m *MongoStorage) SaveHabit(ctx context.Context, habit *models.Habit) error {
	collection := m.client.Database(m.dbName).Collection("habits")
	habit.UpdatedAt = time.Now()
	result, err := collection.ReplaceOne(ctx, bson.M{"_id": habit.ID, "user_id": habit.UserID}, habit)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrHabitNotFound
	}
	return nil
}

// DeleteHabit deletes the habit with the given id owned by the given user,
// together with all of its ledger events.
// Returns the result of the delete operation as a DeleteResult instance and an error if the delete operation fails.
func (m *MongoStorage) DeleteHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": habitID, "user_id": userID})
	if err != nil {
		return nil, err
	}
	if result.DeletedCount == 0 {
		return nil, ErrHabitNotFound
	}

	// A habit's events have no meaning without the habit
	_, err = m.client.Database(m.dbName).Collection("habit_events").DeleteMany(ctx, bson.M{"user_id": userID, "habit_id": habitID})
	if err != nil {
		return nil, err
	}

	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// CountHabits returns the total number of habit documents across all users.
func (m *MongoStorage) CountHabits(ctx context.Context) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	count, err := collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DistinctUserIDs returns the distinct user ids present in the 'habits' collection.
// The maintenance passes iterate over this set.
func (m *MongoStorage) DistinctUserIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	values, err := collection.Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, err
	}

	var ids []primitive.ObjectID
	for _, v := range values {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UpsertEvent records a completion for the given (user, habit, day) triple.
// The operation is idempotent: if the event already exists nothing changes,
// and a duplicate-key conflict from a racing writer is treated as success.
func (m *MongoStorage) UpsertEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error {
	collection := m.client.Database(m.dbName).Collection("habit_events")
	filter := bson.M{"user_id": userID, "habit_id": habitID, "day": day}
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"habit_id":   habitID,
			"day":        day,
			"created_at": time.Now(),
		},
	}
	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two concurrent upserts for the same triple can both pass the filter
		// and race on the insert; the unique index rejects the loser. The event
		// exists either way, so the conflict is not an error.
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	return nil
}

// DeleteEvent removes the completion recorded for the given (user, habit, day)
// triple. Deleting an absent event is not an error.
func (m *MongoStorage) DeleteEvent(ctx context.Context, userID, habitID primitive.ObjectID, day time.Time) error {
	collection := m.client.Database(m.dbName).Collection("habit_events")
	_, err := collection.DeleteOne(ctx, bson.M{"user_id": userID, "habit_id": habitID, "day": day})
	return err
}

// FindEvents finds one habit's events with day in [from, to), most recent first.
func (m *MongoStorage) FindEvents(ctx context.Context, userID, habitID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error) {
	filter := bson.M{
		"user_id":  userID,
		"habit_id": habitID,
		"day":      bson.M{"$gte": from, "$lt": to},
	}
	return m.findEvents(ctx, filter)
}

// FindEventsByUser finds all of a user's events with day in [from, to), across habits.
func (m *MongoStorage) FindEventsByUser(ctx context.Context, userID primitive.ObjectID, from, to time.Time) ([]models.HabitEvent, error) {
	filter := bson.M{
		"user_id": userID,
		"day":     bson.M{"$gte": from, "$lt": to},
	}
	return m.findEvents(ctx, filter)
}

func (m *MongoStorage) findEvents(ctx context.Context, filter bson.M) ([]models.HabitEvent, error) {
	collection := m.client.Database(m.dbName).Collection("habit_events")
	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.M{"day": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []models.HabitEvent
	for cursor.Next(ctx) {
		var event models.HabitEvent
		err := cursor.Decode(&event)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}
