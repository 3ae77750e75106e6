package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ameyrk/momentum/scheduler"
	"github.com/ameyrk/momentum/server/auth"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/ameyrk/momentum/streak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func mustObjectID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

// newTestServer wires a router over in-memory services and returns it with
// its backing store.
func newTestServer(t *testing.T) (http.Handler, *storage.MemoryStorage) {
	t.Helper()

	store := storage.NewMemoryStorage()
	auth.InitAuth(store, "test_signing_key")

	streaks := streak.NewStreakService(store, nil, nil)
	sched := scheduler.NewScheduler(streaks, store, scheduler.Config{
		HourlyInterval: time.Hour,
		InitialDelay:   time.Hour,
	})

	router := NewRouter(Dependencies{
		Store:     store,
		Streaks:   streaks,
		Scheduler: sched,
	})
	return router, store
}

// doJSON performs a JSON request against the router and decodes the response
// body into a generic map.
func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	decoded := map[string]interface{}{}
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder.Code, decoded
}

// registerUser registers a test account and returns its auth token.
func registerUser(t *testing.T, router http.Handler) string {
	t.Helper()

	status, body := doJSON(t, router, "POST", "/api/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "testuser@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, status)

	token, ok := body["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	router, _ := newTestServer(t)
	registerUser(t, router)

	status, body := doJSON(t, router, "POST", "/api/auth/login", "", map[string]string{
		"username": "testuser",
		"password": "password123",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["token"])

	status, _ = doJSON(t, router, "POST", "/api/auth/login", "", map[string]string{
		"username": "testuser",
		"password": "wrongpassword1",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	router, _ := newTestServer(t)
	registerUser(t, router)

	status, body := doJSON(t, router, "POST", "/api/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "elsewhere@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, body["error"])
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	router, _ := newTestServer(t)

	status, _ := doJSON(t, router, "POST", "/api/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "testuser@example.com",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHabitsRequireAuth(t *testing.T) {
	router, _ := newTestServer(t)

	status, _ := doJSON(t, router, "GET", "/api/habits", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, router, "GET", "/api/habits", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHabitLifecycle(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerUser(t, router)

	// Create
	status, body := doJSON(t, router, "POST", "/api/habits", token, map[string]string{
		"name":  "Morning run",
		"color": "#ff0000",
	})
	require.Equal(t, http.StatusCreated, status)
	habit := body["habit"].(map[string]interface{})
	habitID := habit["id"].(string)
	assert.Equal(t, "Morning run", habit["name"])
	assert.Equal(t, float64(0), habit["streak"])

	// Toggle on
	status, body = doJSON(t, router, "POST", "/api/habits/"+habitID+"/toggle", token, nil)
	require.Equal(t, http.StatusOK, status)
	habit = body["habit"].(map[string]interface{})
	assert.Equal(t, true, habit["completed_today"])
	assert.Equal(t, float64(1), habit["streak"])

	// Toggle off undoes today's completion
	status, body = doJSON(t, router, "POST", "/api/habits/"+habitID+"/toggle", token, nil)
	require.Equal(t, http.StatusOK, status)
	habit = body["habit"].(map[string]interface{})
	assert.Equal(t, false, habit["completed_today"])
	assert.Equal(t, float64(0), habit["streak"])

	// Rename
	status, body = doJSON(t, router, "PATCH", "/api/habits/"+habitID, token, map[string]string{
		"name": "Evening run",
	})
	require.Equal(t, http.StatusOK, status)
	habit = body["habit"].(map[string]interface{})
	assert.Equal(t, "Evening run", habit["name"])

	// List
	status, body = doJSON(t, router, "GET", "/api/habits", token, nil)
	require.Equal(t, http.StatusOK, status)
	habits := body["habits"].([]interface{})
	assert.Len(t, habits, 1)

	// Delete
	status, _ = doJSON(t, router, "DELETE", "/api/habits/"+habitID, token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, router, "GET", "/api/habits", token, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestToggleUnknownHabit(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerUser(t, router)

	status, _ := doJSON(t, router, "POST", "/api/habits/ffffffffffffffffffffffff/toggle", token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, router, "POST", "/api/habits/not-an-id/toggle", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestValidateRouteReconciles(t *testing.T) {
	router, store := newTestServer(t)
	token := registerUser(t, router)

	status, body := doJSON(t, router, "POST", "/api/habits", token, map[string]string{"name": "Read"})
	require.Equal(t, http.StatusCreated, status)
	habitID := body["habit"].(map[string]interface{})["id"].(string)

	// Corrupt the stored streak behind the API's back.
	ctx := context.Background()
	userID := mustObjectID(t, body["habit"].(map[string]interface{})["user_id"].(string))
	habits, err := store.FindHabits(ctx, userID)
	require.NoError(t, err)
	require.Len(t, habits, 1)
	habits[0].Streak = 42
	require.NoError(t, store.SaveHabit(ctx, &habits[0]))

	status, body = doJSON(t, router, "GET", "/api/streaks/validate", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["inconsistencies"])
	assert.Equal(t, float64(1), body["updates"])

	// A second validation finds a consistent state.
	status, body = doJSON(t, router, "GET", "/api/streaks/validate", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["inconsistencies"])

	status, _ = doJSON(t, router, "POST", "/api/habits/"+habitID+"/toggle", token, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStreakStatsRoute(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerUser(t, router)

	status, body := doJSON(t, router, "POST", "/api/habits", token, map[string]string{"name": "Read"})
	require.Equal(t, http.StatusCreated, status)
	habitID := body["habit"].(map[string]interface{})["id"].(string)

	status, _ = doJSON(t, router, "POST", "/api/habits/"+habitID+"/toggle", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, router, "GET", "/api/streaks/stats", token, nil)
	require.Equal(t, http.StatusOK, status)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total_habits"])
	assert.Equal(t, float64(1), stats["active_streaks"])
	assert.Equal(t, float64(1), stats["longest_current_streak"])
}

func TestSchedulerRoutes(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerUser(t, router)

	status, body := doJSON(t, router, "GET", "/api/streaks/scheduler/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["is_running"])

	status, _ = doJSON(t, router, "POST", "/api/streaks/scheduler/start", token, nil)
	require.Equal(t, http.StatusOK, status)

	// Starting twice reports a conflict.
	status, _ = doJSON(t, router, "POST", "/api/streaks/scheduler/start", token, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = doJSON(t, router, "GET", "/api/streaks/scheduler/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_running"])

	status, _ = doJSON(t, router, "POST", "/api/streaks/scheduler/stop", token, nil)
	assert.Equal(t, http.StatusOK, status)
}
