package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ameyrk/momentum/models"
	"github.com/ameyrk/momentum/server/auth"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// handlerSet carries the service dependencies into the route handlers.
type handlerSet struct {
	deps Dependencies
}

// writeJSON serializes payload as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("error encoding response: %v", err)
		}
	}
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// userIDFromRequest extracts the authenticated user's ObjectID from the
// request context. Handlers behind requireAuth can rely on the id being
// present; a malformed id still yields an error.
func userIDFromRequest(r *http.Request) (primitive.ObjectID, error) {
	raw, ok := r.Context().Value(userIDKey).(string)
	if !ok {
		return primitive.NilObjectID, errors.New("no authenticated user")
	}
	return primitive.ObjectIDFromHex(raw)
}

// habitIDFromRequest extracts and parses the {id} path variable.
func habitIDFromRequest(r *http.Request) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(mux.Vars(r)["id"])
}

// storageError maps storage sentinel errors onto HTTP statuses.
func storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrHabitNotFound):
		writeError(w, http.StatusNotFound, "habit not found")
	case errors.Is(err, storage.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	User         *models.User `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
}

func (h *handlerSet) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, refresh, err := auth.SignUp(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{User: user, Token: token, RefreshToken: refresh})
}

func (h *handlerSet) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, refresh, err := auth.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{User: user, Token: token, RefreshToken: refresh})
}

func (h *handlerSet) listHabits(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	habits, err := h.deps.Store.FindHabits(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"habits": habits})
}

type habitRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *handlerSet) createHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	var req habitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "habit name is required")
		return
	}

	habit := &models.Habit{
		UserID: userID,
		Name:   req.Name,
		Color:  req.Color,
	}
	habit, err = h.deps.Store.AddHabit(r.Context(), habit)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"habit": habit})
}

func (h *handlerSet) updateHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}
	habitID, err := habitIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid habit id")
		return
	}

	// Only the identity fields are writable here. The streak fields belong
	// to the toggle and reconciliation paths.
	var req struct {
		Name  *string `json:"name"`
		Color *string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	habit, err := h.deps.Store.FindHabit(r.Context(), habitID, userID)
	if err != nil {
		storageError(w, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "habit name cannot be empty")
			return
		}
		habit.Name = name
	}
	if req.Color != nil {
		habit.Color = *req.Color
	}
	habit.UpdatedAt = time.Now()

	if err := h.deps.Store.SaveHabit(r.Context(), habit); err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"habit": habit})
}

func (h *handlerSet) deleteHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}
	habitID, err := habitIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid habit id")
		return
	}

	result, err := h.deps.Store.DeleteHabit(r.Context(), habitID, userID)
	if err != nil {
		storageError(w, err)
		return
	}
	if result.DeletedCount == 0 {
		writeError(w, http.StatusNotFound, "habit not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlerSet) toggleHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}
	habitID, err := habitIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid habit id")
		return
	}

	habit, err := h.deps.Streaks.ToggleHabit(r.Context(), habitID, userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"habit": habit})
}

// validateStreaks reports every stored streak that disagrees with the ledger
// and, when any are found, reconciles them in the same request.
func (h *handlerSet) validateStreaks(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	discrepancies, err := h.deps.Streaks.ValidateStreaks(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	var corrections []models.StreakCorrection
	if len(discrepancies) > 0 {
		corrections, err = h.deps.Streaks.UpdateUserStreaks(r.Context(), userID)
		if err != nil {
			storageError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inconsistencies": len(discrepancies),
		"details":         discrepancies,
		"updates":         len(corrections),
		"corrections":     corrections,
	})
}

func (h *handlerSet) streakStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	stats, err := h.deps.Streaks.GetUserStreakStats(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *handlerSet) refreshStreaks(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	corrections, err := h.deps.Streaks.UpdateUserStreaks(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updates": len(corrections),
		"details": corrections,
	})
}

func (h *handlerSet) weeklyStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	days, err := h.deps.Streaks.GetWeeklyStats(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days})
}

func (h *handlerSet) weeklyByHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	items, err := h.deps.Streaks.GetWeeklyByHabit(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"habits": items})
}

func (h *handlerSet) leaderboard(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	entries, err := h.deps.Streaks.GetLeaderboard(r.Context(), userID)
	if err != nil {
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (h *handlerSet) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Scheduler.GetStatus())
}

func (h *handlerSet) schedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "scheduler started"})
}

func (h *handlerSet) schedulerStop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "scheduler stopped"})
}

func (h *handlerSet) schedulerValidateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scheduler.RunFullValidation(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "validation completed"})
}

func (h *handlerSet) schedulerCatchUp(w http.ResponseWriter, r *http.Request) {
	h.deps.Scheduler.ForceCatchUp(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": "catch-up completed"})
}
