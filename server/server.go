package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ameyrk/momentum/scheduler"
	"github.com/ameyrk/momentum/server/auth"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/ameyrk/momentum/streak"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// contextKey is the type of the keys this package stores in request contexts.
type contextKey string

// userIDKey is the request-context key under which the authenticated user's
// id is stored by the JWT middleware.
const userIDKey contextKey = "userID"

// Dependencies holds the long-lived services the HTTP layer exposes. They
// are constructed once at process startup and handed in, never created as a
// side effect of route wiring.
type Dependencies struct {
	Store     storage.StorageInterface
	Streaks   *streak.StreakService
	Scheduler *scheduler.Scheduler
}

// jwtMiddleware reads the JWT from the Authorization header of the HTTP
// request. If a valid token is present, the user's id is injected into the
// request's context under userIDKey. The middleware never stops the request:
// it is up to requireAuth on protected routes to reject requests without an
// authenticated user.
func jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				userID, err := auth.VerifyToken(splitToken[1])
				if err != nil {
					log.Printf("error validating JWT token: %v", err)
				} else {
					ctx := context.WithValue(r.Context(), userIDKey, userID)
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests whose context carries no authenticated user id.
func requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(userIDKey).(string); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// recoveryMiddleware recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the REST router over the given dependencies.
func NewRouter(deps Dependencies) http.Handler {
	h := &handlerSet{deps: deps}

	r := mux.NewRouter()

	r.HandleFunc("/api/auth/register", h.register).Methods("POST")
	r.HandleFunc("/api/auth/login", h.login).Methods("POST")

	r.HandleFunc("/api/habits", requireAuth(h.listHabits)).Methods("GET")
	r.HandleFunc("/api/habits", requireAuth(h.createHabit)).Methods("POST")
	r.HandleFunc("/api/habits/{id}", requireAuth(h.updateHabit)).Methods("PATCH")
	r.HandleFunc("/api/habits/{id}", requireAuth(h.deleteHabit)).Methods("DELETE")
	r.HandleFunc("/api/habits/{id}/toggle", requireAuth(h.toggleHabit)).Methods("POST")

	r.HandleFunc("/api/streaks/validate", requireAuth(h.validateStreaks)).Methods("GET")
	r.HandleFunc("/api/streaks/stats", requireAuth(h.streakStats)).Methods("GET")
	r.HandleFunc("/api/streaks/refresh", requireAuth(h.refreshStreaks)).Methods("POST")

	r.HandleFunc("/api/stats/weekly", requireAuth(h.weeklyStats)).Methods("GET")
	r.HandleFunc("/api/stats/weekly-by-habit", requireAuth(h.weeklyByHabit)).Methods("GET")
	r.HandleFunc("/api/stats/leaderboard", requireAuth(h.leaderboard)).Methods("GET")

	r.HandleFunc("/api/streaks/scheduler/status", requireAuth(h.schedulerStatus)).Methods("GET")
	r.HandleFunc("/api/streaks/scheduler/start", requireAuth(h.schedulerStart)).Methods("POST")
	r.HandleFunc("/api/streaks/scheduler/stop", requireAuth(h.schedulerStop)).Methods("POST")
	r.HandleFunc("/api/streaks/scheduler/validate-all", requireAuth(h.schedulerValidateAll)).Methods("POST")
	r.HandleFunc("/api/streaks/scheduler/catch-up", requireAuth(h.schedulerCatchUp)).Methods("POST")

	return recoveryMiddleware(jwtMiddleware(r))
}

// Start initializes and starts the REST server at the given URL.
func Start(serverURL string, deps Dependencies) {
	router := NewRouter(deps)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(router)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	u, err := url.Parse(serverURL)
	if err != nil {
		panic(err)
	}

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
