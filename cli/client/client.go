package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ameyrk/momentum/models"
	"github.com/ameyrk/momentum/scheduler"
	"github.com/form3tech-oss/jwt-go"
	"github.com/zalando/go-keyring"
)

// jwtSigningKey is used to verify JWT tokens locally before sending them.
var jwtSigningKey string

// KeyringKey is used to store and retrieve the JWT token from the system keyring.
var KeyringKey string

// RefreshKeyringKey is used to store and retrieve the refresh token from the system keyring.
var RefreshKeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// httpClient is the HTTP client used to make requests to the server.
var httpClient = &http.Client{}

// KeyringService is the name of the service in the system keyring where the JWT token and refresh token are stored.
const KeyringService = "Momentum"

// InitClient initializes the client's server URL, signing key and keyring key
// names. Must be called before using any other function in the package.
func InitClient(serverURL, signingKey, authToken, authTokenRefresh string) {
	jwtSigningKey = signingKey
	KeyringKey = authToken
	RefreshKeyringKey = authTokenRefresh
	ServerURL = serverURL
}

// decodeJWT decodes a JWT token and returns the claims contained within it.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// isJwtTokenInKeyring checks if the system keyring contains a JWT token.
// Returns 'true' and the token if it exists, 'false' and an empty string if it doesn't.
func isJwtTokenInKeyring() (bool, string, error) {
	token, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, "", nil
		}
		return false, "", errors.New("failed to access keyring: " + err.Error())
	}
	return true, token, nil
}

// saveTokens stores the token pair in the system keyring atomically.
func saveTokens(token, refreshToken string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := keyring.Set(KeyringService, RefreshKeyringKey, refreshToken); err != nil {
			keyring.Delete(KeyringService, KeyringKey)
			return err
		}
	}
	return nil
}

// ClearKeyring clears the JWT token and refresh token from the system keyring.
func ClearKeyring() error {
	accessToken, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil
		}
		return errors.New("failed to retrieve access token from keyring: " + err.Error())
	}

	if err := keyring.Delete(KeyringService, KeyringKey); err != nil {
		return errors.New("failed to delete access token from keyring: " + err.Error())
	}

	if err := keyring.Delete(KeyringService, RefreshKeyringKey); err != nil && err != keyring.ErrNotFound {
		keyring.Set(KeyringService, KeyringKey, accessToken)
		return errors.New("failed to delete refresh token from keyring: " + err.Error())
	}

	return nil
}

// IsUserAuthenticated checks if a valid JWT token exists in the system
// keyring. Returns the token if one is present and still valid, an empty
// string if nobody is signed in, and an error when the stored token has
// expired or cannot be validated.
func IsUserAuthenticated() (string, error) {
	hasJwt, tokenStr, err := isJwtTokenInKeyring()
	if err != nil {
		return "", err
	}
	if !hasJwt {
		return "", nil
	}

	if _, err := decodeJWT(tokenStr); err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			ClearKeyring()
			return "", errors.New("session expired, please sign in again")
		}
		return "", err
	}

	return tokenStr, nil
}

// sendRequest sends a JSON request to the server and decodes the JSON
// response into out (when out is non-nil). A non-2xx status is converted
// into an error carrying the server's error message.
func sendRequest(method, path string, token *string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		req.Header.Add("Authorization", "Bearer "+*token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Error != "" {
			return errors.New(errBody.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
	}

	return nil
}

// authedRequest resolves the signed-in user's token and sends the request.
func authedRequest(method, path string, body interface{}, out interface{}) error {
	token, err := IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no user is currently signed in")
	}
	return sendRequest(method, path, &token, body, out)
}

type authResponse struct {
	User         *models.User `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
}

// SignIn attempts to sign in a user with the provided username and password.
// On success the token pair is stored in the system keyring.
func SignIn(username, password string) error {
	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return err
	}
	if isSignedIn {
		return errors.New("a user is already signed in")
	}

	var resp authResponse
	err = sendRequest("POST", "/api/auth/login", nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}

	return saveTokens(resp.Token, resp.RefreshToken)
}

// SignUp attempts to register a new user with the provided username, email
// and password. On success the token pair is stored in the system keyring.
func SignUp(username, email, password string) error {
	isSignedIn, _, err := isJwtTokenInKeyring()
	if err != nil {
		return err
	}
	if isSignedIn {
		return errors.New("a user is already signed in")
	}

	var resp authResponse
	err = sendRequest("POST", "/api/auth/register", nil, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}

	return saveTokens(resp.Token, resp.RefreshToken)
}

// SignOut removes the tokens from the system keyring.
func SignOut() error {
	token, err := IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no user is currently signed in")
	}
	return ClearKeyring()
}

// ListHabits returns the signed-in user's habits.
func ListHabits() ([]models.Habit, error) {
	var resp struct {
		Habits []models.Habit `json:"habits"`
	}
	if err := authedRequest("GET", "/api/habits", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Habits, nil
}

// AddHabit creates a new habit with the given name and color.
func AddHabit(name, color string) (*models.Habit, error) {
	var resp struct {
		Habit *models.Habit `json:"habit"`
	}
	err := authedRequest("POST", "/api/habits", map[string]string{
		"name":  name,
		"color": color,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Habit, nil
}

// ToggleHabit flips today's completion of the given habit and returns the
// habit with its recalculated streak.
func ToggleHabit(habitID string) (*models.Habit, error) {
	var resp struct {
		Habit *models.Habit `json:"habit"`
	}
	if err := authedRequest("POST", "/api/habits/"+habitID+"/toggle", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Habit, nil
}

// DeleteHabit deletes the given habit and its completion history.
func DeleteHabit(habitID string) error {
	return authedRequest("DELETE", "/api/habits/"+habitID, nil, nil)
}

// GetStreakStats returns the signed-in user's streak summary.
func GetStreakStats() (*models.StreakStats, error) {
	var resp struct {
		Stats *models.StreakStats `json:"stats"`
	}
	if err := authedRequest("GET", "/api/streaks/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// GetWeeklyStats returns the signed-in user's completion counts for the last
// seven days.
func GetWeeklyStats() ([]models.DayCount, error) {
	var resp struct {
		Days []models.DayCount `json:"days"`
	}
	if err := authedRequest("GET", "/api/stats/weekly", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Days, nil
}

// GetLeaderboard returns the signed-in user's leaderboard entries.
func GetLeaderboard() ([]models.LeaderboardEntry, error) {
	var resp struct {
		Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	}
	if err := authedRequest("GET", "/api/stats/leaderboard", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Leaderboard, nil
}

// ValidateResult reports the outcome of a server-side streak validation.
type ValidateResult struct {
	Inconsistencies int                        `json:"inconsistencies"`
	Details         []models.StreakDiscrepancy `json:"details"`
	Updates         int                        `json:"updates"`
	Corrections     []models.StreakCorrection  `json:"corrections"`
}

// ValidateStreaks asks the server to validate and reconcile the signed-in
// user's streaks.
func ValidateStreaks() (*ValidateResult, error) {
	var resp ValidateResult
	if err := authedRequest("GET", "/api/streaks/validate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SchedulerStatus returns the server's maintenance scheduler status.
func SchedulerStatus() (*scheduler.Status, error) {
	var resp scheduler.Status
	if err := authedRequest("GET", "/api/streaks/scheduler/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SchedulerCommand invokes one of the scheduler control routes: "start",
// "stop", "validate-all" or "catch-up".
func SchedulerCommand(action string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := authedRequest("POST", "/api/streaks/scheduler/"+action, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
