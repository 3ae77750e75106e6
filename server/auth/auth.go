package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ameyrk/momentum/lib/utils"
	"github.com/ameyrk/momentum/models"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/form3tech-oss/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

// store holds the interface to the storage system (database).
var store storage.StorageInterface

// jwtSigningKey holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// InitAuth initializes the authentication system with an already-connected
// store and the JWT signing key. Must be called once at process startup
// before any other function in this package.
func InitAuth(s storage.StorageInterface, signingKey string) {
	store = s
	jwtSigningKey = signingKey
}

// CreateAuthToken creates a signed JWT access token carrying the user's id.
// Returns a signed JWT token or an error if there was a problem during the token creation.
func CreateAuthToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Hour * 24).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// CreateRefreshToken creates a signed JWT refresh token for the user.
// Returns a signed JWT refresh token or an error if there was a problem during the token creation.
func CreateRefreshToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Hour * 24 * 30).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create refresh token")
	}

	return signedToken, nil
}

// CreateTokens creates both an auth token and a refresh token for a user.
func CreateTokens(userId string) (string, string, error) {
	authToken, authErr := CreateAuthToken(userId)
	if authErr != nil {
		return "", "", authErr
	}

	refreshToken, refreshErr := CreateRefreshToken(userId)
	if refreshErr != nil {
		return "", "", refreshErr
	}

	return authToken, refreshToken, nil
}

// VerifyToken parses and validates a signed JWT and returns the user id it
// carries. Used by the HTTP middleware to authenticate requests.
func VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return "", errors.New("invalid token claims")
	}

	return id, nil
}

// SignUp registers a new user and returns the user together with a signed
// token pair. The username, email and password are validated before any
// write happens.
func SignUp(ctx context.Context, username, email, password string) (*models.User, string, string, error) {
	if len(username) < 2 {
		return nil, "", "", errors.New("invalid username")
	}
	if !utils.ValidateEmail(email) {
		return nil, "", "", errors.New("invalid email format")
	}
	if !utils.ValidatePassword(password) {
		return nil, "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", "", fmt.Errorf("error hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}

	user, err = store.AddUser(ctx, user)
	if err != nil {
		return nil, "", "", err
	}

	authToken, refreshToken, err := CreateTokens(user.ID.Hex())
	if err != nil {
		return nil, "", "", err
	}

	return user, authToken, refreshToken, nil
}

// SignIn authenticates a user by username and password and returns the user
// together with a signed token pair.
func SignIn(ctx context.Context, username, password string) (*models.User, string, string, error) {
	if len(username) < 2 {
		return nil, "", "", errors.New("invalid username")
	}

	user, err := store.FindUserByUsername(ctx, username)
	if err != nil {
		if err == storage.ErrUserNotFound {
			return nil, "", "", errors.New("invalid credentials")
		}
		return nil, "", "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", "", errors.New("invalid credentials")
	}

	authToken, refreshToken, err := CreateTokens(user.ID.Hex())
	if err != nil {
		return nil, "", "", err
	}

	return user, authToken, refreshToken, nil
}
