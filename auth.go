package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"cardscan/models"
	"cardscan/pkg/store"
)

var jwtSecret []byte // loaded from JWT_SECRET

const (
	accessTTL  = 24 * time.Hour
	refreshTTL = 30 * 24 * time.Hour
	// access tokens minted by /refresh are short lived
	rotatedAccessTTL = 15 * time.Minute
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errUserExists         = errors.New("user already exists")
	errUsernameRequired   = errors.New("username required")
	errPasswordTooShort   = errors.New("password too short (min 6)")
)

// Register creates a regular operator account.
func Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errUsernameRequired
	}
	if len(password) < 6 {
		return errPasswordTooShort
	}
	if _, err := store.CreateOperator(ctx, appStore, username, password, models.RoleUser); err != nil {
		if errors.Is(err, store.ErrExists) {
			return errUserExists
		}
		return err
	}
	return nil
}

// Authenticate checks the password of username.
func Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := appStore.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func roleName(ctx context.Context, user *models.User) string {
	if user.RoleID == nil {
		return ""
	}
	r, err := appStore.RoleByID(ctx, *user.RoleID)
	if err != nil {
		return ""
	}
	return r.Name
}

// signAccessToken issues an HS256 token carrying the username, role and scan session.
func signAccessToken(user *models.User, role, sessionID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     role,
		"sid":      sessionID,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// createRefreshToken stores the hash of a random token bound to sessionID and returns the raw token.
func createRefreshToken(ctx context.Context, userID uint, sessionID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := hex.EncodeToString(b)
	rt := &models.RefreshToken{
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: hashToken(raw),
		ExpiresAt: time.Now().Add(refreshTTL),
	}
	if err := appStore.CreateRefreshToken(ctx, rt); err != nil {
		return "", err
	}
	return raw, nil
}

func findRefreshToken(ctx context.Context, raw string) (*models.RefreshToken, error) {
	return appStore.RefreshTokenByHash(ctx, hashToken(raw))
}

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

// openSessionTokens starts a fresh session for user and issues tokens for it.
func openSessionTokens(ctx context.Context, user *models.User) (*tokenPair, error) {
	sess, err := store.OpenSession(ctx, appStore, user.ID)
	if err != nil {
		return nil, err
	}
	access, err := signAccessToken(user, roleName(ctx, user), sess.ID, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	refresh, err := createRefreshToken(ctx, user.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &tokenPair{Token: access, RefreshToken: refresh, SessionID: sess.ID}, nil
}
