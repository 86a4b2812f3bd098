// Package store keeps operators, sessions, scans and the per-session record
// table. MemoryStore lives for the process lifetime; GormStore keeps the same
// data in Postgres.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"cardscan/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrExists     = errors.New("already exists")
	ErrOutOfRange = errors.New("row position out of range")
)

// Store is the persistence boundary of the service.
type Store interface {
	EnsureRole(ctx context.Context, name, description string) (*models.Role, error)
	RoleByID(ctx context.Context, id uint) (*models.Role, error)

	CreateUser(ctx context.Context, u *models.User) error
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id uint) (*models.User, error)
	UpdatePassword(ctx context.Context, userID uint, hash []byte) error

	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id uint) error

	CreateSession(ctx context.Context, s *models.Session) error
	SessionByID(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, userID uint) ([]models.Session, error)

	CreateScan(ctx context.Context, s *models.Scan) error
	UpdateScan(ctx context.Context, s *models.Scan) error
	ScanByID(ctx context.Context, sessionID string, id uint) (*models.Scan, error)
	ListScans(ctx context.Context, sessionID string) ([]models.Scan, error)

	// AppendRecord stores r at the end of the session's table and sets its Position.
	AppendRecord(ctx context.Context, sessionID string, r *models.Record) error
	ListRecords(ctx context.Context, sessionID string) ([]models.Record, error)
	UpdateRecord(ctx context.Context, sessionID string, pos int, first, last string) (*models.Record, error)
	// DeleteRecord removes the row at pos; later rows move up by one.
	DeleteRecord(ctx context.Context, sessionID string, pos int) error
	// ReplaceRecords swaps the whole table for rows, renumbered from 0. Scans
	// of the session are relinked to the new rows through Record.ScanID.
	ReplaceRecords(ctx context.Context, sessionID string, rows []models.Record) ([]models.Record, error)
	ClearRecords(ctx context.Context, sessionID string) error

	Close() error
}

// NewSessionID returns a random 128-bit hex identifier.
func NewSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// isUniqueConstraintError matches Postgres duplicate key errors by message.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
