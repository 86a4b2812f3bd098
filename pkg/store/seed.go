package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"cardscan/models"
)

// AdminUsername is the operator seeded on first start.
const AdminUsername = "admin"

// Seed ensures the master roles and the admin operator exist.
func Seed(ctx context.Context, st Store, adminPassword string) error {
	if _, err := st.EnsureRole(ctx, models.RoleAdministrator, "full access"); err != nil {
		return err
	}
	if _, err := st.EnsureRole(ctx, models.RoleUser, "regular operator"); err != nil {
		return err
	}
	if _, err := st.UserByUsername(ctx, AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if _, err := CreateOperator(ctx, st, AdminUsername, adminPassword, models.RoleAdministrator); err != nil && !errors.Is(err, ErrExists) {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Info().Str("component", "store").Str("username", AdminUsername).Msg("seeded admin operator")
	return nil
}

// CreateOperator hashes password and creates a user with the given role.
func CreateOperator(ctx context.Context, st Store, username, password, roleName string) (*models.User, error) {
	role, err := st.EnsureRole(ctx, roleName, "")
	if err != nil {
		return nil, fmt.Errorf("ensure role: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	rid := role.ID
	u := &models.User{Username: username, HashedPassword: hash, RoleID: &rid}
	if err := st.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// OpenSession starts an empty scan session for userID.
func OpenSession(ctx context.Context, st Store, userID uint) (*models.Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess := &models.Session{ID: id, UserID: userID}
	if err := st.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}
