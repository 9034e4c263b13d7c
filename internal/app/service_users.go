package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"sentinel/api/internal/auth"
	"sentinel/api/internal/scope"
	"sentinel/api/internal/store"
)

type CreateUserInput struct {
	Username          string   `json:"username" validate:"required,min=2,max=100"`
	Password          string   `json:"password" validate:"required,min=8"`
	IsAdmin           bool     `json:"is_admin"`
	DefaultHourlyRate *float64 `json:"default_hourly_rate_euro" validate:"omitempty,gte=0"`
}

// Bootstrap creates the first user when the store is empty. The first
// user is always an admin; once any user exists the call is rejected
// and CreateUser takes over.
func (s *Service) Bootstrap(ctx context.Context, in CreateUserInput) (store.User, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return store.User{}, err
	}
	if n > 0 {
		return store.User{}, domainError(http.StatusConflict, "VALIDATION_ERROR", "store already has users", nil)
	}
	in.IsAdmin = true
	return s.createUser(ctx, in)
}

// CreateUser creates an account. Admin only.
func (s *Service) CreateUser(ctx context.Context, a scope.Actor, in CreateUserInput) (store.User, error) {
	if err := requireActor(a); err != nil {
		return store.User{}, err
	}
	if !a.IsAdmin {
		return store.User{}, errNotFound("user")
	}
	return s.createUser(ctx, in)
}

func (s *Service) createUser(ctx context.Context, in CreateUserInput) (store.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return store.User{}, errValidation("username is required")
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return store.User{}, errValidation("username already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return store.User{}, errValidation(err.Error())
	}

	u, err := s.store.CreateUser(ctx, store.User{
		Username:          username,
		PasswordHash:      hash,
		IsAdmin:           in.IsAdmin,
		DefaultHourlyRate: in.DefaultHourlyRate,
	})
	if err != nil {
		return store.User{}, err
	}
	u.PasswordHash = ""
	return u, nil
}

// Authenticate checks credentials and returns the acting-user context
// the session layer persists. Unknown usernames and wrong passwords
// fail identically.
func (s *Service) Authenticate(ctx context.Context, username, password string) (scope.Actor, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scope.Actor{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
		}
		return scope.Actor{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return scope.Actor{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
	}
	return scope.Actor{UserID: u.ID, IsAdmin: u.IsAdmin}, nil
}

// ListUsers returns all accounts without credential material. Any
// authenticated user may list usernames; share targets must be
// addressable.
func (s *Service) ListUsers(ctx context.Context, a scope.Actor) ([]store.User, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
		if !a.IsAdmin && users[i].ID != a.UserID {
			users[i].DefaultHourlyRate = nil
		}
	}
	return users, nil
}

// DeleteUser removes an account. Admin only; keeping at least one
// admin is the operator's responsibility.
func (s *Service) DeleteUser(ctx context.Context, a scope.Actor, id int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if !a.IsAdmin {
		return errNotFound("user")
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return mapStoreErr(err, "user")
	}
	return nil
}

// SetUserDefaultRate sets or clears the account-level default hourly
// rate, the last tier of the cascade. Users set their own; admins set
// anyone's.
func (s *Service) SetUserDefaultRate(ctx context.Context, a scope.Actor, userID int64, rate *float64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if !a.IsAdmin && a.UserID != userID {
		return errNotFound("user")
	}
	if rate != nil && *rate < 0 {
		return errValidation("rate must not be negative")
	}
	if err := s.store.SetUserDefaultRate(ctx, userID, rate); err != nil {
		return mapStoreErr(err, "user")
	}
	return nil
}
