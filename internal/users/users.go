// Package users manages protected parties and reviewers.
//
// A PROTECTED user is the account whose transactions are scored and
// paused behind approvals. A REVIEWER is a family member or caretaker
// who can resolve alerts for protected parties they are linked to.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/safepay/guard/internal/idgen"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidThreshold = errors.New("alert threshold must be in [0,1]")
)

// Role distinguishes protected parties from reviewers.
type Role string

const (
	RoleProtected Role = "PROTECTED"
	RoleReviewer  Role = "REVIEWER"
)

// Valid returns true for a known role.
func (r Role) Valid() bool {
	return r == RoleProtected || r == RoleReviewer
}

// User is an account on the platform. Users are never deleted;
// referential integrity of alerts and approvals depends on it.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	ProtectionEnabled bool      `json:"protectionEnabled"`
	AlertThreshold    *float64  `json:"alertThreshold,omitempty"` // per-user override, nil = server default
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Store persists user data.
type Store interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// RegisterRequest contains the parameters for registering a user.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// SettingsRequest contains the mutable settings of a user.
// Pointer fields distinguish "not provided" from zero values.
type SettingsRequest struct {
	ProtectionEnabled *bool    `json:"protectionEnabled"`
	AlertThreshold    *float64 `json:"alertThreshold"`
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Service implements user business logic.
type Service struct {
	store Store
}

// NewService creates a new user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailRegex.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	role := Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}

	if existing, err := s.store.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user := &User{
		ID:                idgen.WithPrefix("usr_"),
		Email:             email,
		Name:              strings.TrimSpace(req.Name),
		Role:              role,
		ProtectionEnabled: role == RoleProtected,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// GetByEmail returns a user by email (lowercased).
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// UpdateSettings applies a partial settings update.
func (s *Service) UpdateSettings(ctx context.Context, id string, req SettingsRequest) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ProtectionEnabled != nil {
		user.ProtectionEnabled = *req.ProtectionEnabled
	}
	if req.AlertThreshold != nil {
		t := *req.AlertThreshold
		if t < 0 || t > 1 {
			return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, t)
		}
		user.AlertThreshold = &t
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EffectiveThreshold returns the user's alert threshold, or def when unset.
func (u *User) EffectiveThreshold(def float64) float64 {
	if u.AlertThreshold != nil {
		return *u.AlertThreshold
	}
	return def
}
