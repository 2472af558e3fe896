package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role gates access to the admin surface. Authorization decisions go through
// a single policy check instead of per-page email allow-lists.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a raw role string read from the store.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleMember, RoleAdmin:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// IsAdmin is the authorization policy for the admin surface.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// ErrEmailRequired is returned when creating a user without an email.
var ErrEmailRequired = errors.New("email is required")

// ErrEmailTaken is returned when registering an email that already has an
// account.
var ErrEmailTaken = errors.New("email already registered")

// ErrUserNotFound is returned by operations that require an existing account.
var ErrUserNotFound = errors.New("user not found")

// User is the application-level account record. The subscription fields
// mirror the latest processed subscription write for this user.
type User struct {
	ID                    uuid.UUID
	Email                 string
	DisplayName           string
	Role                  Role
	SubscriptionStatus    string
	SubscriptionPlan      string
	SubscriptionUpdatedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewUser creates a member account with the given email and display name.
func NewUser(email, displayName string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, ErrEmailRequired
	}

	now := time.Now().UTC()
	return &User{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: displayName,
		Role:        RoleMember,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
