package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines user account persistence. Find methods return nil
// without error when no row exists; readers treat a missing account as a
// deleted user regardless of residual documents.
type UserRepository interface {
	Save(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateSubscriptionState mirrors the latest subscription write onto the
	// account. The update is a compare-and-set keyed on the provider event
	// time: it applies only when the stored subscription_updated_at is older,
	// so a stale transition never overwrites a newer one. Returns whether the
	// update was applied.
	UpdateSubscriptionState(ctx context.Context, id uuid.UUID, status, plan string, updatedAt time.Time) (bool, error)
}

// CustomerRepository maps application users to billing-provider customers.
type CustomerRepository interface {
	// Save stores the mapping for a user.
	Save(ctx context.Context, userID uuid.UUID, providerCustomerID string) error

	// ProviderCustomerID returns the provider customer id for a user, or
	// empty string when no mapping exists.
	ProviderCustomerID(ctx context.Context, userID uuid.UUID) (string, error)

	// UserIDByProviderCustomerID is the reverse lookup used by the webhook
	// endpoint. Returns uuid.Nil when no mapping exists.
	UserIDByProviderCustomerID(ctx context.Context, providerCustomerID string) (uuid.UUID, error)

	// Delete removes the mapping.
	Delete(ctx context.Context, userID uuid.UUID) error
}
