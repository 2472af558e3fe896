package domain

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionRepository defines subscription mirror persistence.
// Find methods return nil without error when no row exists.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id string) (*Subscription, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// ProcessedEventRepository records billing-provider event ids that have
// already driven side effects. MarkProcessed is a check-and-set: it returns
// false when the id was seen before, in which case the caller must skip its
// side effects.
type ProcessedEventRepository interface {
	MarkProcessed(ctx context.Context, providerEventID string) (bool, error)
}

// ProviderSubscription is the minimal view of a subscription as known to
// the billing provider, used during account cleanup.
type ProviderSubscription struct {
	ID              string
	Status          string
	LatestInvoiceID string
}

// BillingProvider is the outbound contract to the payment system.
// Subscription state is authoritative on the provider side; these calls are
// side effects only.
type BillingProvider interface {
	// ListSubscriptions returns all subscriptions for a provider customer.
	ListSubscriptions(ctx context.Context, customerID string) ([]ProviderSubscription, error)

	// CancelSubscription cancels one subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// RetryPayment re-attempts collection of the open invoice behind an
	// unpaid subscription. Best effort; callers log failures and move on.
	RetryPayment(ctx context.Context, subscriptionID string) error

	// DeleteCustomer removes the provider customer record.
	DeleteCustomer(ctx context.Context, customerID string) error
}
