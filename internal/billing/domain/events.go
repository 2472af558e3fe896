package domain

import (
	"github.com/google/uuid"

	sharedDomain "github.com/vantagecommodities/vantage/internal/shared/domain"
)

const (
	AggregateType = "Subscription"

	// RoutingKeySubscriptionWritten fires on every create/update/delete of a
	// mirrored subscription, carrying both the before and after states.
	RoutingKeySubscriptionWritten = "billing.subscription.written"
)

// SubscriptionWritten is emitted when the webhook endpoint writes a
// subscription row. A nil After means the row was deleted; a nil Before
// means the row is new.
type SubscriptionWritten struct {
	sharedDomain.BaseEvent
	UserID uuid.UUID     `json:"user_id"`
	Before *Subscription `json:"before,omitempty"`
	After  *Subscription `json:"after,omitempty"`
}

// NewSubscriptionWritten creates a SubscriptionWritten event. The provider
// event id travels in the metadata and is the idempotency key for
// downstream side effects.
func NewSubscriptionWritten(userID uuid.UUID, providerEventID string, before, after *Subscription) SubscriptionWritten {
	e := SubscriptionWritten{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeySubscriptionWritten),
		UserID:    userID,
		Before:    before,
		After:     after,
	}
	e.SetMetadata(sharedDomain.EventMetadata{
		UserID:          userID,
		ProviderEventID: providerEventID,
	})
	return e
}
