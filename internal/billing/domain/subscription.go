package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the current billing state. Transitions are
// driven exclusively by the billing provider; this service never invents one.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus validates a raw status string at the store-read and
// webhook-ingest boundaries. Unknown statuses are rejected rather than
// silently defaulted.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(raw) {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled, SubscriptionUnpaid:
		return SubscriptionStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
}

// SubscriptionItem is one priced line of a subscription.
type SubscriptionItem struct {
	PriceID     string   `json:"price_id"`
	ProductName string   `json:"product_name"`
	Features    []string `json:"features,omitempty"`
}

// Subscription mirrors one billing-provider subscription. The ID is the
// provider's own identifier.
type Subscription struct {
	ID               string             `json:"id"`
	UserID           uuid.UUID          `json:"user_id"`
	Status           SubscriptionStatus `json:"status"`
	Items            []SubscriptionItem `json:"items"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PlanID returns the price id of the first item, or empty when the
// subscription has no items.
func (s *Subscription) PlanID() string {
	if s == nil || len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].PriceID
}

// PlanName returns the product name of the first item.
func (s *Subscription) PlanName() string {
	if s == nil || len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].ProductName
}

// Features returns the feature list of the first item.
func (s *Subscription) Features() []string {
	if s == nil || len(s.Items) == 0 {
		return nil
	}
	return s.Items[0].Features
}

// IsNewlyActive reports whether the write represented by before → after is a
// transition into the active state. A reactivated subscription takes this
// path as well: the guard only checks that the prior state was not active.
func IsNewlyActive(before, after *Subscription) bool {
	if after == nil || after.Status != SubscriptionActive {
		return false
	}
	return before == nil || before.Status != SubscriptionActive
}
