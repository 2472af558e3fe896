package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a subscription lifecycle event.
type EventType string

const (
	EventCreated          EventType = "created"
	EventUpdated          EventType = "updated"
	EventCancelled        EventType = "cancelled"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
)

// ParseEventType validates a raw event type string.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventCreated, EventUpdated, EventCancelled, EventPaymentSucceeded, EventPaymentFailed:
		return EventType(raw), nil
	default:
		return "", fmt.Errorf("unknown event type %q", raw)
	}
}

// Event is one append-only audit record. Amounts are in minor currency
// units (cents). Events are immutable once written.
type Event struct {
	ID         int64
	UserID     uuid.UUID
	Type       EventType
	PlanID     string
	PlanName   string
	Amount     int64
	Currency   string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Metrics is the aggregate view over a date range.
type Metrics struct {
	TotalRevenue        int64   `json:"total_revenue"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
	ChurnRate           float64 `json:"churn_rate"`
	AverageRevenue      float64 `json:"average_revenue"`
}

// RangeTotals are the raw sums a repository produces for a date range; the
// recorder derives Metrics from them.
type RangeTotals struct {
	Revenue         int64
	CreatedUsers    int
	CancelledEvents int
}
