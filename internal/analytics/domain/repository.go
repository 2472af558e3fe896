package domain

import (
	"context"
	"time"
)

// EventRepository persists lifecycle events and their rolling aggregates.
type EventRepository interface {
	// Append stores an event and updates the daily revenue rollup in the
	// same transaction. The occurred-at timestamp is server-assigned when
	// zero.
	Append(ctx context.Context, event *Event) error

	// RangeTotals returns the sums for [start, end]: rolled-up revenue and
	// cancellation counts plus the distinct count of users with a created
	// event in range.
	RangeTotals(ctx context.Context, start, end time.Time) (RangeTotals, error)

	// RevenueByPlan sums payment_succeeded amounts grouped by plan name
	// across the whole rollup table.
	RevenueByPlan(ctx context.Context) (map[string]int64, error)

	// ListRange returns events in [start, end] ordered by occurred-at
	// descending, capped at limit.
	ListRange(ctx context.Context, start, end time.Time, limit int) ([]Event, error)

	// DeleteOlderThan removes events older than the retention period and
	// reports how many were removed. Rollups are kept.
	DeleteOlderThan(ctx context.Context, olderThanDays int) (int64, error)
}
