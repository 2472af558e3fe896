package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric names accepted by the tracker.
const (
	MetricAPICalls     = "api_calls"
	MetricStorageBytes = "storage_bytes"
	MetricActiveUsers  = "active_users"
)

// ValidateMetric rejects unknown metric names before they hit the store.
func ValidateMetric(name string) error {
	switch name {
	case MetricAPICalls, MetricStorageBytes, MetricActiveUsers:
		return nil
	default:
		return fmt.Errorf("unknown usage metric %q", name)
	}
}

// Metrics holds one user's resource counters.
type Metrics struct {
	APICalls     int64     `json:"api_calls"`
	StorageBytes int64     `json:"storage_bytes"`
	ActiveUsers  int64     `json:"active_users"`
	LastUpdated  time.Time `json:"last_updated"`
}

// LeaderboardEntry is one row of the api-call leaderboard.
type LeaderboardEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	APICalls int64     `json:"api_calls"`
}

// Repository is the counter store. Increments must be atomic store
// primitives, never read-modify-write from the client.
type Repository interface {
	// Increment atomically adds delta to the named counter, creating the
	// record zero-initialized when absent, and refreshes last-updated.
	Increment(ctx context.Context, userID uuid.UUID, metric string, delta int64) error

	// Get returns the counters, or a zero-valued record when none exist.
	Get(ctx context.Context, userID uuid.UUID) (*Metrics, error)

	// Reset zeroes all counters explicitly.
	Reset(ctx context.Context, userID uuid.UUID) error

	// Delete removes the record entirely (account deletion).
	Delete(ctx context.Context, userID uuid.UUID) error

	// TopByAPICalls returns the n highest api-call users, descending. Tie
	// order is whatever the store yields; this feeds a display-only
	// leaderboard.
	TopByAPICalls(ctx context.Context, n int) ([]LeaderboardEntry, error)
}
