// Package application provides the usage tracker: atomic per-user counters
// with plan-limit checks and a display-only leaderboard.
package application

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	billingDomain "github.com/vantagecommodities/vantage/internal/billing/domain"
	"github.com/vantagecommodities/vantage/internal/usage/domain"
)

// Tracker maintains per-user usage counters.
type Tracker struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewTracker creates a new usage tracker.
func NewTracker(repo domain.Repository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, logger: logger}
}

// Track applies an atomic increment of delta to the named counter.
func (t *Tracker) Track(ctx context.Context, userID uuid.UUID, metric string, delta int64) error {
	if err := domain.ValidateMetric(metric); err != nil {
		return err
	}
	return t.repo.Increment(ctx, userID, metric, delta)
}

// GetUsage returns current counters; a missing record is all zeros, not an
// error.
func (t *Tracker) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.Metrics, error) {
	return t.repo.Get(ctx, userID)
}

// CheckLimit reports whether the user is within every limit of the plan.
// Unknown plans fail closed.
func (t *Tracker) CheckLimit(ctx context.Context, userID uuid.UUID, planID string) (bool, error) {
	limits, ok := billingDomain.LimitsFor(planID)
	if !ok {
		t.logger.Warn("usage check against unknown plan", "plan_id", planID, "user_id", userID)
		return false, nil
	}

	usage, err := t.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}

	within := usage.APICalls <= limits.MaxAPICalls &&
		usage.StorageBytes <= limits.MaxStorageMB*1024*1024 &&
		usage.ActiveUsers <= limits.MaxActiveUsers
	return within, nil
}

// TopUsers returns the n users with the highest api-call counters.
func (t *Tracker) TopUsers(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	return t.repo.TopByAPICalls(ctx, n)
}

// Reset zeroes all counters for the user (new-subscription path).
func (t *Tracker) Reset(ctx context.Context, userID uuid.UUID) error {
	return t.repo.Reset(ctx, userID)
}

// Purge removes the user's counters entirely (account deletion).
func (t *Tracker) Purge(ctx context.Context, userID uuid.UUID) error {
	return t.repo.Delete(ctx, userID)
}
