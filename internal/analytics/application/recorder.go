// Package application provides the analytics recorder: lifecycle event
// append plus aggregate metrics derived from daily rollups.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantagecommodities/vantage/internal/analytics/domain"
)

// Recorder appends lifecycle events and computes aggregate metrics.
type Recorder struct {
	events domain.EventRepository
	logger *slog.Logger
}

// NewRecorder creates a new analytics recorder.
func NewRecorder(events domain.EventRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{events: events, logger: logger}
}

// RecordEvent appends an event. It never fails the caller's primary
// operation: persistence errors are logged and swallowed.
func (r *Recorder) RecordEvent(ctx context.Context, event *domain.Event) {
	if r == nil || r.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Currency == "" {
		event.Currency = "usd"
	}
	if err := r.events.Append(ctx, event); err != nil {
		r.logger.Error("failed to record subscription event",
			"event_type", event.Type,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

// ComputeMetrics derives aggregate metrics over [start, end]. Zero events in
// range yields all-zero metrics, never a division by zero.
func (r *Recorder) ComputeMetrics(ctx context.Context, start, end time.Time) (domain.Metrics, error) {
	totals, err := r.events.RangeTotals(ctx, start, end)
	if err != nil {
		return domain.Metrics{}, err
	}

	metrics := domain.Metrics{
		TotalRevenue:        totals.Revenue,
		ActiveSubscriptions: totals.CreatedUsers,
	}

	if denom := totals.CreatedUsers + totals.CancelledEvents; denom > 0 {
		metrics.ChurnRate = float64(totals.CancelledEvents) / float64(denom) * 100
	}
	if totals.CreatedUsers > 0 {
		metrics.AverageRevenue = float64(totals.Revenue) / float64(totals.CreatedUsers)
	}

	return metrics, nil
}

// RevenueByPlan sums successful payments grouped by plan name. Returns an
// empty map on any failure; revenue reporting never breaks the admin page.
func (r *Recorder) RevenueByPlan(ctx context.Context) map[string]int64 {
	revenue, err := r.events.RevenueByPlan(ctx)
	if err != nil {
		r.logger.Error("failed to compute revenue by plan", "error", err)
		return map[string]int64{}
	}
	if revenue == nil {
		revenue = map[string]int64{}
	}
	return revenue
}

// RecentEvents lists events in [start, end], newest first.
func (r *Recorder) RecentEvents(ctx context.Context, start, end time.Time, limit int) ([]domain.Event, error) {
	return r.events.ListRange(ctx, start, end, limit)
}

// PurgeOldEvents applies the retention policy. A retention of zero days
// keeps events forever.
func (r *Recorder) PurgeOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return r.events.DeleteOlderThan(ctx, retentionDays)
}
