// Package persistence holds the analytics event store for both database
// drivers.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagecommodities/vantage/internal/analytics/domain"
)

// PostgresEventRepository stores events and maintains the daily revenue
// rollups in Postgres.
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

func (r *PostgresEventRepository) Append(ctx context.Context, event *domain.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO subscription_events (user_id, event_type, plan_id, plan_name, amount, currency, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		event.UserID,
		string(event.Type),
		event.PlanID,
		event.PlanName,
		event.Amount,
		event.Currency,
		metadata,
		event.OccurredAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := applyRollup(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applyRollup(ctx context.Context, tx pgx.Tx, event *domain.Event) error {
	revenue, created, cancelled := rollupDeltas(event)
	if revenue == 0 && created == 0 && cancelled == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO revenue_rollups (day, plan_name, revenue, created_count, cancelled_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day, plan_name) DO UPDATE SET
			revenue = revenue_rollups.revenue + EXCLUDED.revenue,
			created_count = revenue_rollups.created_count + EXCLUDED.created_count,
			cancelled_count = revenue_rollups.cancelled_count + EXCLUDED.cancelled_count`,
		event.OccurredAt.UTC().Truncate(24*time.Hour),
		event.PlanName,
		revenue,
		created,
		cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to update revenue rollup: %w", err)
	}
	return nil
}

// rollupDeltas maps one event onto its rollup contribution.
func rollupDeltas(event *domain.Event) (revenue, created, cancelled int64) {
	switch event.Type {
	case domain.EventPaymentSucceeded:
		revenue = event.Amount
	case domain.EventCreated:
		created = 1
	case domain.EventCancelled:
		cancelled = 1
	}
	return revenue, created, cancelled
}

func (r *PostgresEventRepository) RangeTotals(ctx context.Context, start, end time.Time) (domain.RangeTotals, error) {
	var totals domain.RangeTotals

	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(revenue), 0), COALESCE(SUM(cancelled_count), 0)
		FROM revenue_rollups
		WHERE day BETWEEN $1 AND $2`,
		start.UTC().Truncate(24*time.Hour),
		end.UTC().Truncate(24*time.Hour),
	).Scan(&totals.Revenue, &totals.CancelledEvents)
	if err != nil {
		return domain.RangeTotals{}, fmt.Errorf("failed to sum rollups: %w", err)
	}

	// Distinct creators cannot be rolled up additively, so this one comes
	// from the event table.
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM subscription_events
		WHERE event_type = $1 AND occurred_at BETWEEN $2 AND $3`,
		string(domain.EventCreated), start, end,
	).Scan(&totals.CreatedUsers)
	if err != nil {
		return domain.RangeTotals{}, fmt.Errorf("failed to count created users: %w", err)
	}

	return totals, nil
}

func (r *PostgresEventRepository) RevenueByPlan(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT plan_name, SUM(revenue)
		FROM revenue_rollups
		WHERE revenue > 0
		GROUP BY plan_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue by plan: %w", err)
	}
	defer rows.Close()

	revenue := make(map[string]int64)
	for rows.Next() {
		var (
			plan   string
			amount int64
		)
		if err := rows.Scan(&plan, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan revenue row: %w", err)
		}
		revenue[plan] = amount
	}
	return revenue, rows.Err()
}

func (r *PostgresEventRepository) ListRange(ctx context.Context, start, end time.Time, limit int) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, event_type, plan_id, plan_name, amount, currency, metadata, occurred_at
		FROM subscription_events
		WHERE occurred_at BETWEEN $1 AND $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			event       domain.Event
			eventType   string
			rawMetadata []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.UserID,
			&eventType,
			&event.PlanID,
			&event.PlanName,
			&event.Amount,
			&event.Currency,
			&rawMetadata,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if event.Type, err = domain.ParseEventType(eventType); err != nil {
			return nil, fmt.Errorf("stored event %d: %w", event.ID, err)
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresEventRepository) DeleteOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM subscription_events
		WHERE occurred_at < NOW() - INTERVAL '1 day' * $1`,
		olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}
