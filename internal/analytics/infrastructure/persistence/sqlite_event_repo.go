package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagecommodities/vantage/internal/analytics/domain"
)

// SQLiteEventRepository is the single-binary variant of the event store.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event *domain.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_events (user_id, event_type, plan_id, plan_name, amount, currency, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UserID.String(),
		string(event.Type),
		event.PlanID,
		event.PlanName,
		event.Amount,
		event.Currency,
		string(metadata),
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	revenue, created, cancelled := rollupDeltas(event)
	if revenue != 0 || created != 0 || cancelled != 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO revenue_rollups (day, plan_name, revenue, created_count, cancelled_count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (day, plan_name) DO UPDATE SET
				revenue = revenue + excluded.revenue,
				created_count = created_count + excluded.created_count,
				cancelled_count = cancelled_count + excluded.cancelled_count`,
			event.OccurredAt.UTC().Format(time.DateOnly),
			event.PlanName,
			revenue,
			created,
			cancelled,
		)
		if err != nil {
			return fmt.Errorf("failed to update revenue rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) RangeTotals(ctx context.Context, start, end time.Time) (domain.RangeTotals, error) {
	var totals domain.RangeTotals

	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(revenue), 0), COALESCE(SUM(cancelled_count), 0)
		FROM revenue_rollups
		WHERE day BETWEEN ? AND ?`,
		start.UTC().Format(time.DateOnly),
		end.UTC().Format(time.DateOnly),
	).Scan(&totals.Revenue, &totals.CancelledEvents)
	if err != nil {
		return domain.RangeTotals{}, fmt.Errorf("failed to sum rollups: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM subscription_events
		WHERE event_type = ? AND occurred_at BETWEEN ? AND ?`,
		string(domain.EventCreated),
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
	).Scan(&totals.CreatedUsers)
	if err != nil {
		return domain.RangeTotals{}, fmt.Errorf("failed to count created users: %w", err)
	}

	return totals, nil
}

func (r *SQLiteEventRepository) RevenueByPlan(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
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

func (r *SQLiteEventRepository) ListRange(ctx context.Context, start, end time.Time, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, plan_id, plan_name, amount, currency, metadata, occurred_at
		FROM subscription_events
		WHERE occurred_at BETWEEN ? AND ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			event       domain.Event
			rawUserID   string
			eventType   string
			rawMetadata sql.NullString
			occurredAt  string
		)
		err := rows.Scan(
			&event.ID,
			&rawUserID,
			&eventType,
			&event.PlanID,
			&event.PlanName,
			&event.Amount,
			&event.Currency,
			&rawMetadata,
			&occurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if event.UserID, err = uuid.Parse(rawUserID); err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", rawUserID, err)
		}
		if event.Type, err = domain.ParseEventType(eventType); err != nil {
			return nil, fmt.Errorf("stored event %d: %w", event.ID, err)
		}
		if rawMetadata.Valid && rawMetadata.String != "" {
			if err := json.Unmarshal([]byte(rawMetadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		if event.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", occurredAt, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) DeleteOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339Nano)

	res, err := r.db.ExecContext(ctx, `DELETE FROM subscription_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}
