package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagecommodities/vantage/internal/billing/domain"
)

// SQLiteSubscriptionRepository is the single-binary variant of the
// subscription mirror. Timestamps are stored as RFC3339Nano strings.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

func (r *SQLiteSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription items: %w", err)
	}

	query := `
		INSERT INTO subscriptions (id, user_id, status, items, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			items = excluded.items,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		sub.ID,
		sub.UserID.String(),
		string(sub.Status),
		string(items),
		formatNullableTime(sub.CurrentPeriodEnd),
		formatTime(sub.CreatedAt),
		formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `
		SELECT id, user_id, status, items, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE id = ?`
	return scanSQLiteSubscription(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT id, user_id, status, items, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`
	return scanSQLiteSubscription(r.db.QueryRowContext(ctx, query, userID.String()))
}

func (r *SQLiteSubscriptionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID.String()); err != nil {
		return fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return nil
}

func scanSQLiteSubscription(row *sql.Row) (*domain.Subscription, error) {
	var (
		sub       domain.Subscription
		rawUserID string
		status    string
		rawItems  string
		periodEnd sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&sub.ID, &rawUserID, &status, &rawItems, &periodEnd, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	sub.UserID, err = uuid.Parse(rawUserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", rawUserID, err)
	}

	sub.Status, err = domain.ParseSubscriptionStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored subscription %s: %w", sub.ID, err)
	}

	if rawItems != "" {
		if err := json.Unmarshal([]byte(rawItems), &sub.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription items: %w", err)
		}
	}

	if sub.CurrentPeriodEnd, err = parseNullableTime(periodEnd); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &sub, nil
}

// SQLiteProcessedEventRepository records provider event ids.
type SQLiteProcessedEventRepository struct {
	db *sql.DB
}

func NewSQLiteProcessedEventRepository(db *sql.DB) *SQLiteProcessedEventRepository {
	return &SQLiteProcessedEventRepository{db: db}
}

func (r *SQLiteProcessedEventRepository) MarkProcessed(ctx context.Context, providerEventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider_event_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT (provider_event_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, providerEventID, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseNullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
