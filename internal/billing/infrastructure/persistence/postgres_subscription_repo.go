// Package persistence holds the billing repositories for both database
// drivers.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagecommodities/vantage/internal/billing/domain"
	sharedPersistence "github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
)

// PostgresSubscriptionRepository mirrors provider subscriptions in Postgres.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription items: %w", err)
	}

	query := `
		INSERT INTO subscriptions (id, user_id, status, items, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at`

	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err = execer.Exec(ctx, query,
		sub.ID,
		sub.UserID,
		string(sub.Status),
		items,
		sub.CurrentPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `
		SELECT id, user_id, status, items, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE id = $1`

	execer := sharedPersistence.Executor(ctx, r.pool)
	return scanSubscription(execer.QueryRow(ctx, query, id))
}

func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT id, user_id, status, items, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	execer := sharedPersistence.Executor(ctx, r.pool)
	return scanSubscription(execer.QueryRow(ctx, query, userID))
}

func (r *PostgresSubscriptionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	execer := sharedPersistence.Executor(ctx, r.pool)
	if _, err := execer.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub      domain.Subscription
		status   string
		rawItems []byte
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&status,
		&rawItems,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	parsed, err := domain.ParseSubscriptionStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored subscription %s: %w", sub.ID, err)
	}
	sub.Status = parsed

	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &sub.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription items: %w", err)
		}
	}

	return &sub, nil
}

// PostgresProcessedEventRepository records provider event ids. The insert
// uses ON CONFLICT DO NOTHING so the first writer wins.
type PostgresProcessedEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProcessedEventRepository(pool *pgxpool.Pool) *PostgresProcessedEventRepository {
	return &PostgresProcessedEventRepository{pool: pool}
}

func (r *PostgresProcessedEventRepository) MarkProcessed(ctx context.Context, providerEventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider_event_id)
		VALUES ($1)
		ON CONFLICT (provider_event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, providerEventID)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
