// Package persistence holds the identity repositories for both database
// drivers.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagecommodities/vantage/internal/identity/domain"
)

// PostgresUserRepository stores user accounts in Postgres.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

func (r *PostgresUserRepository) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, display_name, role, subscription_status,
			subscription_plan, subscription_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		string(user.Role),
		nullIfEmpty(user.SubscriptionStatus),
		nullIfEmpty(user.SubscriptionPlan),
		user.SubscriptionUpdatedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE email = $1`, email)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, subscription_status,
		       subscription_plan, subscription_updated_at, created_at, updated_at
		FROM users ` + where

	var (
		user   domain.User
		role   string
		status *string
		plan   *string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&role,
		&status,
		&plan,
		&user.SubscriptionUpdatedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if user.Role, err = domain.ParseRole(role); err != nil {
		return nil, fmt.Errorf("stored user %s: %w", user.ID, err)
	}
	if status != nil {
		user.SubscriptionStatus = *status
	}
	if plan != nil {
		user.SubscriptionPlan = *plan
	}

	return &user, nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// UpdateSubscriptionState applies the mirror write only when it is newer
// than what the row already holds.
func (r *PostgresUserRepository) UpdateSubscriptionState(ctx context.Context, id uuid.UUID, status, plan string, updatedAt time.Time) (bool, error) {
	query := `
		UPDATE users
		SET subscription_status = $2,
			subscription_plan = $3,
			subscription_updated_at = $4,
			updated_at = NOW()
		WHERE id = $1
		  AND (subscription_updated_at IS NULL OR subscription_updated_at < $4)`

	tag, err := r.pool.Exec(ctx, query, id, status, plan, updatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PostgresCustomerRepository maps users to billing-provider customers.
type PostgresCustomerRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCustomerRepository(pool *pgxpool.Pool) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{pool: pool}
}

func (r *PostgresCustomerRepository) Save(ctx context.Context, userID uuid.UUID, providerCustomerID string) error {
	query := `
		INSERT INTO customers (user_id, provider_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET provider_customer_id = EXCLUDED.provider_customer_id`

	if _, err := r.pool.Exec(ctx, query, userID, providerCustomerID); err != nil {
		return fmt.Errorf("failed to save customer mapping: %w", err)
	}
	return nil
}

func (r *PostgresCustomerRepository) ProviderCustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	var customerID string
	err := r.pool.QueryRow(ctx,
		`SELECT provider_customer_id FROM customers WHERE user_id = $1`, userID,
	).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer mapping: %w", err)
	}
	return customerID, nil
}

func (r *PostgresCustomerRepository) UserIDByProviderCustomerID(ctx context.Context, providerCustomerID string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM customers WHERE provider_customer_id = $1`, providerCustomerID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up customer mapping: %w", err)
	}
	return userID, nil
}

func (r *PostgresCustomerRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete customer mapping: %w", err)
	}
	return nil
}
