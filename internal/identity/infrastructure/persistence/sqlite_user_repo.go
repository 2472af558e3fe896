package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagecommodities/vantage/internal/identity/domain"
)

// SQLiteUserRepository is the single-binary variant of user storage.
type SQLiteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

func (r *SQLiteUserRepository) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, display_name, role, subscription_status,
			subscription_plan, subscription_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			role = excluded.role,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		user.ID.String(),
		user.Email,
		user.DisplayName,
		string(user.Role),
		emptyToNull(user.SubscriptionStatus),
		emptyToNull(user.SubscriptionPlan),
		formatNullTime(user.SubscriptionUpdatedAt),
		formatUTC(user.CreatedAt),
		formatUTC(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, `WHERE id = ?`, id.String())
}

func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE email = ?`, email)
}

func (r *SQLiteUserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, subscription_status,
		       subscription_plan, subscription_updated_at, created_at, updated_at
		FROM users ` + where

	var (
		user      domain.User
		rawID     string
		role      string
		status    sql.NullString
		plan      sql.NullString
		subAt     sql.NullString
		createdAt string
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&rawID, &user.Email, &user.DisplayName, &role,
		&status, &plan, &subAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if user.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", rawID, err)
	}
	if user.Role, err = domain.ParseRole(role); err != nil {
		return nil, fmt.Errorf("stored user %s: %w", user.ID, err)
	}
	user.SubscriptionStatus = status.String
	user.SubscriptionPlan = plan.String

	if user.SubscriptionUpdatedAt, err = parseNullTime(subAt); err != nil {
		return nil, err
	}
	if user.CreatedAt, err = parseUTC(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseUTC(updatedAt); err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *SQLiteUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (r *SQLiteUserRepository) UpdateSubscriptionState(ctx context.Context, id uuid.UUID, status, plan string, updatedAt time.Time) (bool, error) {
	// RFC3339Nano strings in UTC compare correctly as text.
	query := `
		UPDATE users
		SET subscription_status = ?,
			subscription_plan = ?,
			subscription_updated_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND (subscription_updated_at IS NULL OR subscription_updated_at < ?)`

	ts := formatUTC(updatedAt)
	res, err := r.db.ExecContext(ctx, query, status, plan, ts, formatUTC(time.Now()), id.String(), ts)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SQLiteCustomerRepository maps users to billing-provider customers.
type SQLiteCustomerRepository struct {
	db *sql.DB
}

func NewSQLiteCustomerRepository(db *sql.DB) *SQLiteCustomerRepository {
	return &SQLiteCustomerRepository{db: db}
}

func (r *SQLiteCustomerRepository) Save(ctx context.Context, userID uuid.UUID, providerCustomerID string) error {
	query := `
		INSERT INTO customers (user_id, provider_customer_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET provider_customer_id = excluded.provider_customer_id`

	if _, err := r.db.ExecContext(ctx, query, userID.String(), providerCustomerID, formatUTC(time.Now())); err != nil {
		return fmt.Errorf("failed to save customer mapping: %w", err)
	}
	return nil
}

func (r *SQLiteCustomerRepository) ProviderCustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	var customerID string
	err := r.db.QueryRowContext(ctx,
		`SELECT provider_customer_id FROM customers WHERE user_id = ?`, userID.String(),
	).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer mapping: %w", err)
	}
	return customerID, nil
}

func (r *SQLiteCustomerRepository) UserIDByProviderCustomerID(ctx context.Context, providerCustomerID string) (uuid.UUID, error) {
	var rawID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM customers WHERE provider_customer_id = ?`, providerCustomerID,
	).Scan(&rawID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up customer mapping: %w", err)
	}
	return uuid.Parse(rawID)
}

func (r *SQLiteCustomerRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE user_id = ?`, userID.String()); err != nil {
		return fmt.Errorf("failed to delete customer mapping: %w", err)
	}
	return nil
}

func formatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatUTC(*t)
}

func parseUTC(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseUTC(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
