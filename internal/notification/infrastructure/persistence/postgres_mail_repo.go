package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagecommodities/vantage/internal/notification/domain"
)

// PostgresMailRepository writes to the mail_queue table consumed by the
// external mail worker.
type PostgresMailRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMailRepository(pool *pgxpool.Pool) *PostgresMailRepository {
	return &PostgresMailRepository{pool: pool}
}

func (r *PostgresMailRepository) Enqueue(ctx context.Context, entry *domain.MailQueueEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal template data: %w", err)
	}

	query := `
		INSERT INTO mail_queue (recipient, template_name, template_data, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err = r.pool.QueryRow(ctx, query,
		entry.Recipient,
		string(entry.Template),
		data,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue mail: %w", err)
	}

	return nil
}
