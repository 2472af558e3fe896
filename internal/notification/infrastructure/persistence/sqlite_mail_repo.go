package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vantagecommodities/vantage/internal/notification/domain"
)

// SQLiteMailRepository is the single-binary variant of the mail queue.
type SQLiteMailRepository struct {
	db *sql.DB
}

func NewSQLiteMailRepository(db *sql.DB) *SQLiteMailRepository {
	return &SQLiteMailRepository{db: db}
}

func (r *SQLiteMailRepository) Enqueue(ctx context.Context, entry *domain.MailQueueEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal template data: %w", err)
	}

	query := `
		INSERT INTO mail_queue (recipient, template_name, template_data, created_at)
		VALUES (?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		entry.Recipient,
		string(entry.Template),
		string(data),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue mail: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	return nil
}
