package domain

import (
	"context"
	"time"
)

// Template names an outbound transactional email. The external mail worker
// owns the actual rendering; this service only queues the request.
type Template string

const (
	TemplateSubscriptionCreated   Template = "subscription_created"
	TemplateSubscriptionCancelled Template = "subscription_cancelled"
	TemplatePaymentFailed         Template = "payment_failed"
	TemplateAccountDeleted        Template = "account_deleted"
)

// MailQueueEntry is one queued email. Entries are consumed and removed by
// the external mail worker.
type MailQueueEntry struct {
	ID        int64
	Recipient string
	Template  Template
	Data      map[string]string
	CreatedAt time.Time
}

// Repository persists the mail queue.
type Repository interface {
	Enqueue(ctx context.Context, entry *MailQueueEntry) error
}
