package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vantagecommodities/vantage/internal/notification/domain"
)

// Dispatcher queues lifecycle emails. Enqueue failures are logged and
// swallowed: a lost email must never abort the event that triggered it.
// billingURL points at the customer billing page linked from dunning mails.
type Dispatcher struct {
	mail       domain.Repository
	billingURL string
	logger     *slog.Logger
}

func NewDispatcher(mail domain.Repository, billingURL string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mail: mail, billingURL: billingURL, logger: logger}
}

func (d *Dispatcher) SubscriptionCreated(ctx context.Context, recipient, planName string, features []string) {
	data := map[string]string{"plan_name": planName}
	if len(features) > 0 {
		data["features"] = strings.Join(features, ", ")
	}
	d.enqueue(ctx, recipient, domain.TemplateSubscriptionCreated, data)
}

func (d *Dispatcher) SubscriptionCancelled(ctx context.Context, recipient, planName string, periodEnd *time.Time) {
	data := map[string]string{"plan_name": planName}
	if periodEnd != nil {
		data["access_until"] = periodEnd.Format("January 2, 2006")
	}
	d.enqueue(ctx, recipient, domain.TemplateSubscriptionCancelled, data)
}

func (d *Dispatcher) PaymentFailed(ctx context.Context, recipient, planName string) {
	data := map[string]string{"plan_name": planName}
	if d.billingURL != "" {
		data["billing_url"] = d.billingURL
	}
	d.enqueue(ctx, recipient, domain.TemplatePaymentFailed, data)
}

func (d *Dispatcher) AccountDeleted(ctx context.Context, recipient string) {
	d.enqueue(ctx, recipient, domain.TemplateAccountDeleted, nil)
}

func (d *Dispatcher) enqueue(ctx context.Context, recipient string, template domain.Template, data map[string]string) {
	if recipient == "" {
		d.logger.Warn("skipping email with empty recipient", "template", template)
		return
	}

	entry := &domain.MailQueueEntry{
		Recipient: recipient,
		Template:  template,
		Data:      data,
		CreatedAt: time.Now(),
	}

	if err := d.mail.Enqueue(ctx, entry); err != nil {
		d.logger.Error("failed to enqueue email",
			"template", template,
			"recipient", recipient,
			"error", fmt.Errorf("enqueue mail: %w", err))
	}
}
