package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stripesdk "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/vantagecommodities/vantage/internal/billing/application"
	"github.com/vantagecommodities/vantage/internal/billing/domain"
)

// WebhookHandler verifies and translates Stripe webhook deliveries into
// calls on the ingest service. Event types outside the subscription
// lifecycle are acknowledged and dropped.
type WebhookHandler struct {
	service       *application.WebhookService
	signingSecret string
	logger        *slog.Logger
}

func NewWebhookHandler(service *application.WebhookService, signingSecret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{service: service, signingSecret: signingSecret, logger: logger}
}

// HandleDelivery verifies the signature and processes one delivery.
// A signature failure is the only caller-visible rejection; everything past
// it is acknowledged so Stripe does not redeliver events we chose to skip.
func (h *WebhookHandler) HandleDelivery(ctx context.Context, body []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(body, signatureHeader, h.signingSecret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionWrite(ctx, &event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, &event)
	case "invoice.payment_succeeded":
		return h.handleInvoicePaid(ctx, &event)
	default:
		h.logger.Debug("ignoring webhook event", "type", event.Type, "id", event.ID)
		return nil
	}
}

func (h *WebhookHandler) handleSubscriptionWrite(ctx context.Context, event *stripesdk.Event) error {
	var sub stripesdk.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to decode subscription payload", "event_id", event.ID, "error", err)
		return nil
	}

	status, err := domain.ParseSubscriptionStatus(string(sub.Status))
	if err != nil {
		// Transient provisioning states (incomplete, trialing) never drive
		// lifecycle side effects here.
		h.logger.Debug("skipping subscription in unhandled status",
			"event_id", event.ID,
			"status", sub.Status,
		)
		return nil
	}

	if err := h.service.UpsertSubscription(ctx, event.ID, customerID(&sub), toDomain(&sub, status)); err != nil {
		h.logger.Error("failed to ingest subscription write", "event_id", event.ID, "error", err)
	}
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripesdk.Event) error {
	var sub stripesdk.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to decode subscription payload", "event_id", event.ID, "error", err)
		return nil
	}

	if err := h.service.DeleteSubscription(ctx, event.ID, customerID(&sub), sub.ID); err != nil {
		h.logger.Error("failed to ingest subscription deletion", "event_id", event.ID, "error", err)
	}
	return nil
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event *stripesdk.Event) error {
	var inv stripesdk.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		h.logger.Error("failed to decode invoice payload", "event_id", event.ID, "error", err)
		return nil
	}

	var customer string
	if inv.Customer != nil {
		customer = inv.Customer.ID
	}

	if err := h.service.RecordPayment(ctx, event.ID, customer,
		invoiceSubscriptionID(&inv), inv.AmountPaid, string(inv.Currency)); err != nil {
		h.logger.Error("failed to record payment", "event_id", event.ID, "error", err)
	}
	return nil
}

// invoiceSubscriptionID digs the subscription out of the invoice parent; a
// one-off invoice has none.
func invoiceSubscriptionID(inv *stripesdk.Invoice) string {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil || inv.Parent.SubscriptionDetails.Subscription == nil {
		return ""
	}
	return inv.Parent.SubscriptionDetails.Subscription.ID
}

// productFeatures reads the comma-separated "features" key maintained on
// the Stripe product metadata.
func productFeatures(metadata map[string]string) []string {
	raw, ok := metadata["features"]
	if !ok || raw == "" {
		return nil
	}
	var features []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	return features
}

func customerID(sub *stripesdk.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

// toDomain maps a Stripe subscription onto the local mirror shape. The
// current period end lives on the subscription items in this API version.
func toDomain(sub *stripesdk.Subscription, status domain.SubscriptionStatus) *domain.Subscription {
	out := &domain.Subscription{
		ID:        sub.ID,
		Status:    status,
		CreatedAt: time.Unix(sub.Created, 0).UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			di := domain.SubscriptionItem{PriceID: item.Price.ID}
			if item.Price.Product != nil {
				di.ProductName = item.Price.Product.Name
				di.Features = productFeatures(item.Price.Product.Metadata)
			}
			out.Items = append(out.Items, di)

			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				if out.CurrentPeriodEnd == nil || end.After(*out.CurrentPeriodEnd) {
					out.CurrentPeriodEnd = &end
				}
			}
		}
	}

	return out
}
