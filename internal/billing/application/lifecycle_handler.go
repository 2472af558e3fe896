// Package application contains the billing-side reaction to subscription
// writes: classification of the transition, side effects, and the mirror
// update on the user account.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	"github.com/vantagecommodities/vantage/internal/billing/domain"
	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/eventbus"
)

// AnalyticsRecorder is the handler's outbound analytics port.
type AnalyticsRecorder interface {
	RecordEvent(ctx context.Context, event *analyticsDomain.Event)
}

// UsageResetter zeroes a user's usage counters on a fresh subscription.
type UsageResetter interface {
	Reset(ctx context.Context, userID uuid.UUID) error
}

// Mailer queues the lifecycle emails the handler sends.
type Mailer interface {
	SubscriptionCreated(ctx context.Context, recipient, planName string, features []string)
	SubscriptionCancelled(ctx context.Context, recipient, planName string, periodEnd *time.Time)
	PaymentFailed(ctx context.Context, recipient, planName string)
}

// LifecycleHandler consumes subscription-written events and runs the
// lifecycle side effects: classification, emails, usage reset, analytics,
// payment retry, and finally the mirror update on the user record.
//
// Handle never returns an error for a business failure. A redelivered event
// would re-run side effects that are not individually transactional, so the
// handler logs, marks what it can, and acks.
type LifecycleHandler struct {
	users     identityDomain.UserRepository
	processed domain.ProcessedEventRepository
	provider  domain.BillingProvider
	mailer    Mailer
	usage     UsageResetter
	analytics AnalyticsRecorder
	logger    *slog.Logger
}

func NewLifecycleHandler(
	users identityDomain.UserRepository,
	processed domain.ProcessedEventRepository,
	provider domain.BillingProvider,
	mailer Mailer,
	usage UsageResetter,
	analytics AnalyticsRecorder,
	logger *slog.Logger,
) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleHandler{
		users:     users,
		processed: processed,
		provider:  provider,
		mailer:    mailer,
		usage:     usage,
		analytics: analytics,
		logger:    logger,
	}
}

// EventTypes implements eventbus.EventConsumer.
func (h *LifecycleHandler) EventTypes() []string {
	return []string{domain.RoutingKeySubscriptionWritten}
}

type subscriptionWrittenPayload struct {
	UserID uuid.UUID            `json:"user_id"`
	Before *domain.Subscription `json:"before"`
	After  *domain.Subscription `json:"after"`
}

// Handle implements eventbus.EventConsumer.
func (h *LifecycleHandler) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var payload subscriptionWrittenPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.Error("failed to decode subscription write",
			"event_id", event.EventID,
			"error", err,
		)
		return nil
	}

	if err := h.process(ctx, event, &payload); err != nil {
		// Acked regardless: side effects are not transactional, and a
		// redelivery would duplicate the ones that did run.
		h.logger.Error("subscription lifecycle processing failed",
			"event_id", event.EventID,
			"user_id", payload.UserID,
			"error", err,
		)
	}
	return nil
}

func (h *LifecycleHandler) process(ctx context.Context, event *eventbus.ConsumedEvent, payload *subscriptionWrittenPayload) error {
	// A deletion write carries no after state; cleanup owns that path.
	if payload.After == nil {
		h.logger.Debug("ignoring subscription deletion write", "user_id", payload.UserID)
		return nil
	}

	user, err := h.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		h.logger.Warn("subscription write for unknown user, skipping",
			"user_id", payload.UserID,
			"subscription_id", payload.After.ID,
		)
		return nil
	}

	if providerEventID := event.Metadata.ProviderEventID; providerEventID != "" {
		first, err := h.processed.MarkProcessed(ctx, providerEventID)
		if err != nil {
			return fmt.Errorf("failed to record processed event: %w", err)
		}
		if !first {
			h.logger.Info("duplicate provider event, skipping side effects",
				"provider_event_id", providerEventID,
				"user_id", user.ID,
			)
			return nil
		}
	}

	h.applySideEffects(ctx, user, payload.Before, payload.After)

	applied, err := h.users.UpdateSubscriptionState(ctx, user.ID,
		string(payload.After.Status), payload.After.PlanID(), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription state: %w", err)
	}
	if !applied {
		h.logger.Info("subscription state update superseded by newer write",
			"user_id", user.ID,
			"status", payload.After.Status,
		)
	}

	return nil
}

func (h *LifecycleHandler) applySideEffects(ctx context.Context, user *identityDomain.User, before, after *domain.Subscription) {
	if domain.IsNewlyActive(before, after) {
		h.onNewlyActive(ctx, user, after)
		return
	}

	switch after.Status {
	case domain.SubscriptionPastDue:
		h.mailer.PaymentFailed(ctx, user.Email, after.PlanName())
		h.analytics.RecordEvent(ctx, &analyticsDomain.Event{
			UserID:   user.ID,
			Type:     analyticsDomain.EventPaymentFailed,
			PlanID:   after.PlanID(),
			PlanName: after.PlanName(),
		})

	case domain.SubscriptionUnpaid:
		// Past-due already notified; unpaid means dunning is exhausted, so
		// nudge the provider once before the account goes dark.
		if err := h.provider.RetryPayment(ctx, after.ID); err != nil {
			h.logger.Warn("payment retry failed",
				"subscription_id", after.ID,
				"user_id", user.ID,
				"error", err,
			)
		}
		h.mailer.PaymentFailed(ctx, user.Email, after.PlanName())
		h.analytics.RecordEvent(ctx, &analyticsDomain.Event{
			UserID:   user.ID,
			Type:     analyticsDomain.EventPaymentFailed,
			PlanID:   after.PlanID(),
			PlanName: after.PlanName(),
		})

	case domain.SubscriptionCanceled:
		h.mailer.SubscriptionCancelled(ctx, user.Email, after.PlanName(), after.CurrentPeriodEnd)
		h.analytics.RecordEvent(ctx, &analyticsDomain.Event{
			UserID:   user.ID,
			Type:     analyticsDomain.EventCancelled,
			PlanID:   after.PlanID(),
			PlanName: after.PlanName(),
		})

	default:
		// An active-to-active update (plan change, renewal).
		h.analytics.RecordEvent(ctx, &analyticsDomain.Event{
			UserID:   user.ID,
			Type:     analyticsDomain.EventUpdated,
			PlanID:   after.PlanID(),
			PlanName: after.PlanName(),
		})
	}
}

func (h *LifecycleHandler) onNewlyActive(ctx context.Context, user *identityDomain.User, after *domain.Subscription) {
	h.mailer.SubscriptionCreated(ctx, user.Email, after.PlanName(), after.Features())

	if err := h.usage.Reset(ctx, user.ID); err != nil {
		h.logger.Error("failed to reset usage counters",
			"user_id", user.ID,
			"error", err,
		)
	}

	h.analytics.RecordEvent(ctx, &analyticsDomain.Event{
		UserID:   user.ID,
		Type:     analyticsDomain.EventCreated,
		PlanID:   after.PlanID(),
		PlanName: after.PlanName(),
	})
}
