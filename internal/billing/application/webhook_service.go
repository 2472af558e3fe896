package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	"github.com/vantagecommodities/vantage/internal/billing/domain"
	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
)

// WebhookService ingests subscription writes from the billing provider.
// Each write updates the local mirror and appends a subscription-written
// event to the outbox in the same transaction, so the event fires if and
// only if the mirror changed. Successful payments feed the analytics log
// directly; they carry revenue, not lifecycle side effects.
type WebhookService struct {
	subscriptions domain.SubscriptionRepository
	customers     identityDomain.CustomerRepository
	processed     domain.ProcessedEventRepository
	outbox        outbox.Repository
	analytics     AnalyticsRecorder
	tx            persistence.TxManager
	logger        *slog.Logger
}

func NewWebhookService(
	subscriptions domain.SubscriptionRepository,
	customers identityDomain.CustomerRepository,
	processed domain.ProcessedEventRepository,
	outboxRepo outbox.Repository,
	analytics AnalyticsRecorder,
	tx persistence.TxManager,
	logger *slog.Logger,
) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		subscriptions: subscriptions,
		customers:     customers,
		processed:     processed,
		outbox:        outboxRepo,
		analytics:     analytics,
		tx:            tx,
		logger:        logger,
	}
}

// UpsertSubscription records a created or updated subscription for the
// given provider customer. The incoming subscription's UserID is resolved
// here; callers pass it as received from the provider.
func (s *WebhookService) UpsertSubscription(ctx context.Context, providerEventID, providerCustomerID string, incoming *domain.Subscription) error {
	userID, err := s.resolveUser(ctx, providerCustomerID)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		// A provider customer we never created; nothing local to update.
		s.logger.Warn("subscription write for unmapped customer",
			"provider_customer_id", providerCustomerID,
			"subscription_id", incoming.ID,
		)
		return nil
	}
	incoming.UserID = userID

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		before, err := s.subscriptions.FindByID(ctx, incoming.ID)
		if err != nil {
			return fmt.Errorf("failed to load subscription mirror: %w", err)
		}

		if err := s.subscriptions.Upsert(ctx, incoming); err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		return s.appendEvent(ctx, userID, providerEventID, before, incoming)
	})
}

// DeleteSubscription records a provider-side subscription deletion. The
// emitted event carries a nil after state.
func (s *WebhookService) DeleteSubscription(ctx context.Context, providerEventID, providerCustomerID, subscriptionID string) error {
	userID, err := s.resolveUser(ctx, providerCustomerID)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		return nil
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		before, err := s.subscriptions.FindByID(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("failed to load subscription mirror: %w", err)
		}
		if before == nil {
			return nil
		}

		if err := s.subscriptions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete subscription mirror: %w", err)
		}

		return s.appendEvent(ctx, userID, providerEventID, before, nil)
	})
}

// RecordPayment appends a payment_succeeded analytics event for a settled
// invoice. The provider event id is check-and-set first, so a redelivered
// invoice never double-counts revenue. Plan attribution comes from the
// local subscription mirror.
func (s *WebhookService) RecordPayment(ctx context.Context, providerEventID, providerCustomerID, subscriptionID string, amount int64, currency string) error {
	userID, err := s.resolveUser(ctx, providerCustomerID)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		s.logger.Warn("payment for unmapped customer",
			"provider_customer_id", providerCustomerID,
			"subscription_id", subscriptionID,
		)
		return nil
	}

	if providerEventID != "" {
		first, err := s.processed.MarkProcessed(ctx, providerEventID)
		if err != nil {
			return fmt.Errorf("failed to record processed event: %w", err)
		}
		if !first {
			s.logger.Info("duplicate payment event, skipping",
				"provider_event_id", providerEventID,
				"user_id", userID,
			)
			return nil
		}
	}

	sub, err := s.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription mirror: %w", err)
	}
	if sub == nil {
		sub, err = s.subscriptions.FindByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load subscription mirror: %w", err)
		}
	}

	s.analytics.RecordEvent(ctx, &analyticsDomain.Event{
		UserID:   userID,
		Type:     analyticsDomain.EventPaymentSucceeded,
		PlanID:   sub.PlanID(),
		PlanName: sub.PlanName(),
		Amount:   amount,
		Currency: currency,
	})
	return nil
}

func (s *WebhookService) resolveUser(ctx context.Context, providerCustomerID string) (uuid.UUID, error) {
	userID, err := s.customers.UserIDByProviderCustomerID(ctx, providerCustomerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve customer mapping: %w", err)
	}
	return userID, nil
}

func (s *WebhookService) appendEvent(ctx context.Context, userID uuid.UUID, providerEventID string, before, after *domain.Subscription) error {
	event := domain.NewSubscriptionWritten(userID, providerEventID, before, after)
	msg, err := outbox.NewMessage(event)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}
	if err := s.outbox.Save(ctx, msg); err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	return nil
}
