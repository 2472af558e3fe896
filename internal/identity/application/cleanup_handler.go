package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	billingDomain "github.com/vantagecommodities/vantage/internal/billing/domain"
	"github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/eventbus"
)

// UsagePurger removes a user's usage counters during cleanup.
type UsagePurger interface {
	Purge(ctx context.Context, userID uuid.UUID) error
}

// DeletionMailer sends the account-deleted confirmation.
type DeletionMailer interface {
	AccountDeleted(ctx context.Context, recipient string)
}

// CleanupHandler consumes user-deleted events and reclaims everything tied
// to the account: provider subscriptions and customer, the customer mapping,
// usage counters, the subscription mirror, and finally the user row.
//
// Every step is best effort. A failed step is logged and the rest proceed;
// an orphaned provider object costs money, an orphaned local row costs
// nothing, so provider-side teardown runs first.
type CleanupHandler struct {
	users         domain.UserRepository
	customers     domain.CustomerRepository
	subscriptions billingDomain.SubscriptionRepository
	provider      billingDomain.BillingProvider
	usage         UsagePurger
	mailer        DeletionMailer
	logger        *slog.Logger
}

func NewCleanupHandler(
	users domain.UserRepository,
	customers domain.CustomerRepository,
	subscriptions billingDomain.SubscriptionRepository,
	provider billingDomain.BillingProvider,
	usage UsagePurger,
	mailer DeletionMailer,
	logger *slog.Logger,
) *CleanupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupHandler{
		users:         users,
		customers:     customers,
		subscriptions: subscriptions,
		provider:      provider,
		usage:         usage,
		mailer:        mailer,
		logger:        logger,
	}
}

// EventTypes implements eventbus.EventConsumer.
func (h *CleanupHandler) EventTypes() []string {
	return []string{domain.RoutingKeyUserDeleted}
}

type userDeletedPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// Handle implements eventbus.EventConsumer.
func (h *CleanupHandler) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var payload userDeletedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.Error("failed to decode user deletion",
			"event_id", event.EventID,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With("user_id", payload.UserID)
	logger.Info("starting account cleanup")

	h.teardownProvider(ctx, payload.UserID, logger)
	h.teardownLocal(ctx, payload.UserID, logger)

	if payload.Email != "" {
		h.mailer.AccountDeleted(ctx, payload.Email)
	}

	logger.Info("account cleanup finished")
	return nil
}

func (h *CleanupHandler) teardownProvider(ctx context.Context, userID uuid.UUID, logger *slog.Logger) {
	customerID, err := h.customers.ProviderCustomerID(ctx, userID)
	if err != nil {
		logger.Error("failed to look up provider customer", "error", err)
		return
	}
	if customerID == "" {
		return
	}

	subs, err := h.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		logger.Error("failed to list provider subscriptions", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			if err := h.provider.CancelSubscription(gctx, sub.ID); err != nil {
				logger.Warn("failed to cancel provider subscription",
					"subscription_id", sub.ID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := h.provider.DeleteCustomer(ctx, customerID); err != nil {
		logger.Warn("failed to delete provider customer",
			"provider_customer_id", customerID,
			"error", err,
		)
	}
}

func (h *CleanupHandler) teardownLocal(ctx context.Context, userID uuid.UUID, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := h.customers.Delete(gctx, userID); err != nil {
			logger.Warn("failed to delete customer mapping", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := h.subscriptions.DeleteByUserID(gctx, userID); err != nil {
			logger.Warn("failed to delete subscription mirror", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := h.usage.Purge(gctx, userID); err != nil {
			logger.Warn("failed to purge usage counters", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	// The user row goes last so a partial cleanup remains retryable.
	if err := h.users.Delete(ctx, userID); err != nil {
		logger.Error("failed to delete user row", "error", err)
	}
}
