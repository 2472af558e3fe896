package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	"github.com/vantagecommodities/vantage/internal/billing/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
)

type fakeSubscriptionRepo struct {
	byID map[string]*domain.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byID: make(map[string]*domain.Subscription)}
}

func (r *fakeSubscriptionRepo) Upsert(_ context.Context, sub *domain.Subscription) error {
	r.byID[sub.ID] = sub
	return nil
}

func (r *fakeSubscriptionRepo) FindByID(_ context.Context, id string) (*domain.Subscription, error) {
	return r.byID[id], nil
}

func (r *fakeSubscriptionRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	for _, sub := range r.byID {
		if sub.UserID == userID {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *fakeSubscriptionRepo) DeleteByUserID(_ context.Context, userID uuid.UUID) error {
	for id, sub := range r.byID {
		if sub.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

type fakeCustomerRepo struct {
	byCustomer map[string]uuid.UUID
}

func newFakeCustomerRepo() *fakeCustomerRepo {
	return &fakeCustomerRepo{byCustomer: make(map[string]uuid.UUID)}
}

func (r *fakeCustomerRepo) Save(_ context.Context, userID uuid.UUID, providerCustomerID string) error {
	r.byCustomer[providerCustomerID] = userID
	return nil
}

func (r *fakeCustomerRepo) ProviderCustomerID(_ context.Context, userID uuid.UUID) (string, error) {
	for cust, id := range r.byCustomer {
		if id == userID {
			return cust, nil
		}
	}
	return "", nil
}

func (r *fakeCustomerRepo) UserIDByProviderCustomerID(_ context.Context, providerCustomerID string) (uuid.UUID, error) {
	return r.byCustomer[providerCustomerID], nil
}

func (r *fakeCustomerRepo) Delete(_ context.Context, userID uuid.UUID) error {
	for cust, id := range r.byCustomer {
		if id == userID {
			delete(r.byCustomer, cust)
		}
	}
	return nil
}

type webhookFixture struct {
	service       *WebhookService
	subscriptions *fakeSubscriptionRepo
	customers     *fakeCustomerRepo
	processed     *fakeProcessedRepo
	outbox        *outbox.InMemoryRepository
	analytics     *fakeAnalytics
	userID        uuid.UUID
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	f := &webhookFixture{
		subscriptions: newFakeSubscriptionRepo(),
		customers:     newFakeCustomerRepo(),
		processed:     newFakeProcessedRepo(),
		outbox:        outbox.NewInMemoryRepository(),
		analytics:     &fakeAnalytics{},
		userID:        uuid.New(),
	}
	require.NoError(t, f.customers.Save(context.Background(), f.userID, "cus_123"))

	f.service = NewWebhookService(
		f.subscriptions, f.customers, f.processed, f.outbox, f.analytics,
		persistence.NewPassthroughTxManager(),
		slog.New(slog.DiscardHandler))
	return f
}

func (f *webhookFixture) pendingMessages(t *testing.T) []*outbox.Message {
	t.Helper()
	messages, err := f.outbox.GetUnpublished(context.Background(), 100)
	require.NoError(t, err)
	return messages
}

func TestWebhookService_UpsertEmitsBeforeAndAfter(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	first := &domain.Subscription{
		ID:     "sub_1",
		Status: domain.SubscriptionActive,
		Items:  []domain.SubscriptionItem{{PriceID: "price_desk", ProductName: "Desk"}},
	}
	require.NoError(t, f.service.UpsertSubscription(ctx, "evt_1", "cus_123", first))

	updated := &domain.Subscription{
		ID:     "sub_1",
		Status: domain.SubscriptionPastDue,
		Items:  []domain.SubscriptionItem{{PriceID: "price_desk", ProductName: "Desk"}},
	}
	require.NoError(t, f.service.UpsertSubscription(ctx, "evt_2", "cus_123", updated))

	messages := f.pendingMessages(t)
	require.Len(t, messages, 2)

	var payload struct {
		UserID uuid.UUID            `json:"user_id"`
		Before *domain.Subscription `json:"before"`
		After  *domain.Subscription `json:"after"`
	}
	require.NoError(t, json.Unmarshal(messages[0].Payload, &payload))
	assert.Equal(t, f.userID, payload.UserID)
	assert.Nil(t, payload.Before)
	require.NotNil(t, payload.After)
	assert.Equal(t, domain.SubscriptionActive, payload.After.Status)

	require.NoError(t, json.Unmarshal(messages[1].Payload, &payload))
	require.NotNil(t, payload.Before)
	assert.Equal(t, domain.SubscriptionActive, payload.Before.Status)
	assert.Equal(t, domain.SubscriptionPastDue, payload.After.Status)

	assert.Equal(t, domain.RoutingKeySubscriptionWritten, messages[0].RoutingKey)
}

func TestWebhookService_UpsertResolvesUserID(t *testing.T) {
	f := newWebhookFixture(t)

	sub := &domain.Subscription{ID: "sub_1", Status: domain.SubscriptionActive}
	require.NoError(t, f.service.UpsertSubscription(context.Background(), "evt_1", "cus_123", sub))

	stored := f.subscriptions.byID["sub_1"]
	require.NotNil(t, stored)
	assert.Equal(t, f.userID, stored.UserID)
}

func TestWebhookService_UnmappedCustomerIsNoOp(t *testing.T) {
	f := newWebhookFixture(t)

	sub := &domain.Subscription{ID: "sub_x", Status: domain.SubscriptionActive}
	require.NoError(t, f.service.UpsertSubscription(context.Background(), "evt_1", "cus_unknown", sub))

	assert.Empty(t, f.subscriptions.byID)
	assert.Empty(t, f.pendingMessages(t))
}

func TestWebhookService_DeleteEmitsNilAfter(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	sub := &domain.Subscription{ID: "sub_1", Status: domain.SubscriptionActive}
	require.NoError(t, f.service.UpsertSubscription(ctx, "evt_1", "cus_123", sub))

	require.NoError(t, f.service.DeleteSubscription(ctx, "evt_2", "cus_123", "sub_1"))

	assert.Empty(t, f.subscriptions.byID)

	messages := f.pendingMessages(t)
	require.Len(t, messages, 2)

	var payload struct {
		Before *domain.Subscription `json:"before"`
		After  *domain.Subscription `json:"after"`
	}
	require.NoError(t, json.Unmarshal(messages[1].Payload, &payload))
	assert.NotNil(t, payload.Before)
	assert.Nil(t, payload.After)
}

func TestWebhookService_DeleteOfMissingSubscriptionEmitsNothing(t *testing.T) {
	f := newWebhookFixture(t)

	require.NoError(t, f.service.DeleteSubscription(context.Background(), "evt_1", "cus_123", "sub_ghost"))
	assert.Empty(t, f.pendingMessages(t))
}

func TestWebhookService_RecordPaymentCarriesAmountAndPlan(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	sub := &domain.Subscription{
		ID:     "sub_1",
		Status: domain.SubscriptionActive,
		Items:  []domain.SubscriptionItem{{PriceID: "price_desk", ProductName: "Desk"}},
	}
	require.NoError(t, f.service.UpsertSubscription(ctx, "evt_sub", "cus_123", sub))

	require.NoError(t, f.service.RecordPayment(ctx, "evt_inv", "cus_123", "sub_1", 9_900, "usd"))

	require.Len(t, f.analytics.events, 1)
	event := f.analytics.events[0]
	assert.Equal(t, analyticsDomain.EventPaymentSucceeded, event.Type)
	assert.Equal(t, int64(9_900), event.Amount)
	assert.Equal(t, "usd", event.Currency)
	assert.Equal(t, "price_desk", event.PlanID)
	assert.Equal(t, "Desk", event.PlanName)
	assert.Equal(t, f.userID, event.UserID)
}

func TestWebhookService_RecordPaymentIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.RecordPayment(ctx, "evt_inv", "cus_123", "sub_1", 9_900, "usd"))
	require.NoError(t, f.service.RecordPayment(ctx, "evt_inv", "cus_123", "sub_1", 9_900, "usd"))

	assert.Len(t, f.analytics.events, 1, "a redelivered invoice must not double-count revenue")
}

func TestWebhookService_RecordPaymentUnmappedCustomerIsNoOp(t *testing.T) {
	f := newWebhookFixture(t)

	require.NoError(t, f.service.RecordPayment(context.Background(), "evt_inv", "cus_unknown", "sub_1", 9_900, "usd"))
	assert.Empty(t, f.analytics.events)
}

func TestWebhookService_RecordPaymentFallsBackToUserSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	sub := &domain.Subscription{
		ID:     "sub_1",
		Status: domain.SubscriptionActive,
		Items:  []domain.SubscriptionItem{{PriceID: "price_starter", ProductName: "Starter"}},
	}
	require.NoError(t, f.service.UpsertSubscription(ctx, "evt_sub", "cus_123", sub))

	// A one-off invoice carries no subscription reference.
	require.NoError(t, f.service.RecordPayment(ctx, "evt_inv", "cus_123", "", 500, "usd"))

	require.Len(t, f.analytics.events, 1)
	assert.Equal(t, "price_starter", f.analytics.events[0].PlanID)
	assert.Equal(t, int64(500), f.analytics.events[0].Amount)
}
