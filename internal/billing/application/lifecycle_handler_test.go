package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	"github.com/vantagecommodities/vantage/internal/billing/domain"
	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/eventbus"
)

type fakeUserRepo struct {
	users       map[uuid.UUID]*identityDomain.User
	findErr     error
	casApplied  []casCall
	casResult   bool
	casErr      error
}

type casCall struct {
	userID    uuid.UUID
	status    string
	plan      string
	updatedAt time.Time
}

func newFakeUserRepo(users ...*identityDomain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uuid.UUID]*identityDomain.User), casResult: true}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepo) Save(_ context.Context, user *identityDomain.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*identityDomain.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.users[id], nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*identityDomain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) UpdateSubscriptionState(_ context.Context, id uuid.UUID, status, plan string, updatedAt time.Time) (bool, error) {
	if r.casErr != nil {
		return false, r.casErr
	}
	r.casApplied = append(r.casApplied, casCall{userID: id, status: status, plan: plan, updatedAt: updatedAt})
	return r.casResult, nil
}

type fakeProcessedRepo struct {
	seen map[string]bool
	err  error
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{seen: make(map[string]bool)}
}

func (r *fakeProcessedRepo) MarkProcessed(_ context.Context, id string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if r.seen[id] {
		return false, nil
	}
	r.seen[id] = true
	return true, nil
}

type fakeProvider struct {
	retried   []string
	retryErr  error
	cancelled []string
	deleted   []string
	subs      []domain.ProviderSubscription
	listErr   error
	cancelErr error
}

func (p *fakeProvider) ListSubscriptions(_ context.Context, _ string) ([]domain.ProviderSubscription, error) {
	return p.subs, p.listErr
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, id)
	return nil
}

func (p *fakeProvider) RetryPayment(_ context.Context, id string) error {
	p.retried = append(p.retried, id)
	return p.retryErr
}

func (p *fakeProvider) DeleteCustomer(_ context.Context, id string) error {
	p.deleted = append(p.deleted, id)
	return nil
}

type sentMail struct {
	template  string
	recipient string
	planName  string
	features  []string
	periodEnd *time.Time
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SubscriptionCreated(_ context.Context, recipient, planName string, features []string) {
	m.sent = append(m.sent, sentMail{template: "subscription_created", recipient: recipient, planName: planName, features: features})
}

func (m *fakeMailer) SubscriptionCancelled(_ context.Context, recipient, planName string, periodEnd *time.Time) {
	m.sent = append(m.sent, sentMail{template: "subscription_cancelled", recipient: recipient, planName: planName, periodEnd: periodEnd})
}

func (m *fakeMailer) PaymentFailed(_ context.Context, recipient, planName string) {
	m.sent = append(m.sent, sentMail{template: "payment_failed", recipient: recipient, planName: planName})
}

type fakeUsage struct {
	resets []uuid.UUID
	purges []uuid.UUID
	err    error
}

func (u *fakeUsage) Reset(_ context.Context, id uuid.UUID) error {
	u.resets = append(u.resets, id)
	return u.err
}

func (u *fakeUsage) Purge(_ context.Context, id uuid.UUID) error {
	u.purges = append(u.purges, id)
	return u.err
}

type fakeAnalytics struct {
	events []*analyticsDomain.Event
}

func (a *fakeAnalytics) RecordEvent(_ context.Context, event *analyticsDomain.Event) {
	a.events = append(a.events, event)
}

type lifecycleFixture struct {
	handler   *LifecycleHandler
	users     *fakeUserRepo
	processed *fakeProcessedRepo
	provider  *fakeProvider
	mailer    *fakeMailer
	usage     *fakeUsage
	analytics *fakeAnalytics
	user      *identityDomain.User
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	user, err := identityDomain.NewUser("trader@example.com", "Test Trader")
	require.NoError(t, err)

	f := &lifecycleFixture{
		users:     newFakeUserRepo(user),
		processed: newFakeProcessedRepo(),
		provider:  &fakeProvider{},
		mailer:    &fakeMailer{},
		usage:     &fakeUsage{},
		analytics: &fakeAnalytics{},
		user:      user,
	}
	f.handler = NewLifecycleHandler(
		f.users, f.processed, f.provider, f.mailer, f.usage, f.analytics,
		slog.New(slog.DiscardHandler))
	return f
}

func writtenEvent(t *testing.T, userID uuid.UUID, providerEventID string, before, after *domain.Subscription) *eventbus.ConsumedEvent {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"user_id": userID,
		"before":  before,
		"after":   after,
	})
	require.NoError(t, err)

	return &eventbus.ConsumedEvent{
		EventID:       uuid.New(),
		AggregateID:   userID,
		AggregateType: domain.AggregateType,
		RoutingKey:    domain.RoutingKeySubscriptionWritten,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		Metadata: eventbus.EventMetadata{
			UserID:          userID,
			ProviderEventID: providerEventID,
		},
	}
}

func activeSubscription(userID uuid.UUID) *domain.Subscription {
	return &domain.Subscription{
		ID:     "sub_123",
		UserID: userID,
		Status: domain.SubscriptionActive,
		Items: []domain.SubscriptionItem{
			{PriceID: "price_desk", ProductName: "Desk", Features: []string{"Live quotes", "Desk reports"}},
		},
	}
}

func TestLifecycleHandler_NewSubscription(t *testing.T) {
	f := newLifecycleFixture(t)
	event := writtenEvent(t, f.user.ID, "evt_1", nil, activeSubscription(f.user.ID))

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "subscription_created", f.mailer.sent[0].template)
	assert.Equal(t, "trader@example.com", f.mailer.sent[0].recipient)
	assert.Equal(t, "Desk", f.mailer.sent[0].planName)
	assert.Equal(t, []string{"Live quotes", "Desk reports"}, f.mailer.sent[0].features)

	require.Len(t, f.usage.resets, 1)
	assert.Equal(t, f.user.ID, f.usage.resets[0])

	require.Len(t, f.analytics.events, 1)
	assert.Equal(t, analyticsDomain.EventCreated, f.analytics.events[0].Type)
	assert.Equal(t, "price_desk", f.analytics.events[0].PlanID)

	require.Len(t, f.users.casApplied, 1)
	assert.Equal(t, "active", f.users.casApplied[0].status)
	assert.Equal(t, "price_desk", f.users.casApplied[0].plan)
}

func TestLifecycleHandler_ReactivationTakesCreatedPath(t *testing.T) {
	f := newLifecycleFixture(t)

	before := activeSubscription(f.user.ID)
	before.Status = domain.SubscriptionCanceled
	event := writtenEvent(t, f.user.ID, "evt_react", before, activeSubscription(f.user.ID))

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "subscription_created", f.mailer.sent[0].template)
	assert.Len(t, f.usage.resets, 1)
}

func TestLifecycleHandler_PastDueSendsEmailWithoutRetry(t *testing.T) {
	f := newLifecycleFixture(t)

	before := activeSubscription(f.user.ID)
	after := activeSubscription(f.user.ID)
	after.Status = domain.SubscriptionPastDue
	event := writtenEvent(t, f.user.ID, "evt_pd", before, after)

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "payment_failed", f.mailer.sent[0].template)
	assert.Empty(t, f.provider.retried, "past_due must not trigger a payment retry")
	assert.Empty(t, f.usage.resets)
}

func TestLifecycleHandler_UnpaidRetriesPayment(t *testing.T) {
	f := newLifecycleFixture(t)

	before := activeSubscription(f.user.ID)
	before.Status = domain.SubscriptionPastDue
	after := activeSubscription(f.user.ID)
	after.Status = domain.SubscriptionUnpaid
	event := writtenEvent(t, f.user.ID, "evt_unpaid", before, after)

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.provider.retried, 1)
	assert.Equal(t, "sub_123", f.provider.retried[0])
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "payment_failed", f.mailer.sent[0].template)

	require.Len(t, f.analytics.events, 1)
	assert.Equal(t, analyticsDomain.EventPaymentFailed, f.analytics.events[0].Type)
	assert.Equal(t, "price_desk", f.analytics.events[0].PlanID)
}

func TestLifecycleHandler_UnpaidRetryFailureStillNotifies(t *testing.T) {
	f := newLifecycleFixture(t)
	f.provider.retryErr = errors.New("card declined")

	after := activeSubscription(f.user.ID)
	after.Status = domain.SubscriptionUnpaid
	event := writtenEvent(t, f.user.ID, "evt_unpaid2", activeSubscription(f.user.ID), after)

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	require.Len(t, f.users.casApplied, 1)
}

func TestLifecycleHandler_CancellationIncludesPeriodEnd(t *testing.T) {
	f := newLifecycleFixture(t)

	periodEnd := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	after := activeSubscription(f.user.ID)
	after.Status = domain.SubscriptionCanceled
	after.CurrentPeriodEnd = &periodEnd
	event := writtenEvent(t, f.user.ID, "evt_cancel", activeSubscription(f.user.ID), after)

	require.NoError(t, f.handler.Handle(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "subscription_cancelled", f.mailer.sent[0].template)
	require.NotNil(t, f.mailer.sent[0].periodEnd)
	assert.Equal(t, periodEnd, *f.mailer.sent[0].periodEnd)

	require.Len(t, f.analytics.events, 1)
	assert.Equal(t, analyticsDomain.EventCancelled, f.analytics.events[0].Type)
}

func TestLifecycleHandler_DeletionWriteIsIgnored(t *testing.T) {
	f := newLifecycleFixture(t)
	event := writtenEvent(t, f.user.ID, "evt_del", activeSubscription(f.user.ID), nil)

	require.NoError(t, f.handler.Handle(context.Background(), event))

	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.usage.resets)
	assert.Empty(t, f.users.casApplied)
}

func TestLifecycleHandler_UnknownUserSkipsSideEffects(t *testing.T) {
	f := newLifecycleFixture(t)
	strangerID := uuid.New()
	event := writtenEvent(t, strangerID, "evt_stranger", nil, activeSubscription(strangerID))

	require.NoError(t, f.handler.Handle(context.Background(), event))

	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.users.casApplied)
	assert.False(t, f.processed.seen["evt_stranger"], "unknown user must not consume the idempotency key")
}

func TestLifecycleHandler_DuplicateEventRunsSideEffectsOnce(t *testing.T) {
	f := newLifecycleFixture(t)
	event := writtenEvent(t, f.user.ID, "evt_dup", nil, activeSubscription(f.user.ID))

	require.NoError(t, f.handler.Handle(context.Background(), event))
	require.NoError(t, f.handler.Handle(context.Background(), event))

	assert.Len(t, f.mailer.sent, 1)
	assert.Len(t, f.usage.resets, 1)
	assert.Len(t, f.analytics.events, 1)
	assert.Len(t, f.users.casApplied, 1)
}

func TestLifecycleHandler_StaleWriteDoesNotOverwrite(t *testing.T) {
	f := newLifecycleFixture(t)
	f.users.casResult = false

	event := writtenEvent(t, f.user.ID, "evt_stale", nil, activeSubscription(f.user.ID))
	require.NoError(t, f.handler.Handle(context.Background(), event))

	// Side effects still ran; only the mirror write was superseded.
	assert.Len(t, f.mailer.sent, 1)
	assert.Len(t, f.users.casApplied, 1)
}

func TestLifecycleHandler_AcksOnProcessingFailure(t *testing.T) {
	f := newLifecycleFixture(t)
	f.users.findErr = errors.New("database down")

	event := writtenEvent(t, f.user.ID, "evt_fail", nil, activeSubscription(f.user.ID))
	assert.NoError(t, f.handler.Handle(context.Background(), event),
		"handler must ack so the broker does not redeliver")
}

func TestLifecycleHandler_MalformedPayloadIsDropped(t *testing.T) {
	f := newLifecycleFixture(t)

	event := &eventbus.ConsumedEvent{
		EventID:    uuid.New(),
		RoutingKey: domain.RoutingKeySubscriptionWritten,
		Payload:    json.RawMessage(`{not json`),
	}
	assert.NoError(t, f.handler.Handle(context.Background(), event))
	assert.Empty(t, f.mailer.sent)
}
