package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagecommodities/vantage/internal/shared/domain"
)

type testDomainEvent struct {
	domain.BaseEvent
	Note string `json:"note"`
}

func TestInProcessBus_PublishDomainEventWrapsEnvelope(t *testing.T) {
	bus := NewInProcessEventBus(slog.New(slog.DiscardHandler))

	consumer := &recordingConsumer{types: []string{"billing.subscription.written"}}
	bus.RegisterConsumer(consumer)

	userID := uuid.New()
	event := testDomainEvent{
		BaseEvent: domain.NewBaseEvent(userID, "Subscription", "billing.subscription.written"),
		Note:      "hello",
	}
	event.SetMetadata(domain.EventMetadata{UserID: userID, ProviderEventID: "evt_1"})

	require.NoError(t, bus.PublishDomainEvent(context.Background(), event))

	require.Len(t, consumer.handled, 1)
	got := consumer.handled[0]
	assert.Equal(t, event.EventID(), got.EventID)
	assert.Equal(t, userID, got.AggregateID)
	assert.Equal(t, "billing.subscription.written", got.RoutingKey)
	assert.Equal(t, "evt_1", got.Metadata.ProviderEventID)
	assert.Equal(t, userID, got.Metadata.UserID)

	var payload struct {
		Note string `json:"note"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "hello", payload.Note)
}

func TestInProcessBus_PublishFillsMissingRoutingKey(t *testing.T) {
	bus := NewInProcessEventBus(slog.New(slog.DiscardHandler))
	consumer := &recordingConsumer{types: []string{"identity.user.deleted"}}
	bus.RegisterConsumer(consumer)

	body, err := json.Marshal(&ConsumedEvent{EventID: uuid.New(), Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "identity.user.deleted", body))
	require.Len(t, consumer.handled, 1)
	assert.Equal(t, "identity.user.deleted", consumer.handled[0].RoutingKey)
}

func TestInProcessBus_MalformedPayloadDoesNotFailPublish(t *testing.T) {
	bus := NewInProcessEventBus(slog.New(slog.DiscardHandler))
	consumer := &recordingConsumer{types: []string{"identity.user.deleted"}}
	bus.RegisterConsumer(consumer)

	assert.NoError(t, bus.Publish(context.Background(), "identity.user.deleted", []byte("{bad")))
	assert.Empty(t, consumer.handled)
}
