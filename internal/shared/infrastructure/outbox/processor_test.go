package outbox

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
)

type published struct {
	routingKey string
	body       []byte
}

type fakePublisher struct {
	published []published
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, published{routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func testMessage(t *testing.T) *Message {
	t.Helper()
	return &Message{
		EventID:       uuid.New(),
		AggregateType: "Subscription",
		AggregateID:   uuid.New(),
		EventType:     "billing.subscription.written",
		RoutingKey:    "billing.subscription.written",
		Payload:       json.RawMessage(`{"user_id":"x","after":null}`),
		Metadata:      json.RawMessage(`{"provider_event_id":"evt_1"}`),
		CreatedAt:     time.Now().UTC(),
	}
}

func testProcessorConfig() ProcessorConfig {
	cfg := DefaultProcessorConfig()
	cfg.MaxRetries = 3
	return cfg
}

func TestProcessor_ProcessOncePublishesEnvelope(t *testing.T) {
	repo := NewInMemoryRepository()
	publisher := &fakePublisher{}
	processor := NewProcessor(repo, publisher, testProcessorConfig(), slog.New(slog.DiscardHandler))
	ctx := context.Background()

	msg := testMessage(t)
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, processor.ProcessOnce(ctx))

	require.Len(t, publisher.published, 1)
	assert.Equal(t, "billing.subscription.written", publisher.published[0].routingKey)

	var envelope struct {
		EventID       uuid.UUID       `json:"event_id"`
		AggregateID   uuid.UUID       `json:"aggregate_id"`
		AggregateType string          `json:"aggregate_type"`
		RoutingKey    string          `json:"routing_key"`
		OccurredAt    time.Time       `json:"occurred_at"`
		Payload       json.RawMessage `json:"payload"`
		Metadata      json.RawMessage `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(publisher.published[0].body, &envelope))
	assert.Equal(t, msg.EventID, envelope.EventID)
	assert.Equal(t, msg.AggregateID, envelope.AggregateID)
	assert.Equal(t, "Subscription", envelope.AggregateType)
	assert.Equal(t, "billing.subscription.written", envelope.RoutingKey)
	assert.JSONEq(t, string(msg.Payload), string(envelope.Payload))
	assert.JSONEq(t, string(msg.Metadata), string(envelope.Metadata))

	// Published messages leave the pending set.
	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.PublishedCount)
}

func TestProcessor_FailedPublishSchedulesRetry(t *testing.T) {
	repo := NewInMemoryRepository()
	publisher := &fakePublisher{err: errors.New("broker unavailable")}
	processor := NewProcessor(repo, publisher, testProcessorConfig(), slog.New(slog.DiscardHandler))
	ctx := context.Background()

	msg := testMessage(t)
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, processor.ProcessOnce(ctx))

	assert.Equal(t, 1, msg.RetryCount)
	require.NotNil(t, msg.NextRetryAt)
	assert.True(t, msg.NextRetryAt.After(time.Now()), "retry must be deferred")
	assert.Nil(t, msg.DeadLetteredAt)

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Contains(t, stats.LastError, "broker unavailable")
}

func TestProcessor_DeadLettersAfterMaxRetries(t *testing.T) {
	repo := NewInMemoryRepository()
	publisher := &fakePublisher{err: errors.New("broker unavailable")}
	processor := NewProcessor(repo, publisher, testProcessorConfig(), slog.New(slog.DiscardHandler))
	ctx := context.Background()

	msg := testMessage(t)
	msg.RetryCount = 2 // next failure is attempt 3 of 3
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, processor.ProcessOnce(ctx))

	require.NotNil(t, msg.DeadLetteredAt)
	require.NotNil(t, msg.DeadLetterReason)
	assert.Contains(t, *msg.DeadLetterReason, "broker unavailable")

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "dead-lettered messages are never repolled")
	assert.Equal(t, uint64(1), processor.GetStats().DeadCount)
}

func TestProcessor_RetryBackoffIsCappedExponential(t *testing.T) {
	cfg := ProcessorConfig{
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  10 * time.Second,
		MaxRetries:       10,
	}
	processor := NewProcessor(NewInMemoryRepository(), &fakePublisher{}, cfg, slog.New(slog.DiscardHandler))

	assert.Equal(t, time.Second, processor.retryBackoff(1))
	assert.Equal(t, 2*time.Second, processor.retryBackoff(2))
	assert.Equal(t, 4*time.Second, processor.retryBackoff(3))
	assert.Equal(t, 8*time.Second, processor.retryBackoff(4))
	assert.Equal(t, 10*time.Second, processor.retryBackoff(5))
	assert.Equal(t, 10*time.Second, processor.retryBackoff(20))
}

func TestProcessor_StartAndStop(t *testing.T) {
	processor := NewProcessor(NewInMemoryRepository(), &fakePublisher{}, testProcessorConfig(), slog.New(slog.DiscardHandler))

	require.NoError(t, processor.Start(context.Background()))
	assert.True(t, processor.IsRunning())

	// Idempotent start.
	require.NoError(t, processor.Start(context.Background()))

	processor.Stop()
	assert.False(t, processor.IsRunning())

	// Idempotent stop.
	processor.Stop()
}

func TestProcessor_EmptyBatchResetsLag(t *testing.T) {
	processor := NewProcessor(NewInMemoryRepository(), &fakePublisher{}, testProcessorConfig(), slog.New(slog.DiscardHandler))

	require.NoError(t, processor.ProcessOnce(context.Background()))

	stats := processor.GetStats()
	assert.Zero(t, stats.LagSeconds)
	assert.Nil(t, stats.OldestMessageAt)
	assert.NotNil(t, stats.LastProcessedAt)
}
