package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
)

func newTestService(users *fakeUserRepo, outboxRepo *outbox.InMemoryRepository) *Service {
	return NewService(users, outboxRepo, persistence.NewPassthroughTxManager(), slog.New(slog.DiscardHandler))
}

func TestService_Register(t *testing.T) {
	users := newFakeUserRepo()
	service := newTestService(users, outbox.NewInMemoryRepository())

	user, err := service.Register(context.Background(), "new@example.com", "New Trader")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, domain.RoleMember, user.Role)

	stored, err := users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "new@example.com", stored.Email)
}

func TestService_RegisterRequiresEmail(t *testing.T) {
	service := newTestService(newFakeUserRepo(), outbox.NewInMemoryRepository())

	_, err := service.Register(context.Background(), "   ", "X")
	assert.ErrorIs(t, err, domain.ErrEmailRequired)
}

func TestService_RegisterRejectsDuplicateEmail(t *testing.T) {
	existing, err := domain.NewUser("taken@example.com", "First")
	require.NoError(t, err)
	service := newTestService(newFakeUserRepo(existing), outbox.NewInMemoryRepository())

	_, err = service.Register(context.Background(), "Taken@Example.com", "Second")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestService_RegisterNormalizesEmail(t *testing.T) {
	service := newTestService(newFakeUserRepo(), outbox.NewInMemoryRepository())

	user, err := service.Register(context.Background(), "  Desk@Example.COM ", "Desk")
	require.NoError(t, err)
	assert.Equal(t, "desk@example.com", user.Email)
}

func TestService_RequestDeletionEmitsEvent(t *testing.T) {
	user, err := domain.NewUser("leaving@example.com", "Leaving Trader")
	require.NoError(t, err)
	users := newFakeUserRepo(user)
	outboxRepo := outbox.NewInMemoryRepository()
	service := newTestService(users, outboxRepo)
	ctx := context.Background()

	require.NoError(t, service.RequestDeletion(ctx, user.ID))

	// The user row survives the request; the cleanup consumer removes it.
	stored, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)

	messages, err := outboxRepo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoutingKeyUserDeleted, messages[0].RoutingKey)

	var payload struct {
		UserID uuid.UUID `json:"user_id"`
		Email  string    `json:"email"`
	}
	require.NoError(t, json.Unmarshal(messages[0].Payload, &payload))
	assert.Equal(t, user.ID, payload.UserID)
	assert.Equal(t, "leaving@example.com", payload.Email)
}

func TestService_RequestDeletionUnknownUser(t *testing.T) {
	outboxRepo := outbox.NewInMemoryRepository()
	service := newTestService(newFakeUserRepo(), outboxRepo)

	err := service.RequestDeletion(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	messages, err := outboxRepo.GetUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
