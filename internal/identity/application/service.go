// Package application holds the identity use cases: account registration,
// admin-initiated deletion, and the cleanup that runs after a deletion.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vantagecommodities/vantage/internal/identity/domain"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
)

// Service covers account-level operations.
type Service struct {
	users  domain.UserRepository
	outbox outbox.Repository
	tx     persistence.TxManager
	logger *slog.Logger
}

func NewService(users domain.UserRepository, outboxRepo outbox.Repository, tx persistence.TxManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, outbox: outboxRepo, tx: tx, logger: logger}
}

// Register creates a member account. Emails are unique: registering one
// that already has an account returns ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, displayName string) (*domain.User, error) {
	user, err := domain.NewUser(email, displayName)
	if err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrEmailTaken
	}

	if err := s.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return user, nil
}

// GetUser loads an account; nil when it does not exist.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// RequestDeletion emits a user-deleted event for the cleanup pipeline. The
// user row itself is removed by the cleanup handler once billing-side
// teardown has run, so a crashed cleanup can be retried against intact state.
func (s *Service) RequestDeletion(ctx context.Context, id uuid.UUID) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return domain.ErrUserNotFound
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		event := domain.NewUserDeleted(user.ID, user.Email)
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return fmt.Errorf("failed to build outbox message: %w", err)
		}
		if err := s.outbox.Save(ctx, msg); err != nil {
			return fmt.Errorf("failed to append outbox message: %w", err)
		}
		return nil
	})
}
