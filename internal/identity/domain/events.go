package domain

import (
	"github.com/google/uuid"

	sharedDomain "github.com/vantagecommodities/vantage/internal/shared/domain"
)

const (
	AggregateType = "User"

	// RoutingKeyUserDeleted fires when an account is removed; the cleanup
	// handler reclaims provider and application resources from it.
	RoutingKeyUserDeleted = "identity.user.deleted"
)

// UserDeleted is emitted when an account is deleted.
type UserDeleted struct {
	sharedDomain.BaseEvent
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// NewUserDeleted creates a UserDeleted event.
func NewUserDeleted(userID uuid.UUID, email string) UserDeleted {
	e := UserDeleted{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyUserDeleted),
		UserID:    userID,
		Email:     email,
	}
	e.SetMetadata(sharedDomain.EventMetadata{UserID: userID})
	return e
}
