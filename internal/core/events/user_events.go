package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeUserUpdated = "user.updated"
	EventTypeUserDeleted = "user.deleted"
)

// UserUpdatedEvent fires on profile edits, role changes and reporting-line
// changes. Consumers that cache derived views of the user record drop their
// entries for the affected tenant.
type UserUpdatedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func NewUserUpdatedEvent(userID, tenantID, role string) *UserUpdatedEvent {
	return &UserUpdatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeUserUpdated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id":   userID,
				"tenant_id": tenantID,
				"role":      role,
			},
		},
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
	}
}

type UserDeletedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

func NewUserDeletedEvent(userID, tenantID string) *UserDeletedEvent {
	return &UserDeletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeUserDeleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id":   userID,
				"tenant_id": tenantID,
			},
		},
		UserID:   userID,
		TenantID: tenantID,
	}
}
