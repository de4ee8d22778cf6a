package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity provides common fields for all entities
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetID returns the entity ID
func (e *BaseEntity) GetID() uuid.UUID {
	return e.ID
}

// Touch bumps the update timestamp
func (e *BaseEntity) Touch(now time.Time) {
	e.UpdatedAt = now
}

// NewBaseEntity creates a new base entity with generated ID
func NewBaseEntity() BaseEntity {
	return NewBaseEntityAt(uuid.New(), time.Now())
}

// NewBaseEntityAt creates a base entity with a caller-supplied identity and timestamp.
// Source documents keep the id assigned by the system that produced them.
func NewBaseEntityAt(id uuid.UUID, now time.Time) BaseEntity {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return BaseEntity{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
