package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a fact that already happened. The logical name is stable and used
// both for wire dispatch and for topic routing.
type Event interface {
	EventName() string
	EventID() uuid.UUID
	OccurredAt() time.Time
}

// EventMeta carries the identity and generation timestamp shared by every
// domain event. Embed it; its fields flatten into the event's JSON object.
type EventMeta struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventMeta stamps a fresh event identity.
func NewEventMeta() EventMeta {
	return EventMeta{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
	}
}

func (m EventMeta) EventID() uuid.UUID    { return m.ID }
func (m EventMeta) OccurredAt() time.Time { return m.Timestamp }
