package application

import (
	"context"

	"github.com/saludtech/anonymization-service/pkg/domain"
)

// EventHandler reacts to a single event type. Event handlers run outside any
// transaction; an error only affects acknowledgment of the inbound message.
type EventHandler[E domain.Event] interface {
	Handle(ctx context.Context, event E) error
}
