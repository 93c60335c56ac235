package infrastructure

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// WatermillEventPublisher maps an event's logical name to its destination
// topic and sends the flat JSON envelope over a watermill publisher. Delivery
// is at-least-once; callers ack their inbound message only after Publish
// returns nil.
type WatermillEventPublisher struct {
	publisher message.Publisher
	topics    map[string]string
	logger    pkgApp.AppLogger
}

func NewWatermillEventPublisher(publisher message.Publisher, topics map[string]string, logger pkgApp.AppLogger) *WatermillEventPublisher {
	return &WatermillEventPublisher{
		publisher: publisher,
		topics:    topics,
		logger:    logger,
	}
}

func (p *WatermillEventPublisher) Publish(ctx context.Context, event pkgDomain.Event) error {
	payload, err := marshalEnvelope(ctx, event)
	if err != nil {
		return err
	}

	topic := p.topicFor(event.EventName())
	msg := message.NewMessage(watermill.NewUUID(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		pkgApp.LogError(ctx, p.logger, "failed to publish event", err, map[string]interface{}{
			"event": event.EventName(),
			"topic": topic,
		})
		return err
	}

	pkgApp.LogInfo(ctx, p.logger, "event published", map[string]interface{}{
		"event": event.EventName(),
		"topic": topic,
	})
	return nil
}

func (p *WatermillEventPublisher) topicFor(eventName string) string {
	if topic, ok := p.topics[eventName]; ok {
		return topic
	}
	// Unmapped event types get a derived topic instead of an error.
	return "anonymization-" + strings.ToLower(eventName)
}

// marshalEnvelope flattens the event into the wire envelope: the event's own
// fields plus "type" and, when the context carries one, "correlation_id".
func marshalEnvelope(ctx context.Context, event pkgDomain.Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	envelope := map[string]interface{}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	envelope["type"] = event.EventName()
	if correlationID := pkgApp.CorrelationIDFromContext(ctx); correlationID != "" {
		envelope["correlation_id"] = correlationID
	}

	return json.Marshal(envelope)
}

var _ domain.EventPublisher = (*WatermillEventPublisher)(nil)
