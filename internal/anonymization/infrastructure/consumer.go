package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// MessageHandlerFunc processes one raw message payload. A nil return
// acknowledges the message; any other error negative-acknowledges it so the
// broker redelivers.
type MessageHandlerFunc func(ctx context.Context, payload []byte) error

type envelope struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id"`
}

// Consumer runs one receive loop per subscribed topic and demultiplexes each
// message by its declared type: registered command handlers are consulted
// first, then event handlers; anything else is logged and dropped. A message
// is acked only after its handler completes without error.
type Consumer struct {
	subscriber      message.Subscriber
	commandHandlers map[string]MessageHandlerFunc
	eventHandlers   map[string]MessageHandlerFunc
	logger          pkgApp.AppLogger
	wg              sync.WaitGroup
}

func NewConsumer(subscriber message.Subscriber, logger pkgApp.AppLogger) *Consumer {
	return &Consumer{
		subscriber:      subscriber,
		commandHandlers: make(map[string]MessageHandlerFunc),
		eventHandlers:   make(map[string]MessageHandlerFunc),
		logger:          logger,
	}
}

func (c *Consumer) RegisterCommandHandler(commandName string, handler MessageHandlerFunc) {
	c.commandHandlers[commandName] = handler
}

func (c *Consumer) RegisterEventHandler(eventName string, handler MessageHandlerFunc) {
	c.eventHandlers[eventName] = handler
}

// Start subscribes to every topic and launches its receive loop. Handlers
// must be registered before Start; the loops stop when ctx is cancelled or
// the subscriber is closed.
func (c *Consumer) Start(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		messages, err := c.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		c.wg.Add(1)
		go func(topic string, messages <-chan *message.Message) {
			defer c.wg.Done()
			for msg := range messages {
				c.process(ctx, topic, msg)
			}
		}(topic, messages)
	}
	return nil
}

// Wait blocks until every receive loop has drained, typically after the
// subscriber is closed during shutdown.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) process(ctx context.Context, topic string, msg *message.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		pkgApp.LogError(ctx, c.logger, "malformed message envelope dropped", err, map[string]interface{}{
			"topic": topic,
		})
		msg.Ack()
		return
	}
	if env.Type == "" {
		pkgApp.LogInfo(ctx, c.logger, "message without type dropped", map[string]interface{}{
			"topic": topic,
		})
		msg.Ack()
		return
	}

	handler, isCommand := c.commandHandlers[env.Type]
	if !isCommand {
		var registered bool
		handler, registered = c.eventHandlers[env.Type]
		if !registered {
			pkgApp.LogInfo(ctx, c.logger, "no handler registered for message type", map[string]interface{}{
				"topic": topic,
				"type":  env.Type,
			})
			msg.Ack()
			return
		}
	}

	msgCtx := pkgApp.WithCorrelationID(ctx, env.CorrelationID)
	if err := handler(msgCtx, msg.Payload); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			// Redelivery cannot fix a malformed payload.
			pkgApp.LogError(msgCtx, c.logger, "invalid message dropped", err, map[string]interface{}{
				"topic": topic,
				"type":  env.Type,
			})
			msg.Ack()
			return
		}

		pkgApp.LogError(msgCtx, c.logger, "message handling failed, requesting redelivery", err, map[string]interface{}{
			"topic": topic,
			"type":  env.Type,
		})
		msg.Nack()
		return
	}

	msg.Ack()
}

// CommandDispatcher adapts a typed command handler to the consumer's raw
// message signature.
func CommandDispatcher[C pkgDomain.Command](handler pkgApp.CommandHandler[C]) MessageHandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var command C
		if err := json.Unmarshal(payload, &command); err != nil {
			return fmt.Errorf("%w: decode command: %w", domain.ErrValidation, err)
		}
		_, err := handler.Handle(ctx, command)
		return err
	}
}

// EventDispatcher adapts a typed event handler to the consumer's raw message
// signature.
func EventDispatcher[E pkgDomain.Event](handler pkgApp.EventHandler[E]) MessageHandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var event E
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("%w: decode event: %w", domain.ErrValidation, err)
		}
		return handler.Handle(ctx, event)
	}
}
