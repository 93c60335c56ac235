package infrastructure_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saludtech/anonymization-service/internal/anonymization/application"
	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	"github.com/saludtech/anonymization-service/internal/anonymization/infrastructure"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
)

const testTopic = "anonymization-commands"

func startConsumer(t *testing.T, consumer *infrastructure.Consumer, topics ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx, topics...))
	t.Cleanup(func() {
		cancel()
		consumer.Wait()
	})
}

func publishEnvelope(t *testing.T, pubSub *gochannel.GoChannel, topic string, envelope map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)))
}

func waitFor(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConsumer_DispatchesByType(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	consumer := infrastructure.NewConsumer(pubSub, pkgApp.NopLogger{})

	handled := make(chan map[string]interface{}, 1)
	consumer.RegisterCommandHandler("RollbackAnonymization", func(ctx context.Context, payload []byte) error {
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return err
		}
		handled <- decoded
		return nil
	})

	startConsumer(t, consumer, testTopic)

	taskID := uuid.New().String()
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{
		"type":    "RollbackAnonymization",
		"task_id": taskID,
		"reason":  "compensation",
	})

	select {
	case decoded := <-handled:
		assert.Equal(t, taskID, decoded["task_id"])
		assert.Equal(t, "compensation", decoded["reason"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestConsumer_NackTriggersRedelivery(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	consumer := infrastructure.NewConsumer(pubSub, pkgApp.NopLogger{})

	var calls atomic.Int64
	succeeded := make(chan struct{})
	consumer.RegisterCommandHandler("CompleteAnonymization", func(ctx context.Context, payload []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("transient storage error")
		}
		close(succeeded)
		return nil
	})

	startConsumer(t, consumer, testTopic)

	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{
		"type":    "CompleteAnonymization",
		"task_id": uuid.New().String(),
	})

	waitFor(t, succeeded, "redelivery after nack")
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestConsumer_ValidationErrorIsAcked(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	consumer := infrastructure.NewConsumer(pubSub, pkgApp.NopLogger{})

	var poisonCalls atomic.Int64
	poisonSeen := make(chan struct{})
	consumer.RegisterCommandHandler("FailAnonymization", func(ctx context.Context, payload []byte) error {
		if poisonCalls.Add(1) == 1 {
			close(poisonSeen)
		}
		return fmt.Errorf("%w: unusable payload", domain.ErrValidation)
	})

	followUp := make(chan struct{})
	consumer.RegisterCommandHandler("RollbackAnonymization", func(ctx context.Context, payload []byte) error {
		close(followUp)
		return nil
	})

	startConsumer(t, consumer, testTopic)

	// The poison message must be acked, not redelivered, so the follow-up
	// message on the same topic still gets through.
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{"type": "FailAnonymization"})
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{"type": "RollbackAnonymization"})

	waitFor(t, poisonSeen, "poison message")
	waitFor(t, followUp, "message after poison drop")

	// Leave room for a redelivery that must not happen.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), poisonCalls.Load())
}

func TestConsumer_DropsUnparsableAndUnknownMessages(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	consumer := infrastructure.NewConsumer(pubSub, pkgApp.NopLogger{})

	handled := make(chan struct{})
	consumer.RegisterEventHandler("AnonymizationCompleted", func(ctx context.Context, payload []byte) error {
		close(handled)
		return nil
	})

	startConsumer(t, consumer, testTopic)

	require.NoError(t, pubSub.Publish(testTopic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{"no_type": true})
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{"type": "SomethingElse"})
	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{"type": "AnonymizationCompleted"})

	waitFor(t, handled, "valid message after dropped ones")
}

func TestConsumer_PropagatesCorrelationID(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	consumer := infrastructure.NewConsumer(pubSub, pkgApp.NopLogger{})

	got := make(chan string, 1)
	consumer.RegisterEventHandler("AnonymizationCompleted", func(ctx context.Context, payload []byte) error {
		got <- pkgApp.CorrelationIDFromContext(ctx)
		return nil
	})

	startConsumer(t, consumer, testTopic)

	publishEnvelope(t, pubSub, testTopic, map[string]interface{}{
		"type":           "AnonymizationCompleted",
		"correlation_id": "corr-456",
	})

	select {
	case correlationID := <-got:
		assert.Equal(t, "corr-456", correlationID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

type captureCommandHandler struct {
	command application.RollbackAnonymization
}

func (h *captureCommandHandler) Handle(ctx context.Context, command application.RollbackAnonymization) (pkgApp.Result, error) {
	h.command = command
	return pkgApp.Result{}, nil
}

func TestCommandDispatcher(t *testing.T) {
	capture := &captureCommandHandler{}
	dispatch := infrastructure.CommandDispatcher[application.RollbackAnonymization](capture)

	taskID := uuid.New()
	payload, err := json.Marshal(map[string]interface{}{
		"type":    "RollbackAnonymization",
		"task_id": taskID.String(),
		"reason":  "compensation",
	})
	require.NoError(t, err)

	require.NoError(t, dispatch(context.Background(), payload))
	assert.Equal(t, taskID, capture.command.TaskID)
	assert.Equal(t, "compensation", capture.command.Reason)
}

func TestCommandDispatcher_DecodeFailureIsValidationError(t *testing.T) {
	dispatch := infrastructure.CommandDispatcher[application.RollbackAnonymization](&captureCommandHandler{})

	err := dispatch(context.Background(), []byte(`{"task_id": 42}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}
