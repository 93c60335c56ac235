package anonymization

import (
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/application"
	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	"github.com/saludtech/anonymization-service/internal/anonymization/infrastructure"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// Topics this module consumes. Commands and downstream events arrive here;
// everything the module publishes is routed by the publisher's topic mapping.
const (
	TopicImageAnonymization    = "image-anonymization"
	TopicAnonymizationRequests = "anonymization-requests"
	TopicAnonymizationComplete = "anonymization-completed"
	TopicAnonymizationFailed   = "anonymization-failed"
	TopicAnonymizationCommands = "anonymization-commands"
	TopicImageProcessing       = "image-processing"
)

// PublisherTopics maps outbound event type names to their destination topics.
func PublisherTopics() map[string]string {
	return map[string]string{
		domain.EventAnonymizationRequested:  TopicAnonymizationRequests,
		domain.EventAnonymizationCompleted:  TopicAnonymizationComplete,
		domain.EventAnonymizationFailed:     TopicAnonymizationFailed,
		domain.EventImageReadyForProcessing: TopicImageProcessing,
	}
}

// ConsumerTopics lists the inbound subscriptions of the module.
func ConsumerTopics() []string {
	return []string{
		TopicImageAnonymization,
		TopicAnonymizationComplete,
		TopicAnonymizationFailed,
		TopicAnonymizationCommands,
	}
}

// Slice wires the anonymization module: command handlers and event handlers
// registered on the consumer, plus the HTTP surface.
type Slice struct {
	httpHandler *infrastructure.AnonymizationHTTPHandler
}

func NewSlice(
	uow domain.UnitOfWork,
	repository domain.TaskRepository,
	publisher domain.EventPublisher,
	consumer *infrastructure.Consumer,
	idGenerator pkgDomain.IDGenerator[uuid.UUID],
	logger pkgApp.AppLogger,
) *Slice {
	routeHandler := application.NewRouteToAnonymizerHandler(uow, publisher, idGenerator, logger)
	completeHandler := application.NewCompleteAnonymizationHandler(uow, publisher, logger)
	failHandler := application.NewFailAnonymizationHandler(uow, publisher, logger)
	rollbackHandler := application.NewRollbackAnonymizationHandler(uow, publisher, logger)

	imageReadyHandler := application.NewImageReadyForAnonymizationHandler(repository, publisher, idGenerator, logger)
	completedHandler := application.NewAnonymizationCompletedHandler(repository, publisher, logger)
	failedHandler := application.NewAnonymizationFailedHandler(repository, publisher, logger)

	consumer.RegisterCommandHandler(application.CommandRouteToAnonymizer, infrastructure.CommandDispatcher(routeHandler))
	consumer.RegisterCommandHandler(application.CommandCompleteAnonymization, infrastructure.CommandDispatcher(completeHandler))
	consumer.RegisterCommandHandler(application.CommandFailAnonymization, infrastructure.CommandDispatcher(failHandler))
	consumer.RegisterCommandHandler(application.CommandRollbackAnonymization, infrastructure.CommandDispatcher(rollbackHandler))

	consumer.RegisterEventHandler(domain.EventImageReadyForAnonymization, infrastructure.EventDispatcher(imageReadyHandler))
	consumer.RegisterEventHandler(domain.EventAnonymizationCompleted, infrastructure.EventDispatcher(completedHandler))
	consumer.RegisterEventHandler(domain.EventAnonymizationFailed, infrastructure.EventDispatcher(failedHandler))

	return &Slice{
		httpHandler: infrastructure.NewAnonymizationHTTPHandler(
			routeHandler,
			completeHandler,
			failHandler,
			rollbackHandler,
			repository,
		),
	}
}

func (s *Slice) RegisterRoutes(router chi.Router) {
	s.httpHandler.RegisterRoutes(router)
}
