package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// Event handlers run on the non-transactional path: they use the repository
// directly and tolerate late or duplicate deliveries as logged no-ops.

type imageReadyForAnonymizationHandler struct {
	repository  domain.TaskRepository
	publisher   domain.EventPublisher
	idGenerator pkgDomain.IDGenerator[uuid.UUID]
	logger      pkgApp.AppLogger
}

// NewImageReadyForAnonymizationHandler handles intake: it classifies the image
// from its modality, creates a task and routes it to the matching anonymizer.
// Completion arrives later as a separate AnonymizationCompleted event.
func NewImageReadyForAnonymizationHandler(
	repository domain.TaskRepository,
	publisher domain.EventPublisher,
	idGenerator pkgDomain.IDGenerator[uuid.UUID],
	logger pkgApp.AppLogger,
) pkgApp.EventHandler[domain.ImageReadyForAnonymization] {
	return &imageReadyForAnonymizationHandler{
		repository:  repository,
		publisher:   publisher,
		idGenerator: idGenerator,
		logger:      logger,
	}
}

func (h *imageReadyForAnonymizationHandler) Handle(ctx context.Context, event domain.ImageReadyForAnonymization) error {
	imageType := domain.ClassifyModality(event.Modality)

	pkgApp.LogInfo(ctx, h.logger, "image ready for anonymization", map[string]interface{}{
		"image_id":   event.ImageID,
		"task_id":    event.TaskID,
		"modality":   event.Modality,
		"image_type": imageType,
	})

	task, err := domain.NewAnonymizationTask(
		h.idGenerator(),
		event.ImageID,
		event.TaskID,
		imageType,
		event.Source,
		event.Modality,
		event.Region,
		event.FilePath,
	)
	if err != nil {
		return err
	}

	events, err := task.RouteToAnonymizer()
	if err != nil {
		return err
	}

	if err := h.repository.Save(ctx, task); err != nil {
		return err
	}

	for _, ev := range events {
		if err := h.publisher.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

type anonymizationCompletedHandler struct {
	repository domain.TaskRepository
	publisher  domain.EventPublisher
	logger     pkgApp.AppLogger
}

// NewAnonymizationCompletedHandler applies a downstream completion to the
// task and publishes the follow-on ImageReadyForProcessing event.
func NewAnonymizationCompletedHandler(
	repository domain.TaskRepository,
	publisher domain.EventPublisher,
	logger pkgApp.AppLogger,
) pkgApp.EventHandler[domain.AnonymizationCompleted] {
	return &anonymizationCompletedHandler{repository: repository, publisher: publisher, logger: logger}
}

func (h *anonymizationCompletedHandler) Handle(ctx context.Context, event domain.AnonymizationCompleted) error {
	task, err := h.repository.GetByTaskID(ctx, event.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		pkgApp.LogInfo(ctx, h.logger, "completion event for unknown task dropped", map[string]interface{}{
			"task_id": event.TaskID,
		})
		return nil
	}
	if err != nil {
		return err
	}

	events, err := task.CompleteAnonymization(event.ResultFilePath, event.ProcessingTimeMS)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Duplicate or late delivery; the task already settled.
		pkgApp.LogInfo(ctx, h.logger, "completion event dropped", map[string]interface{}{
			"task_id": event.TaskID,
			"status":  task.Status,
		})
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.repository.Update(ctx, task); err != nil {
		return err
	}

	return publishFollowOn(ctx, h.publisher, events, event.EventName())
}

type anonymizationFailedHandler struct {
	repository domain.TaskRepository
	publisher  domain.EventPublisher
	logger     pkgApp.AppLogger
}

// NewAnonymizationFailedHandler records a downstream failure on the task.
func NewAnonymizationFailedHandler(
	repository domain.TaskRepository,
	publisher domain.EventPublisher,
	logger pkgApp.AppLogger,
) pkgApp.EventHandler[domain.AnonymizationFailed] {
	return &anonymizationFailedHandler{repository: repository, publisher: publisher, logger: logger}
}

func (h *anonymizationFailedHandler) Handle(ctx context.Context, event domain.AnonymizationFailed) error {
	task, err := h.repository.GetByTaskID(ctx, event.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		pkgApp.LogInfo(ctx, h.logger, "failure event for unknown task dropped", map[string]interface{}{
			"task_id": event.TaskID,
		})
		return nil
	}
	if err != nil {
		return err
	}

	events, err := task.FailAnonymization(event.ErrorMessage)
	if errors.Is(err, domain.ErrInvalidTransition) {
		pkgApp.LogInfo(ctx, h.logger, "failure event dropped", map[string]interface{}{
			"task_id": event.TaskID,
			"status":  task.Status,
		})
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.repository.Update(ctx, task); err != nil {
		return err
	}

	return publishFollowOn(ctx, h.publisher, events, event.EventName())
}

// publishFollowOn publishes the events a behavior produced, skipping the one
// that mirrors the inbound event: the downstream service already put it on
// the wire.
func publishFollowOn(ctx context.Context, publisher domain.EventPublisher, events []pkgDomain.Event, inboundName string) error {
	for _, ev := range events {
		if ev.EventName() == inboundName {
			continue
		}
		if err := publisher.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
