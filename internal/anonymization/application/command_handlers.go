package application

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// Every command handler has the same shape: open a unit-of-work scope, load or
// create the task, invoke the matching behavior, persist, publish the events
// the behavior produced in order, and commit by returning nil from the scope.
// Publication happens after persistence and before commit, so a publish
// failure aborts the transaction and the inbound message is redelivered.

type routeToAnonymizerHandler struct {
	uow         domain.UnitOfWork
	publisher   domain.EventPublisher
	idGenerator pkgDomain.IDGenerator[uuid.UUID]
	logger      pkgApp.AppLogger
}

func NewRouteToAnonymizerHandler(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	idGenerator pkgDomain.IDGenerator[uuid.UUID],
	logger pkgApp.AppLogger,
) pkgApp.CommandHandler[RouteToAnonymizer] {
	return &routeToAnonymizerHandler{
		uow:         uow,
		publisher:   publisher,
		idGenerator: idGenerator,
		logger:      logger,
	}
}

func (h *routeToAnonymizerHandler) Handle(ctx context.Context, command RouteToAnonymizer) (pkgApp.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var result pkgApp.Result
	err := h.uow.Execute(ctx, func(ctx context.Context, repos domain.RepositorySet) error {
		task, err := domain.NewAnonymizationTask(
			h.idGenerator(),
			command.ImageID,
			command.TaskID,
			command.ImageType,
			command.Source,
			command.Modality,
			command.Region,
			command.FilePath,
		)
		if err != nil {
			return err
		}

		events, err := task.RouteToAnonymizer()
		if err != nil {
			return err
		}

		if err := repos.AnonymizationTasks().Save(ctx, task); err != nil {
			return err
		}

		if err := publishAll(ctx, h.publisher, events); err != nil {
			return err
		}

		result = pkgApp.Result{
			"task_id":             task.ID.String(),
			"image_id":            task.ImageID.String(),
			"status":              string(task.Status),
			"destination_service": task.ImageType.AnonymizerService(),
		}
		return nil
	})
	if err != nil {
		pkgApp.LogError(ctx, h.logger, "failed to route image to anonymizer", err, map[string]interface{}{
			"image_id": command.ImageID,
		})
		return nil, err
	}

	pkgApp.LogInfo(ctx, h.logger, "image routed to anonymizer", map[string]interface{}{
		"task_id":  result["task_id"],
		"image_id": result["image_id"],
	})
	return result, nil
}

type completeAnonymizationHandler struct {
	uow       domain.UnitOfWork
	publisher domain.EventPublisher
	logger    pkgApp.AppLogger
}

func NewCompleteAnonymizationHandler(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	logger pkgApp.AppLogger,
) pkgApp.CommandHandler[CompleteAnonymization] {
	return &completeAnonymizationHandler{uow: uow, publisher: publisher, logger: logger}
}

func (h *completeAnonymizationHandler) Handle(ctx context.Context, command CompleteAnonymization) (pkgApp.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var result pkgApp.Result
	err := h.uow.Execute(ctx, func(ctx context.Context, repos domain.RepositorySet) error {
		tasks := repos.AnonymizationTasks()

		task, err := tasks.GetByTaskID(ctx, command.TaskID)
		if err != nil {
			return err
		}

		events, err := task.CompleteAnonymization(command.ResultFilePath, command.ProcessingTimeMS)
		if err != nil {
			return err
		}

		if err := tasks.Update(ctx, task); err != nil {
			return err
		}

		if err := publishAll(ctx, h.publisher, events); err != nil {
			return err
		}

		result = pkgApp.Result{
			"task_id":          task.ID.String(),
			"image_id":         task.ImageID.String(),
			"status":           string(task.Status),
			"result_file_path": task.ResultFilePath,
		}
		return nil
	})
	if err != nil {
		pkgApp.LogError(ctx, h.logger, "failed to complete anonymization", err, map[string]interface{}{
			"task_id": command.TaskID,
		})
		return nil, err
	}

	pkgApp.LogInfo(ctx, h.logger, "anonymization completed", map[string]interface{}{
		"task_id": result["task_id"],
	})
	return result, nil
}

type failAnonymizationHandler struct {
	uow       domain.UnitOfWork
	publisher domain.EventPublisher
	logger    pkgApp.AppLogger
}

func NewFailAnonymizationHandler(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	logger pkgApp.AppLogger,
) pkgApp.CommandHandler[FailAnonymization] {
	return &failAnonymizationHandler{uow: uow, publisher: publisher, logger: logger}
}

func (h *failAnonymizationHandler) Handle(ctx context.Context, command FailAnonymization) (pkgApp.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var result pkgApp.Result
	err := h.uow.Execute(ctx, func(ctx context.Context, repos domain.RepositorySet) error {
		tasks := repos.AnonymizationTasks()

		task, err := tasks.GetByTaskID(ctx, command.TaskID)
		if err != nil {
			return err
		}

		events, err := task.FailAnonymization(command.ErrorMessage)
		if err != nil {
			return err
		}

		if err := tasks.Update(ctx, task); err != nil {
			return err
		}

		if err := publishAll(ctx, h.publisher, events); err != nil {
			return err
		}

		result = pkgApp.Result{
			"task_id":       task.ID.String(),
			"image_id":      task.ImageID.String(),
			"status":        string(task.Status),
			"error_message": task.ErrorMessage,
		}
		return nil
	})
	if err != nil {
		pkgApp.LogError(ctx, h.logger, "failed to mark anonymization as failed", err, map[string]interface{}{
			"task_id": command.TaskID,
		})
		return nil, err
	}

	pkgApp.LogInfo(ctx, h.logger, "anonymization marked as failed", map[string]interface{}{
		"task_id": result["task_id"],
	})
	return result, nil
}

type rollbackAnonymizationHandler struct {
	uow       domain.UnitOfWork
	publisher domain.EventPublisher
	logger    pkgApp.AppLogger
}

func NewRollbackAnonymizationHandler(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	logger pkgApp.AppLogger,
) pkgApp.CommandHandler[RollbackAnonymization] {
	return &rollbackAnonymizationHandler{uow: uow, publisher: publisher, logger: logger}
}

func (h *rollbackAnonymizationHandler) Handle(ctx context.Context, command RollbackAnonymization) (pkgApp.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var result pkgApp.Result
	err := h.uow.Execute(ctx, func(ctx context.Context, repos domain.RepositorySet) error {
		tasks := repos.AnonymizationTasks()

		task, err := tasks.GetByTaskID(ctx, command.TaskID)
		if err != nil {
			return err
		}

		// Best-effort: remove the anonymized artifact before the aggregate
		// forgets its path. A missing or undeletable file never aborts the
		// compensation.
		if task.ResultFilePath != "" {
			if err := os.Remove(task.ResultFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				pkgApp.LogError(ctx, h.logger, "failed to remove anonymized file", err, map[string]interface{}{
					"task_id":          task.ID,
					"result_file_path": task.ResultFilePath,
				})
			}
		}

		events, err := task.RollbackAnonymization(command.Reason)
		if err != nil {
			return err
		}

		if err := tasks.Update(ctx, task); err != nil {
			return err
		}

		if err := publishAll(ctx, h.publisher, events); err != nil {
			return err
		}

		result = pkgApp.Result{
			"task_id":  task.ID.String(),
			"image_id": task.ImageID.String(),
			"status":   string(task.Status),
			"reason":   command.Reason,
		}
		return nil
	})
	if err != nil {
		pkgApp.LogError(ctx, h.logger, "failed to rollback anonymization", err, map[string]interface{}{
			"task_id": command.TaskID,
		})
		return nil, err
	}

	pkgApp.LogInfo(ctx, h.logger, "anonymization rolled back", map[string]interface{}{
		"task_id": result["task_id"],
		"reason":  command.Reason,
	})
	return result, nil
}

func publishAll(ctx context.Context, publisher domain.EventPublisher, events []pkgDomain.Event) error {
	for _, event := range events {
		if err := publisher.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
