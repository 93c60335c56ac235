package application_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saludtech/anonymization-service/internal/anonymization/application"
	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	"github.com/saludtech/anonymization-service/internal/anonymization/infrastructure"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// recordingPublisher captures published events and can be told to fail on a
// given event name, simulating a broker outage mid-scope.
type recordingPublisher struct {
	mu     sync.Mutex
	events []pkgDomain.Event
	failOn string
}

func (p *recordingPublisher) Publish(ctx context.Context, event pkgDomain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && event.EventName() == p.failOn {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []pkgDomain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pkgDomain.Event(nil), p.events...)
}

type handlerFixture struct {
	repo      *infrastructure.InMemoryTaskRepository
	uow       *infrastructure.InMemoryUnitOfWork
	publisher *recordingPublisher
}

func newHandlerFixture() *handlerFixture {
	repo := infrastructure.NewInMemoryTaskRepository()
	return &handlerFixture{
		repo:      repo,
		uow:       infrastructure.NewInMemoryUnitOfWork(repo),
		publisher: &recordingPublisher{},
	}
}

func newUUID() uuid.UUID { return uuid.New() }

func (f *handlerFixture) routeTask(t *testing.T, taskID uuid.UUID) *domain.AnonymizationTask {
	t.Helper()
	handler := application.NewRouteToAnonymizerHandler(f.uow, f.publisher, newUUID, pkgApp.NopLogger{})
	_, err := handler.Handle(context.Background(), application.RouteToAnonymizer{
		ImageID:   uuid.New(),
		TaskID:    taskID,
		ImageType: domain.ImageTypeXRay,
		Source:    "hospitalA",
		Modality:  "CHEST XRAY",
		Region:    "thorax",
		FilePath:  "/data/in.dcm",
	})
	require.NoError(t, err)

	task, err := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	return task
}

func TestRouteToAnonymizerHandler(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()

	handler := application.NewRouteToAnonymizerHandler(f.uow, f.publisher, newUUID, pkgApp.NopLogger{})
	result, err := handler.Handle(context.Background(), application.RouteToAnonymizer{
		ImageID:   uuid.New(),
		TaskID:    taskID,
		ImageType: domain.ImageTypeXRay,
		Source:    "hospitalA",
		Modality:  "CHEST XRAY",
		Region:    "thorax",
		FilePath:  "/data/in.dcm",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusInProgress), result["status"])
	assert.Equal(t, "xray-anonymizer", result["destination_service"])

	task, err := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, task.Status)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAnonymizationRequested, events[0].EventName())
}

func TestRouteToAnonymizerHandler_ValidationFailureLeavesNoTrace(t *testing.T) {
	f := newHandlerFixture()

	handler := application.NewRouteToAnonymizerHandler(f.uow, f.publisher, newUUID, pkgApp.NopLogger{})
	_, err := handler.Handle(context.Background(), application.RouteToAnonymizer{
		ImageID: uuid.New(),
		TaskID:  uuid.New(),
		// FilePath missing
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	pending, err := f.repo.GetPendingTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, f.publisher.published())
}

func TestCompleteAnonymizationHandler(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()
	f.routeTask(t, taskID)
	f.publisher.events = nil

	handler := application.NewCompleteAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	result, err := handler.Handle(context.Background(), application.CompleteAnonymization{
		TaskID:           taskID,
		ResultFilePath:   "/data/anonymized_in.dcm",
		ProcessingTimeMS: 420,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), result["status"])

	task, err := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, "/data/anonymized_in.dcm", task.ResultFilePath)

	events := f.publisher.published()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAnonymizationCompleted, events[0].EventName())
	assert.Equal(t, domain.EventImageReadyForProcessing, events[1].EventName())
}

func TestCompleteAnonymizationHandler_UnknownTask(t *testing.T) {
	f := newHandlerFixture()

	handler := application.NewCompleteAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err := handler.Handle(context.Background(), application.CompleteAnonymization{
		TaskID:         uuid.New(),
		ResultFilePath: "/data/out.dcm",
	})
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.Empty(t, f.publisher.published())
}

func TestCompleteAnonymizationHandler_PublishFailureAbortsScope(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()
	f.routeTask(t, taskID)
	f.publisher.events = nil
	f.publisher.failOn = domain.EventImageReadyForProcessing

	handler := application.NewCompleteAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err := handler.Handle(context.Background(), application.CompleteAnonymization{
		TaskID:         taskID,
		ResultFilePath: "/data/out.dcm",
	})
	require.Error(t, err)

	// The aborted scope must leave the task as it was: still in progress,
	// no result path, so a redelivery can complete it cleanly.
	task, getErr := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	assert.Empty(t, task.ResultFilePath)
}

func TestFailAnonymizationHandler(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()
	f.routeTask(t, taskID)
	f.publisher.events = nil

	handler := application.NewFailAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	result, err := handler.Handle(context.Background(), application.FailAnonymization{
		TaskID:       taskID,
		ErrorMessage: "anonymizer crashed",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusFailed), result["status"])

	task, err := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, "anonymizer crashed", task.ErrorMessage)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAnonymizationFailed, events[0].EventName())
}

func TestRollbackAnonymizationHandler_RemovesResultFile(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()
	f.routeTask(t, taskID)

	resultPath := filepath.Join(t.TempDir(), "anonymized_in.dcm")
	require.NoError(t, os.WriteFile(resultPath, []byte("anonymized"), 0o600))

	complete := application.NewCompleteAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err := complete.Handle(context.Background(), application.CompleteAnonymization{
		TaskID:         taskID,
		ResultFilePath: resultPath,
	})
	require.NoError(t, err)
	f.publisher.events = nil

	rollback := application.NewRollbackAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	result, err := rollback.Handle(context.Background(), application.RollbackAnonymization{
		TaskID: taskID,
		Reason: "downstream processing failed",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusFailed), result["status"])

	_, statErr := os.Stat(resultPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "rollback must remove the anonymized file")

	task, err := f.repo.GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, "reverted: downstream processing failed", task.ErrorMessage)
	assert.Empty(t, task.ResultFilePath)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAnonymizationRolledBack, events[0].EventName())
}

func TestRollbackAnonymizationHandler_MissingFileIsNotAnError(t *testing.T) {
	f := newHandlerFixture()
	taskID := uuid.New()
	f.routeTask(t, taskID)

	complete := application.NewCompleteAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err := complete.Handle(context.Background(), application.CompleteAnonymization{
		TaskID:         taskID,
		ResultFilePath: filepath.Join(t.TempDir(), "never-written.dcm"),
	})
	require.NoError(t, err)

	rollback := application.NewRollbackAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err = rollback.Handle(context.Background(), application.RollbackAnonymization{
		TaskID: taskID,
		Reason: "compensation",
	})
	require.NoError(t, err)
}

func TestRollbackAnonymizationHandler_UnknownTask(t *testing.T) {
	f := newHandlerFixture()

	rollback := application.NewRollbackAnonymizationHandler(f.uow, f.publisher, pkgApp.NopLogger{})
	_, err := rollback.Handle(context.Background(), application.RollbackAnonymization{
		TaskID: uuid.New(),
		Reason: "compensation",
	})
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}
