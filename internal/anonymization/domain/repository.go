package domain

import (
	"context"

	"github.com/google/uuid"

	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// TaskRepository loads and stores anonymization tasks.
//
// GetByID resolves the aggregate identifier; GetByTaskID resolves the external
// correlation identifier carried by commands and events on the wire.
// Update is a compare-and-swap on the aggregate version and returns
// ErrConcurrentModification when another writer got there first.
type TaskRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AnonymizationTask, error)
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*AnonymizationTask, error)
	Save(ctx context.Context, task *AnonymizationTask) error
	Update(ctx context.Context, task *AnonymizationTask) error
	GetPendingTasks(ctx context.Context) ([]*AnonymizationTask, error)
	GetTasksByImageID(ctx context.Context, imageID uuid.UUID) ([]*AnonymizationTask, error)
}

// RepositorySet exposes the repositories bound to one transactional scope.
type RepositorySet interface {
	AnonymizationTasks() TaskRepository
}

// UnitOfWork runs fn inside a transactional scope. All writes made through the
// scope's repositories become durable atomically when fn returns nil; any
// error discards them, and underlying resources are released on every exit
// path.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context, repos RepositorySet) error) error
}

// EventPublisher sends domain events to their destination topics with
// at-least-once semantics. Downstream consumers must tolerate duplicates.
type EventPublisher interface {
	Publish(ctx context.Context, event pkgDomain.Event) error
}
