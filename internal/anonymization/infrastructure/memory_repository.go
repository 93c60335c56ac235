package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
)

// InMemoryTaskRepository keeps tasks in a map. It backs tests and the
// broker-less development mode; copies go in and out so callers never alias
// stored state.
type InMemoryTaskRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]domain.AnonymizationTask
}

func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		data: make(map[uuid.UUID]domain.AnonymizationTask),
	}
}

func (r *InMemoryTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnonymizationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return cloneTask(task), nil
}

func (r *InMemoryTaskRepository) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.AnonymizationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, task := range r.data {
		if task.TaskID == taskID {
			return cloneTask(task), nil
		}
	}
	return nil, fmt.Errorf("%w: task_id %s", domain.ErrTaskNotFound, taskID)
}

func (r *InMemoryTaskRepository) Save(ctx context.Context, task *domain.AnonymizationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	r.data[task.ID] = *cloneTask(*task)
	return nil
}

func (r *InMemoryTaskRepository) Update(ctx context.Context, task *domain.AnonymizationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.data[task.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, task.ID)
	}
	if existing.Version != task.Version {
		return fmt.Errorf("%w: task %s version %d", domain.ErrConcurrentModification, task.ID, task.Version)
	}

	task.Version++
	r.data[task.ID] = *cloneTask(*task)
	return nil
}

func (r *InMemoryTaskRepository) GetPendingTasks(ctx context.Context) ([]*domain.AnonymizationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*domain.AnonymizationTask
	for _, task := range r.data {
		if task.Status == domain.StatusPending {
			tasks = append(tasks, cloneTask(task))
		}
	}
	return tasks, nil
}

func (r *InMemoryTaskRepository) GetTasksByImageID(ctx context.Context, imageID uuid.UUID) ([]*domain.AnonymizationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*domain.AnonymizationTask
	for _, task := range r.data {
		if task.ImageID == imageID {
			tasks = append(tasks, cloneTask(task))
		}
	}
	return tasks, nil
}

func (r *InMemoryTaskRepository) snapshot() map[uuid.UUID]domain.AnonymizationTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[uuid.UUID]domain.AnonymizationTask, len(r.data))
	for id, task := range r.data {
		snapshot[id] = *cloneTask(task)
	}
	return snapshot
}

func (r *InMemoryTaskRepository) restore(snapshot map[uuid.UUID]domain.AnonymizationTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snapshot
}

func cloneTask(task domain.AnonymizationTask) *domain.AnonymizationTask {
	clone := task
	clone.Metadata = make(map[string]interface{}, len(task.Metadata))
	for k, v := range task.Metadata {
		clone.Metadata[k] = v
	}
	if task.StartedAt != nil {
		startedAt := *task.StartedAt
		clone.StartedAt = &startedAt
	}
	if task.CompletedAt != nil {
		completedAt := *task.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

// InMemoryUnitOfWork provides the transactional contract over the in-memory
// repository: scopes run serialized, and a failing scope restores the
// snapshot taken at entry so no partial writes survive.
type InMemoryUnitOfWork struct {
	mu   sync.Mutex
	repo *InMemoryTaskRepository
}

func NewInMemoryUnitOfWork(repo *InMemoryTaskRepository) *InMemoryUnitOfWork {
	return &InMemoryUnitOfWork{repo: repo}
}

func (u *InMemoryUnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, repos domain.RepositorySet) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	snapshot := u.repo.snapshot()
	if err := fn(ctx, memoryRepositorySet{repo: u.repo}); err != nil {
		u.repo.restore(snapshot)
		return err
	}
	return nil
}

type memoryRepositorySet struct {
	repo *InMemoryTaskRepository
}

func (s memoryRepositorySet) AnonymizationTasks() domain.TaskRepository { return s.repo }
