package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	"github.com/saludtech/anonymization-service/pkg/application"
)

type taskRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ImageID        string    `gorm:"index"`
	TaskID         string    `gorm:"index"`
	ImageType      string    `gorm:"not null"`
	Source         string
	Modality       string
	Region         string
	FilePath       string
	ResultFilePath string
	Status         string `gorm:"not null;default:PENDING;index"`
	ErrorMessage   string
	Metadata       datatypes.JSON
	Version        int `gorm:"not null;default:0"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (taskRecord) TableName() string { return "anonymization_tasks" }

// OpenGormDB connects to PostgreSQL and migrates the task table.
func OpenGormDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

// GormTaskRepository persists tasks with gorm. Update is a compare-and-swap
// on (id, version); a stale version surfaces as ErrConcurrentModification.
type GormTaskRepository struct {
	db     *gorm.DB
	logger application.AppLogger
}

func NewGormTaskRepository(db *gorm.DB, logger application.AppLogger) *GormTaskRepository {
	return &GormTaskRepository{db: db, logger: logger}
}

func (r *GormTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnonymizationTask, error) {
	var record taskRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return recordToTask(record)
}

func (r *GormTaskRepository) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.AnonymizationTask, error) {
	var record taskRecord
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID.String()).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task_id %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	return recordToTask(record)
}

func (r *GormTaskRepository) Save(ctx context.Context, task *domain.AnonymizationTask) error {
	record, err := taskToRecord(task)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		application.LogError(ctx, r.logger, "failed to save anonymization task", err, map[string]interface{}{
			"task_id": task.ID,
		})
		return err
	}
	return nil
}

func (r *GormTaskRepository) Update(ctx context.Context, task *domain.AnonymizationTask) error {
	record, err := taskToRecord(task)
	if err != nil {
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&taskRecord{}).
		Where("id = ? AND version = ?", task.ID, task.Version).
		Updates(map[string]interface{}{
			"image_type":       record.ImageType,
			"source":           record.Source,
			"modality":         record.Modality,
			"region":           record.Region,
			"file_path":        record.FilePath,
			"result_file_path": record.ResultFilePath,
			"status":           record.Status,
			"error_message":    record.ErrorMessage,
			"metadata":         record.Metadata,
			"started_at":       record.StartedAt,
			"completed_at":     record.CompletedAt,
			"version":          task.Version + 1,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		application.LogError(ctx, r.logger, "failed to update anonymization task", res.Error, map[string]interface{}{
			"task_id": task.ID,
		})
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s version %d", domain.ErrConcurrentModification, task.ID, task.Version)
	}

	task.Version++
	return nil
}

func (r *GormTaskRepository) GetPendingTasks(ctx context.Context) ([]*domain.AnonymizationTask, error) {
	var records []taskRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusPending)).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return recordsToTasks(records)
}

func (r *GormTaskRepository) GetTasksByImageID(ctx context.Context, imageID uuid.UUID) ([]*domain.AnonymizationTask, error) {
	var records []taskRecord
	err := r.db.WithContext(ctx).
		Where("image_id = ?", imageID.String()).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return recordsToTasks(records)
}

// GormUnitOfWork binds a repository set to one database transaction: the
// scope commits when fn returns nil and rolls back otherwise.
type GormUnitOfWork struct {
	db     *gorm.DB
	logger application.AppLogger
}

func NewGormUnitOfWork(db *gorm.DB, logger application.AppLogger) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, logger: logger}
}

func (u *GormUnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, repos domain.RepositorySet) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, gormRepositorySet{
			tasks: NewGormTaskRepository(tx, u.logger),
		})
	})
}

type gormRepositorySet struct {
	tasks *GormTaskRepository
}

func (s gormRepositorySet) AnonymizationTasks() domain.TaskRepository { return s.tasks }

func taskToRecord(task *domain.AnonymizationTask) (taskRecord, error) {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return taskRecord{}, fmt.Errorf("marshal task metadata: %w", err)
	}

	return taskRecord{
		ID:             task.ID,
		ImageID:        task.ImageID.String(),
		TaskID:         task.TaskID.String(),
		ImageType:      string(task.ImageType),
		Source:         task.Source,
		Modality:       task.Modality,
		Region:         task.Region,
		FilePath:       task.FilePath,
		ResultFilePath: task.ResultFilePath,
		Status:         string(task.Status),
		ErrorMessage:   task.ErrorMessage,
		Metadata:       datatypes.JSON(metadata),
		Version:        task.Version,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
	}, nil
}

func recordToTask(record taskRecord) (*domain.AnonymizationTask, error) {
	imageID, err := uuid.Parse(record.ImageID)
	if err != nil {
		return nil, fmt.Errorf("parse image_id of task %s: %w", record.ID, err)
	}
	taskID, err := uuid.Parse(record.TaskID)
	if err != nil {
		return nil, fmt.Errorf("parse task_id of task %s: %w", record.ID, err)
	}

	metadata := map[string]interface{}{}
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of task %s: %w", record.ID, err)
		}
	}

	return &domain.AnonymizationTask{
		ID:             record.ID,
		ImageID:        imageID,
		TaskID:         taskID,
		ImageType:      domain.ImageType(record.ImageType),
		Source:         record.Source,
		Modality:       record.Modality,
		Region:         record.Region,
		FilePath:       record.FilePath,
		ResultFilePath: record.ResultFilePath,
		Status:         domain.Status(record.Status),
		ErrorMessage:   record.ErrorMessage,
		Metadata:       metadata,
		StartedAt:      record.StartedAt,
		CompletedAt:    record.CompletedAt,
		Version:        record.Version,
	}, nil
}

func recordsToTasks(records []taskRecord) ([]*domain.AnonymizationTask, error) {
	tasks := make([]*domain.AnonymizationTask, 0, len(records))
	for _, record := range records {
		task, err := recordToTask(record)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
