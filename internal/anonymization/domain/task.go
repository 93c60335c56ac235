package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// ImageType classifies the medical image a task refers to.
type ImageType string

const (
	ImageTypeHistology ImageType = "HISTOLOGY"
	ImageTypeXRay      ImageType = "XRAY"
	ImageTypeMRI       ImageType = "MRI"
	ImageTypeUnknown   ImageType = "UNKNOWN"
)

// ClassifyModality maps a free-text modality string to an image type.
// Matching is case-insensitive and substring based ("CHEST XRAY" matches on
// "RAY"); anything unrecognized classifies as UNKNOWN, never an error.
func ClassifyModality(modality string) ImageType {
	upper := strings.ToUpper(modality)
	switch {
	case upper == "HISTOLOGY" || strings.Contains(upper, "HIST"):
		return ImageTypeHistology
	case upper == "XRAY" || strings.Contains(upper, "RAY"):
		return ImageTypeXRay
	case upper == "MRI" || strings.Contains(upper, "MAGNETIC"):
		return ImageTypeMRI
	default:
		return ImageTypeUnknown
	}
}

// AnonymizerService resolves the destination anonymizer for this image type.
// Total: unrecognized types always resolve to the generic service.
func (t ImageType) AnonymizerService() string {
	switch t {
	case ImageTypeHistology:
		return "histology-anonymizer"
	case ImageTypeXRay:
		return "xray-anonymizer"
	case ImageTypeMRI:
		return "mri-anonymizer"
	default:
		return "generic-anonymizer"
	}
}

// Status is the single source of truth for a task's lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// AnonymizationTask tracks one image from intake through completion or
// failure. It is the unit of consistency: every status change happens through
// one of its behaviors, and each behavior returns the domain events it
// produced, in creation order, for the caller to publish.
type AnonymizationTask struct {
	ID             uuid.UUID
	ImageID        uuid.UUID
	TaskID         uuid.UUID
	ImageType      ImageType
	Source         string
	Modality       string
	Region         string
	FilePath       string
	ResultFilePath string
	Status         Status
	ErrorMessage   string
	Metadata       map[string]interface{}
	StartedAt      *time.Time
	CompletedAt    *time.Time

	// Version detects concurrent modification: repositories update with a
	// compare-and-swap on (id, version).
	Version int
}

// NewAnonymizationTask creates a PENDING task. Timestamps are set by
// transitions, never by construction.
func NewAnonymizationTask(id, imageID, taskID uuid.UUID, imageType ImageType, source, modality, region, filePath string) (*AnonymizationTask, error) {
	if filePath == "" {
		return nil, fmt.Errorf("%w: file_path is required", ErrValidation)
	}
	if imageType == "" {
		imageType = ImageTypeUnknown
	}

	return &AnonymizationTask{
		ID:        id,
		ImageID:   imageID,
		TaskID:    taskID,
		ImageType: imageType,
		Source:    source,
		Modality:  modality,
		Region:    region,
		FilePath:  filePath,
		Status:    StatusPending,
		Metadata:  map[string]interface{}{},
	}, nil
}

// RouteToAnonymizer moves the task to IN_PROGRESS and selects the destination
// anonymizer from the image type.
func (t *AnonymizationTask) RouteToAnonymizer() ([]pkgDomain.Event, error) {
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot route task %s in status %s", ErrInvalidTransition, t.ID, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusInProgress
	t.StartedAt = &now

	return []pkgDomain.Event{
		AnonymizationRequested{
			EventMeta:          pkgDomain.NewEventMeta(),
			ImageID:            t.ImageID,
			TaskID:             t.TaskID,
			ImageType:          t.ImageType,
			Source:             t.Source,
			Modality:           t.Modality,
			Region:             t.Region,
			FilePath:           t.FilePath,
			DestinationService: t.ImageType.AnonymizerService(),
		},
	}, nil
}

// CompleteAnonymization records the anonymized result and signals the
// downstream processing pipeline. Completing a task twice is rejected.
func (t *AnonymizationTask) CompleteAnonymization(resultFilePath string, processingTimeMS int64) ([]pkgDomain.Event, error) {
	if t.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: cannot complete task %s in status %s", ErrInvalidTransition, t.ID, t.Status)
	}
	if resultFilePath == "" {
		return nil, fmt.Errorf("%w: result_file_path is required", ErrValidation)
	}

	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.ResultFilePath = resultFilePath

	return []pkgDomain.Event{
		AnonymizationCompleted{
			EventMeta:        pkgDomain.NewEventMeta(),
			ImageID:          t.ImageID,
			TaskID:           t.TaskID,
			ImageType:        t.ImageType,
			ResultFilePath:   resultFilePath,
			ProcessingTimeMS: processingTimeMS,
		},
		ImageReadyForProcessing{
			EventMeta:          pkgDomain.NewEventMeta(),
			ImageID:            t.ImageID,
			TaskID:             t.TaskID,
			ImageType:          t.ImageType,
			AnonymizedFilePath: resultFilePath,
			OriginalFilePath:   t.FilePath,
			Source:             t.Source,
			Modality:           t.Modality,
			Region:             t.Region,
		},
	}, nil
}

// FailAnonymization marks the task FAILED. Only non-terminal tasks can fail;
// use RollbackAnonymization to compensate a terminal one.
func (t *AnonymizationTask) FailAnonymization(errorMessage string) ([]pkgDomain.Event, error) {
	if t.Status == StatusCompleted || t.Status == StatusFailed {
		return nil, fmt.Errorf("%w: cannot fail task %s in status %s", ErrInvalidTransition, t.ID, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = errorMessage

	return []pkgDomain.Event{
		AnonymizationFailed{
			EventMeta:    pkgDomain.NewEventMeta(),
			ImageID:      t.ImageID,
			TaskID:       t.TaskID,
			ImageType:    t.ImageType,
			ErrorMessage: errorMessage,
		},
	}, nil
}

// RollbackAnonymization is the compensating transition: it forces the task to
// FAILED from any state and discards the recorded result path. Deleting the
// result file itself is the caller's concern.
func (t *AnonymizationTask) RollbackAnonymization(reason string) ([]pkgDomain.Event, error) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = "reverted: " + reason
	t.ResultFilePath = ""

	return []pkgDomain.Event{
		AnonymizationRolledBack{
			EventMeta: pkgDomain.NewEventMeta(),
			TaskID:    t.TaskID,
			ImageID:   t.ImageID,
			Reason:    reason,
		},
	}, nil
}
