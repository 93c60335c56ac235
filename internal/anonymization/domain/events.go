package domain

import (
	"github.com/google/uuid"

	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// Wire names of the events this module consumes and produces.
const (
	EventImageReadyForAnonymization = "ImageReadyForAnonymization"
	EventAnonymizationRequested     = "AnonymizationRequested"
	EventAnonymizationCompleted     = "AnonymizationCompleted"
	EventAnonymizationFailed        = "AnonymizationFailed"
	EventImageReadyForProcessing    = "ImageReadyForProcessing"
	EventAnonymizationRolledBack    = "AnonymizationRolledBack"
)

// ImageReadyForAnonymization is the inbound intake event: an image is waiting
// to be anonymized.
type ImageReadyForAnonymization struct {
	pkgDomain.EventMeta
	ImageID   uuid.UUID `json:"image_id"`
	TaskID    uuid.UUID `json:"task_id"`
	Source    string    `json:"source"`
	Modality  string    `json:"modality"`
	Region    string    `json:"region"`
	FilePath  string    `json:"file_path"`
	ImageType ImageType `json:"image_type"`
}

func (ImageReadyForAnonymization) EventName() string { return EventImageReadyForAnonymization }

// AnonymizationRequested announces that a task was routed to an anonymizer.
type AnonymizationRequested struct {
	pkgDomain.EventMeta
	ImageID            uuid.UUID `json:"image_id"`
	TaskID             uuid.UUID `json:"task_id"`
	ImageType          ImageType `json:"image_type"`
	Source             string    `json:"source"`
	Modality           string    `json:"modality"`
	Region             string    `json:"region"`
	FilePath           string    `json:"file_path"`
	DestinationService string    `json:"destination_service"`
}

func (AnonymizationRequested) EventName() string { return EventAnonymizationRequested }

// AnonymizationCompleted announces a finished anonymization.
type AnonymizationCompleted struct {
	pkgDomain.EventMeta
	ImageID          uuid.UUID `json:"image_id"`
	TaskID           uuid.UUID `json:"task_id"`
	ImageType        ImageType `json:"image_type"`
	ResultFilePath   string    `json:"result_file_path"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

func (AnonymizationCompleted) EventName() string { return EventAnonymizationCompleted }

// AnonymizationFailed announces a failed anonymization.
type AnonymizationFailed struct {
	pkgDomain.EventMeta
	ImageID      uuid.UUID `json:"image_id"`
	TaskID       uuid.UUID `json:"task_id"`
	ImageType    ImageType `json:"image_type"`
	ErrorMessage string    `json:"error_message"`
}

func (AnonymizationFailed) EventName() string { return EventAnonymizationFailed }

// ImageReadyForProcessing signals the downstream image-processing pipeline
// that an anonymized image is available.
type ImageReadyForProcessing struct {
	pkgDomain.EventMeta
	ImageID            uuid.UUID `json:"image_id"`
	TaskID             uuid.UUID `json:"task_id"`
	ImageType          ImageType `json:"image_type"`
	AnonymizedFilePath string    `json:"anonymized_file_path"`
	OriginalFilePath   string    `json:"original_file_path"`
	Source             string    `json:"source"`
	Modality           string    `json:"modality"`
	Region             string    `json:"region"`
}

func (ImageReadyForProcessing) EventName() string { return EventImageReadyForProcessing }

// AnonymizationRolledBack announces that a saga compensation reverted a task.
type AnonymizationRolledBack struct {
	pkgDomain.EventMeta
	TaskID  uuid.UUID `json:"task_id"`
	ImageID uuid.UUID `json:"image_id"`
	Reason  string    `json:"reason"`
}

func (AnonymizationRolledBack) EventName() string { return EventAnonymizationRolledBack }
