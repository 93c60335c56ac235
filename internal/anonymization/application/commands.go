package application

import (
	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
)

// Wire names of the commands this module accepts.
const (
	CommandRouteToAnonymizer     = "RouteToAnonymizer"
	CommandCompleteAnonymization = "CompleteAnonymization"
	CommandFailAnonymization     = "FailAnonymization"
	CommandRollbackAnonymization = "RollbackAnonymization"
)

// RouteToAnonymizer creates a task for an image and routes it to the matching
// anonymizer service.
type RouteToAnonymizer struct {
	ImageID   uuid.UUID        `json:"image_id"`
	TaskID    uuid.UUID        `json:"task_id"`
	ImageType domain.ImageType `json:"image_type"`
	Source    string           `json:"source"`
	Modality  string           `json:"modality"`
	Region    string           `json:"region"`
	FilePath  string           `json:"file_path"`
}

func (RouteToAnonymizer) CommandName() string { return CommandRouteToAnonymizer }

// CompleteAnonymization marks a routed task as completed.
type CompleteAnonymization struct {
	TaskID           uuid.UUID `json:"task_id"`
	ResultFilePath   string    `json:"result_file_path"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

func (CompleteAnonymization) CommandName() string { return CommandCompleteAnonymization }

// FailAnonymization marks a task as failed.
type FailAnonymization struct {
	TaskID       uuid.UUID `json:"task_id"`
	ErrorMessage string    `json:"error_message"`
}

func (FailAnonymization) CommandName() string { return CommandFailAnonymization }

// RollbackAnonymization compensates an anonymization step when a later saga
// step fails: the result file is removed and the task reverted.
type RollbackAnonymization struct {
	TaskID uuid.UUID `json:"task_id"`
	Reason string    `json:"reason"`
}

func (RollbackAnonymization) CommandName() string { return CommandRollbackAnonymization }
