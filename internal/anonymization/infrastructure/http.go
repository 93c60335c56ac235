package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/saludtech/anonymization-service/internal/anonymization/application"
	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
)

const requestTimeout = 10 * time.Second

// AnonymizationHTTPHandler is the thin HTTP surface over the command handlers
// and the repository read side.
type AnonymizationHTTPHandler struct {
	routeHandler    pkgApp.CommandHandler[application.RouteToAnonymizer]
	completeHandler pkgApp.CommandHandler[application.CompleteAnonymization]
	failHandler     pkgApp.CommandHandler[application.FailAnonymization]
	rollbackHandler pkgApp.CommandHandler[application.RollbackAnonymization]
	repository      domain.TaskRepository
}

func NewAnonymizationHTTPHandler(
	routeHandler pkgApp.CommandHandler[application.RouteToAnonymizer],
	completeHandler pkgApp.CommandHandler[application.CompleteAnonymization],
	failHandler pkgApp.CommandHandler[application.FailAnonymization],
	rollbackHandler pkgApp.CommandHandler[application.RollbackAnonymization],
	repository domain.TaskRepository,
) *AnonymizationHTTPHandler {
	return &AnonymizationHTTPHandler{
		routeHandler:    routeHandler,
		completeHandler: completeHandler,
		failHandler:     failHandler,
		rollbackHandler: rollbackHandler,
		repository:      repository,
	}
}

func (h *AnonymizationHTTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/anonymization", func(r chi.Router) {
		r.Post("/route", h.handleRoute)
		r.Get("/health", h.handleHealth)
		r.Get("/tasks/pending", h.handlePendingTasks)
		r.Post("/tasks/{taskID}/complete", h.handleComplete)
		r.Post("/tasks/{taskID}/fail", h.handleFail)
		r.Post("/tasks/{taskID}/rollback", h.handleRollback)
		r.Get("/tasks/{taskID}", h.handleGetTask)
		r.Get("/images/{imageID}/tasks", h.handleTasksByImage)
	})
}

func (h *AnonymizationHTTPHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var command application.RouteToAnonymizer
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.routeHandler.Handle(ctx, command)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *AnonymizationHTTPHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var body struct {
		ResultFilePath   string `json:"result_file_path"`
		ProcessingTimeMS int64  `json:"processing_time_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.completeHandler.Handle(ctx, application.CompleteAnonymization{
		TaskID:           taskID,
		ResultFilePath:   body.ResultFilePath,
		ProcessingTimeMS: body.ProcessingTimeMS,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AnonymizationHTTPHandler) handleFail(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var body struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.failHandler.Handle(ctx, application.FailAnonymization{
		TaskID:       taskID,
		ErrorMessage: body.ErrorMessage,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AnonymizationHTTPHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Reason == "" {
		body.Reason = "saga compensation"
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.rollbackHandler.Handle(ctx, application.RollbackAnonymization{
		TaskID: taskID,
		Reason: body.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AnonymizationHTTPHandler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.repository.GetByTaskID(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskView(task))
}

func (h *AnonymizationHTTPHandler) handlePendingTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.repository.GetPendingTasks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasksView(tasks))
}

func (h *AnonymizationHTTPHandler) handleTasksByImage(w http.ResponseWriter, r *http.Request) {
	imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}

	tasks, err := h.repository.GetTasksByImageID(r.Context(), imageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasksView(tasks))
}

func (h *AnonymizationHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "anonymization-service",
	})
}

type taskResponse struct {
	ID             string                 `json:"id"`
	ImageID        string                 `json:"image_id"`
	TaskID         string                 `json:"task_id"`
	ImageType      string                 `json:"image_type"`
	Source         string                 `json:"source"`
	Modality       string                 `json:"modality"`
	Region         string                 `json:"region"`
	FilePath       string                 `json:"file_path"`
	ResultFilePath string                 `json:"result_file_path,omitempty"`
	Status         string                 `json:"status"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

func taskView(task *domain.AnonymizationTask) taskResponse {
	return taskResponse{
		ID:             task.ID.String(),
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
		Metadata:       task.Metadata,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
	}
}

func tasksView(tasks []*domain.AnonymizationTask) []taskResponse {
	views := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView(task))
	}
	return views
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
