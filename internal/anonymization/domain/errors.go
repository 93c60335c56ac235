package domain

import "errors"

var (
	// ErrTaskNotFound means the referenced task id does not exist.
	ErrTaskNotFound = errors.New("anonymization task not found")

	// ErrValidation means a command carried malformed or missing fields.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition means a lifecycle behavior was applied to a task
	// whose status does not allow it (including duplicate application).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrentModification means another writer updated the task between
	// load and update; the caller should retry against the fresh state.
	ErrConcurrentModification = errors.New("concurrent task modification")
)
