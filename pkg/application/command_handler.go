package application

import (
	"context"

	"github.com/saludtech/anonymization-service/pkg/domain"
)

// Result is the summary mapping a command handler returns to its caller
// (task id, image id, new status and command-specific fields).
type Result map[string]interface{}

// CommandHandler handles exactly one command type inside a transactional scope.
type CommandHandler[C domain.Command] interface {
	Handle(ctx context.Context, command C) (Result, error)
}
