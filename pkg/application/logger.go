package application

import "context"

// AppLogger is the logging port used across the application layers.
type AppLogger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})
	Trace(ctx context.Context, msg string, fields map[string]interface{})
}

// LogError logs msg with the error attached to the structured fields.
func LogError(ctx context.Context, logger AppLogger, msg string, err error, fields map[string]interface{}) {
	logData := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		logData[k] = v
	}
	if err != nil {
		logData["error"] = err.Error()
	}
	logger.Error(ctx, msg, logData)
}

// LogInfo logs msg with the given structured fields.
func LogInfo(ctx context.Context, logger AppLogger, msg string, fields map[string]interface{}) {
	logger.Info(ctx, msg, fields)
}

// NopLogger discards everything. Useful in tests.
type NopLogger struct{}

func (NopLogger) Info(context.Context, string, map[string]interface{})  {}
func (NopLogger) Debug(context.Context, string, map[string]interface{}) {}
func (NopLogger) Error(context.Context, string, map[string]interface{}) {}
func (NopLogger) Trace(context.Context, string, map[string]interface{}) {}
