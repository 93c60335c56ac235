package anonymizer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/saludtech/anonymization-service/internal/anonymization/domain"
	pkgApp "github.com/saludtech/anonymization-service/pkg/application"
	pkgDomain "github.com/saludtech/anonymization-service/pkg/domain"
)

// Worker is a stand-in anonymizer for development and testing: it consumes
// AnonymizationRequested, pretends to anonymize for a configurable delay and
// reports completion the way a real anonymizer service would. It serves every
// destination, so one instance closes the saga loop locally.
type Worker struct {
	publisher domain.EventPublisher
	delay     time.Duration
	logger    pkgApp.AppLogger
}

func NewWorker(publisher domain.EventPublisher, delay time.Duration, logger pkgApp.AppLogger) *Worker {
	return &Worker{
		publisher: publisher,
		delay:     delay,
		logger:    logger,
	}
}

func (w *Worker) Handle(ctx context.Context, event domain.AnonymizationRequested) error {
	pkgApp.LogInfo(ctx, w.logger, "anonymizing image", map[string]interface{}{
		"image_id":    event.ImageID,
		"task_id":     event.TaskID,
		"destination": event.DestinationService,
	})

	start := time.Now()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.delay):
	}

	resultFilePath := filepath.Join(
		filepath.Dir(event.FilePath),
		"anonymized_"+filepath.Base(event.FilePath),
	)

	return w.publisher.Publish(ctx, domain.AnonymizationCompleted{
		EventMeta:        pkgDomain.NewEventMeta(),
		ImageID:          event.ImageID,
		TaskID:           event.TaskID,
		ImageType:        event.ImageType,
		ResultFilePath:   resultFilePath,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
}
