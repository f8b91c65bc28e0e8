package ports

import (
	"context"
	"io"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// DocumentRepository persists document lifecycle state. Every mutation is a
// single atomic row update; two retried attempts for the same document cannot
// interleave a partial write.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveIntakeResult(ctx context.Context, id, filePath string, metadata map[string]any, processingMS int64) error
	SaveOCRText(ctx context.Context, id, text string, processingMS int64) error
	SaveClassification(ctx context.Context, id string, cls domain.Classification) error
	SaveEntities(ctx context.Context, id string, entities domain.Entities, processingMS int64) error
}

// JobQueue is the broker transport. Subscribe blocks until ctx is done and
// drains on the way out; Close is safe to call more than once.
type JobQueue interface {
	Publish(ctx context.Context, msg domain.JobMessage) error
	Subscribe(ctx context.Context, kind domain.JobType, handler func(context.Context, domain.JobMessage) error) error
	Close()
}

// JobStore is the job-storage medium behind progress tracking, retry
// accounting, and queue statistics. Implementations serialize access.
type JobStore interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	// MarkActive transitions waiting -> active and returns the attempt count
	// including the one just started.
	MarkActive(ctx context.Context, kind domain.JobType, id string) (int, error)
	MarkCompleted(ctx context.Context, kind domain.JobType, id string) error
	// MarkFailed records the failure reason. With terminal=false the job
	// returns to waiting for another attempt.
	MarkFailed(ctx context.Context, kind domain.JobType, id, reason string, terminal bool) error
	SetProgress(ctx context.Context, kind domain.JobType, id string, progress int) error
	Get(ctx context.Context, kind domain.JobType, id string) (*domain.ProcessingJob, error)
	Counts(ctx context.Context) (domain.QueueStats, error)
}

// FileProcessor validates and prepares an uploaded file.
type FileProcessor interface {
	Validate(path string) error
	ExtractMetadata(path string) map[string]any
	GenerateThumbnail(path, outPath string) (string, error)
	MoveToFinalDestination(tempPath, finalPath string) error
	CleanupTempFile(path string)
}

// OCRGateway extracts text from a staged file. Empty text is a valid result;
// downstream stages must tolerate it.
type OCRGateway interface {
	PerformOCR(ctx context.Context, filePath string) (string, error)
}

// DocumentClassifier labels a document. Implementations are total: delegate
// failures fall back to a deterministic local result rather than erroring.
type DocumentClassifier interface {
	Classify(ctx context.Context, ocrText, filePath string) (domain.Classification, error)
}

// EntityExtractor scans text for dates, amounts, and project codes.
type EntityExtractor interface {
	Extract(text string) domain.Entities
}

// StagingStorage lands an uploaded body on local disk before intake runs.
type StagingStorage interface {
	Stage(ctx context.Context, filename string, data io.Reader) (path string, size int64, err error)
}
