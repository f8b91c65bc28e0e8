package ports

import (
	"context"
	"io"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// DocumentUploader is the inbound contract for upload ingress: stage the
// file, create the document row, enqueue the intake job.
type DocumentUploader interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, *domain.ProcessingJob, error)
}

// JobEnqueuer creates a tracked job of the given kind and publishes it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind domain.JobType, payload domain.JobMessage) (*domain.ProcessingJob, error)
}

// PipelineInspector exposes queue statistics and per-job state.
type PipelineInspector interface {
	QueueStats(ctx context.Context) (domain.QueueStats, error)
	JobStatus(ctx context.Context, kind domain.JobType, id string) (*domain.ProcessingJob, error)
}
