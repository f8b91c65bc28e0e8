package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

// UploadDocumentUseCase handles upload ingress: the body is staged on local
// disk, the document row is created as pending, and an intake job is
// enqueued. Everything after that happens asynchronously in the pipeline.
type UploadDocumentUseCase struct {
	repo    ports.DocumentRepository
	staging ports.StagingStorage
	jobs    ports.JobEnqueuer
}

func NewUploadDocumentUseCase(
	repo ports.DocumentRepository,
	staging ports.StagingStorage,
	jobs ports.JobEnqueuer,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		repo:    repo,
		staging: staging,
		jobs:    jobs,
	}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, *domain.ProcessingJob, error) {
	id := uuid.NewString()
	stagedName := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))

	path, size, err := uc.staging.Stage(ctx, stagedName, body)
	if err != nil {
		return nil, nil, fmt.Errorf("stage uploaded file: %w", err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:               id,
		Filename:         stagedName,
		OriginalFilename: filename,
		FileSize:         size,
		MimeType:         mimeType,
		FilePath:         path,
		Status:           domain.StatusPending,
		Metadata:         map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("create document record: %w", err)
	}

	job, err := uc.jobs.Enqueue(ctx, domain.JobTypeUpload, domain.JobMessage{
		DocumentID: id,
		FilePath:   path,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue intake job: %w", err)
	}

	return doc, job, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
