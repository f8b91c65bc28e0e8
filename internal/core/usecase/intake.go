package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

// IntakeStage validates a freshly staged file, extracts metadata, generates a
// thumbnail for images, and relocates the file to its permanent content path.
// On success it enqueues the OCR stage.
type IntakeStage struct {
	repo    ports.DocumentRepository
	files   ports.FileProcessor
	jobs    ports.JobEnqueuer
	destDir string
	thumbs  string
	logger  *slog.Logger
}

func NewIntakeStage(
	repo ports.DocumentRepository,
	files ports.FileProcessor,
	jobs ports.JobEnqueuer,
	destDir, thumbDir string,
	logger *slog.Logger,
) *IntakeStage {
	return &IntakeStage{
		repo:    repo,
		files:   files,
		jobs:    jobs,
		destDir: destDir,
		thumbs:  thumbDir,
		logger:  logger,
	}
}

func (s *IntakeStage) Kind() domain.JobType { return domain.JobTypeUpload }

func (s *IntakeStage) Handle(ctx context.Context, msg domain.JobMessage, report func(context.Context, int)) error {
	start := time.Now()

	if err := s.repo.UpdateStatus(ctx, msg.DocumentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	report(ctx, 10)

	// Validation failures are terminal: the file itself is unusable and a
	// retry cannot change that.
	if err := s.files.Validate(msg.FilePath); err != nil {
		return fmt.Errorf("validate file: %w", err)
	}
	report(ctx, 25)

	meta := s.files.ExtractMetadata(msg.FilePath)
	report(ctx, 50)

	base := filepath.Base(msg.FilePath)
	thumbOut := filepath.Join(s.thumbs, strings.TrimSuffix(base, filepath.Ext(base))+"_thumb.jpg")
	thumb, err := s.files.GenerateThumbnail(msg.FilePath, thumbOut)
	if err != nil {
		// Best-effort enrichment only.
		s.logger.Warn("thumbnail_failed", "document_id", msg.DocumentID, "error", err)
	} else if thumb != "" {
		meta["thumbnail_path"] = thumb
	}
	report(ctx, 75)

	finalPath := filepath.Join(s.destDir, base)
	if err := s.files.MoveToFinalDestination(msg.FilePath, finalPath); err != nil {
		return fmt.Errorf("relocate to content path: %w", err)
	}
	s.files.CleanupTempFile(msg.FilePath)

	elapsed := time.Since(start).Milliseconds()
	if err := s.repo.SaveIntakeResult(ctx, msg.DocumentID, finalPath, meta, elapsed); err != nil {
		return fmt.Errorf("save intake result: %w", err)
	}
	report(ctx, 100)

	if _, err := s.jobs.Enqueue(ctx, domain.JobTypeOCR, domain.JobMessage{
		DocumentID: msg.DocumentID,
		FilePath:   finalPath,
	}); err != nil {
		return fmt.Errorf("enqueue ocr job: %w", err)
	}
	return nil
}
