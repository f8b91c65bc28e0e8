package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

// MetadataKeyOCRText carries extracted text forward so the classification
// stage does not have to re-fetch it from the store.
const MetadataKeyOCRText = "ocr_text"

// OCRStage extracts text from the permanent file. Empty text is a legitimate
// outcome (delegate failures degrade to it) and the chain still continues.
type OCRStage struct {
	repo ports.DocumentRepository
	ocr  ports.OCRGateway
	jobs ports.JobEnqueuer
}

func NewOCRStage(repo ports.DocumentRepository, ocr ports.OCRGateway, jobs ports.JobEnqueuer) *OCRStage {
	return &OCRStage{repo: repo, ocr: ocr, jobs: jobs}
}

func (s *OCRStage) Kind() domain.JobType { return domain.JobTypeOCR }

func (s *OCRStage) Handle(ctx context.Context, msg domain.JobMessage, report func(context.Context, int)) error {
	start := time.Now()
	report(ctx, 10)

	text, err := s.ocr.PerformOCR(ctx, msg.FilePath)
	if err != nil {
		return fmt.Errorf("perform ocr: %w", err)
	}
	report(ctx, 60)

	elapsed := time.Since(start).Milliseconds()
	if err := s.repo.SaveOCRText(ctx, msg.DocumentID, text, elapsed); err != nil {
		return fmt.Errorf("save ocr text: %w", err)
	}
	report(ctx, 90)

	if _, err := s.jobs.Enqueue(ctx, domain.JobTypeClassification, domain.JobMessage{
		DocumentID: msg.DocumentID,
		FilePath:   msg.FilePath,
		Metadata:   map[string]string{MetadataKeyOCRText: text},
	}); err != nil {
		return fmt.Errorf("enqueue classification job: %w", err)
	}
	report(ctx, 100)
	return nil
}
