package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

// MetadataKeyEntities carries extracted entities to the indexing stage as a
// JSON blob.
const MetadataKeyEntities = "entities"

// ClassificationStage labels the document. The classifier is total: external
// delegate failures substitute the deterministic rule fallback, so an error
// here means the stage itself broke, not the delegate.
type ClassificationStage struct {
	repo       ports.DocumentRepository
	classifier ports.DocumentClassifier
	entities   ports.EntityExtractor
	jobs       ports.JobEnqueuer
}

func NewClassificationStage(
	repo ports.DocumentRepository,
	classifier ports.DocumentClassifier,
	entities ports.EntityExtractor,
	jobs ports.JobEnqueuer,
) *ClassificationStage {
	return &ClassificationStage{
		repo:       repo,
		classifier: classifier,
		entities:   entities,
		jobs:       jobs,
	}
}

func (s *ClassificationStage) Kind() domain.JobType { return domain.JobTypeClassification }

func (s *ClassificationStage) Handle(ctx context.Context, msg domain.JobMessage, report func(context.Context, int)) error {
	start := time.Now()

	text, carried := msg.Metadata[MetadataKeyOCRText]
	if !carried {
		// Defensive redundancy: re-fetch when the forwarded payload is absent.
		doc, err := s.repo.GetByID(ctx, msg.DocumentID)
		if err != nil {
			return fmt.Errorf("fetch document for classification: %w", err)
		}
		text = doc.OCRText
	}
	report(ctx, 25)

	cls, err := s.classifier.Classify(ctx, text, msg.FilePath)
	if err != nil {
		return fmt.Errorf("classify document: %w", err)
	}
	if cls.Entities == nil {
		extracted := s.entities.Extract(text)
		cls.Entities = &extracted
	}
	cls.ProcessingTimeMS = time.Since(start).Milliseconds()
	report(ctx, 75)

	if err := s.repo.SaveClassification(ctx, msg.DocumentID, cls); err != nil {
		return fmt.Errorf("save classification: %w", err)
	}

	entitiesJSON, err := json.Marshal(cls.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities payload: %w", err)
	}
	if _, err := s.jobs.Enqueue(ctx, domain.JobTypeIndexing, domain.JobMessage{
		DocumentID: msg.DocumentID,
		FilePath:   msg.FilePath,
		Metadata: map[string]string{
			MetadataKeyOCRText:  text,
			MetadataKeyEntities: string(entitiesJSON),
		},
	}); err != nil {
		return fmt.Errorf("enqueue indexing job: %w", err)
	}
	report(ctx, 100)
	return nil
}
