package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

// IndexingStage is the final stage: it persists the extracted entities and
// flips the document to completed. A document never reaches completed
// without this stage having run.
type IndexingStage struct {
	repo     ports.DocumentRepository
	entities ports.EntityExtractor
}

func NewIndexingStage(repo ports.DocumentRepository, entities ports.EntityExtractor) *IndexingStage {
	return &IndexingStage{repo: repo, entities: entities}
}

func (s *IndexingStage) Kind() domain.JobType { return domain.JobTypeIndexing }

func (s *IndexingStage) Handle(ctx context.Context, msg domain.JobMessage, report func(context.Context, int)) error {
	start := time.Now()
	report(ctx, 20)

	entities, err := s.resolveEntities(ctx, msg)
	if err != nil {
		return err
	}
	report(ctx, 60)

	elapsed := time.Since(start).Milliseconds()
	if err := s.repo.SaveEntities(ctx, msg.DocumentID, entities, elapsed); err != nil {
		return fmt.Errorf("save entities: %w", err)
	}
	if err := s.repo.UpdateStatus(ctx, msg.DocumentID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	report(ctx, 100)
	return nil
}

func (s *IndexingStage) resolveEntities(ctx context.Context, msg domain.JobMessage) (domain.Entities, error) {
	if raw, ok := msg.Metadata[MetadataKeyEntities]; ok && raw != "" {
		var entities domain.Entities
		if err := json.Unmarshal([]byte(raw), &entities); err == nil {
			return entities, nil
		}
		// Malformed forwarded payload degrades to re-extraction.
	}

	text := msg.Metadata[MetadataKeyOCRText]
	if text == "" {
		doc, err := s.repo.GetByID(ctx, msg.DocumentID)
		if err != nil {
			return domain.Entities{}, fmt.Errorf("fetch document for indexing: %w", err)
		}
		text = doc.OCRText
	}
	return s.entities.Extract(text), nil
}
