package ai

import (
	"context"
	"log/slog"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

type classifyDelegate interface {
	ClassifyFromDelegate(ctx context.Context, ocrText, filePath string) (domain.Classification, error)
}

// Classifier asks the delegate first and falls back to local rules on any
// delegate error. It never returns an error: classification is total.
type Classifier struct {
	delegate classifyDelegate
	fallback *RuleClassifier
	logger   *slog.Logger
}

func NewClassifier(delegate classifyDelegate, fallback *RuleClassifier, logger *slog.Logger) *Classifier {
	return &Classifier{delegate: delegate, fallback: fallback, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, ocrText, filePath string) (domain.Classification, error) {
	if c.delegate != nil {
		cls, err := c.delegate.ClassifyFromDelegate(ctx, ocrText, filePath)
		if err == nil && cls.DocumentType != "" {
			return cls, nil
		}
		if err != nil {
			c.logger.Warn("classifier_delegate_failed", "path", filePath, "error", err)
		}
	}
	return c.fallback.Classify(filePath, ocrText), nil
}
