package ai

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// ocrEngine is the local recognizer for raster images.
type ocrEngine interface {
	Recognize(ctx context.Context, path string) (string, float64, error)
}

// ocrDelegate is the external OCR service used for PDFs.
type ocrDelegate interface {
	OCRFromDelegate(ctx context.Context, filePath string) (string, error)
}

// Gateway routes OCR by file type: raster images run the local engine, PDFs
// go to the delegate with the embedded text layer as fallback. Empty text is
// a valid outcome for PDFs; downstream stages tolerate it.
type Gateway struct {
	engine              ocrEngine
	delegate            ocrDelegate
	confidenceThreshold float64
	logger              *slog.Logger
}

func NewGateway(engine ocrEngine, delegate ocrDelegate, confidenceThreshold float64, logger *slog.Logger) *Gateway {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 60
	}
	return &Gateway{
		engine:              engine,
		delegate:            delegate,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
	}
}

func (g *Gateway) PerformOCR(ctx context.Context, filePath string) (string, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".gif":
		return g.ocrImage(ctx, filePath)
	case ".pdf":
		return g.ocrPDF(ctx, filePath), nil
	default:
		return "", domain.WrapError(domain.ErrUnsupportedType, "perform ocr",
			fmt.Errorf("no ocr route for %q", filepath.Ext(filePath)))
	}
}

func (g *Gateway) ocrImage(ctx context.Context, filePath string) (string, error) {
	text, confidence, err := g.engine.Recognize(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("local ocr: %w", err)
	}
	if confidence < g.confidenceThreshold {
		g.logger.Warn("ocr_low_confidence",
			"path", filePath,
			"confidence", confidence,
			"threshold", g.confidenceThreshold,
		)
	}
	return text, nil
}

// ocrPDF never errors. Delegate failure falls back to the embedded text
// layer, and a missing text layer yields empty text.
func (g *Gateway) ocrPDF(ctx context.Context, filePath string) string {
	text, err := g.delegate.OCRFromDelegate(ctx, filePath)
	if err == nil {
		return text
	}
	g.logger.Warn("ocr_delegate_failed", "path", filePath, "error", err)

	text, err = extractPDFTextLayer(filePath)
	if err != nil {
		g.logger.Warn("pdf_text_layer_failed", "path", filePath, "error", err)
		return ""
	}
	return text
}
