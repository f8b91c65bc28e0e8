package ai

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/resilience"
)

// DelegateClient talks to the external OCR and classification services.
// Stage-level timeouts are enforced by the pipeline runner; the HTTP client
// timeout covers the OCR delegate, which is the slower of the two.
type DelegateClient struct {
	ocrURL        string
	classifierURL string
	httpClient    *http.Client
	executor      *resilience.Executor
}

func NewDelegateClient(ocrURL, classifierURL string, timeout time.Duration, executor *resilience.Executor) *DelegateClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DelegateClient{
		ocrURL:        strings.TrimRight(ocrURL, "/"),
		classifierURL: strings.TrimRight(classifierURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		executor:      executor,
	}
}

// OCRFromDelegate posts the file to the external OCR service and returns the
// extracted text.
func (c *DelegateClient) OCRFromDelegate(ctx context.Context, filePath string) (string, error) {
	var response struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}

	call := func(ctx context.Context) error {
		return c.postFile(ctx, c.ocrURL, "/v1/ocr", filePath, &response, "ocr")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "delegate_ocr", call, classifyDelegateError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("delegate ocr", err)
	}
	return strings.TrimSpace(response.Text), nil
}

// ClassifyFromDelegate posts text plus file identity to the classification
// service.
func (c *DelegateClient) ClassifyFromDelegate(ctx context.Context, ocrText, filePath string) (domain.Classification, error) {
	request := map[string]any{
		"text":      ocrText,
		"filename":  filepath.Base(filePath),
		"file_type": strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), "."),
	}

	var response struct {
		DocumentType     string   `json:"document_type"`
		Confidence       float64  `json:"confidence"`
		SimilarDocuments []string `json:"similar_documents"`
	}

	call := func(ctx context.Context) error {
		return c.postJSON(ctx, c.classifierURL, "/v1/classify", request, &response, "classify")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "delegate_classify", call, classifyDelegateError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.Classification{}, wrapTemporaryIfNeeded("delegate classify", err)
	}

	return domain.Classification{
		DocumentType:     response.DocumentType,
		Confidence:       response.Confidence,
		SimilarDocuments: response.SimilarDocuments,
	}, nil
}
