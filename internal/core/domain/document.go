package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID               string         `json:"id"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"original_filename"`
	FileSize         int64          `json:"file_size"`
	MimeType         string         `json:"mime_type"`
	FilePath         string         `json:"file_path"`
	Status           DocumentStatus `json:"status"`
	OCRText          string         `json:"ocr_text,omitempty"`
	AIClassification string         `json:"ai_classification,omitempty"`
	ConfidenceScore  float64        `json:"confidence_score,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Entities         *Entities      `json:"entities,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Classification is the result of the classification stage, whether it came
// from the external delegate or the local rule fallback.
type Classification struct {
	DocumentType     string    `json:"document_type"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMS int64     `json:"processing_time"`
	Entities         *Entities `json:"entities,omitempty"`
	SimilarDocuments []string  `json:"similar_documents,omitempty"`
}

// Entities holds regex-extracted values. Matches are concatenated across all
// patterns and duplicates are preserved.
type Entities struct {
	Dates        []string `json:"dates"`
	Amounts      []string `json:"amounts"`
	ProjectCodes []string `json:"project_codes"`
}
