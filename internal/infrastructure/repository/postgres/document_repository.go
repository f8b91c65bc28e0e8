package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// DocumentRepository is the single source of truth for document lifecycle
// state. Each mutation is one UPDATE; concurrent retried attempts serialize
// on the row.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026041502)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL,
	ocr_text TEXT,
	ai_classification TEXT,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	entities JSONB,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, original_filename, file_size, mime_type, file_path,
	status, ocr_text, ai_classification, confidence_score, processing_time_ms,
	metadata, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.Filename, doc.OriginalFilename, doc.FileSize, doc.MimeType, doc.FilePath,
		string(doc.Status), doc.OCRText, doc.AIClassification, doc.ConfidenceScore, doc.ProcessingTimeMS,
		metadataJSON, doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, original_filename, file_size, mime_type, file_path,
	status, ocr_text, ai_classification, confidence_score, processing_time_ms,
	metadata, entities, error_message, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var metadataRaw, entitiesRaw []byte
	var status string
	var ocrText, classification, errorMessage sql.NullString

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.FileSize, &doc.MimeType, &doc.FilePath,
		&status, &ocrText, &classification, &doc.ConfidenceScore, &doc.ProcessingTimeMS,
		&metadataRaw, &entitiesRaw, &errorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(entitiesRaw) > 0 {
		var entities domain.Entities
		if err := json.Unmarshal(entitiesRaw, &entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
		doc.Entities = &entities
	}
	doc.Status = domain.DocumentStatus(status)
	doc.OCRText = ocrText.String
	doc.AIClassification = classification.String
	doc.Error = errorMessage.String
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return checkAffected(res, id)
}

func (r *DocumentRepository) SaveIntakeResult(ctx context.Context, id, filePath string, metadata map[string]any, processingMS int64) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET file_path = $2, metadata = metadata || $3::jsonb, processing_time_ms = $4, updated_at = $5
WHERE id = $1
`, id, filePath, metadataJSON, processingMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save intake result: %w", err)
	}
	return checkAffected(res, id)
}

func (r *DocumentRepository) SaveOCRText(ctx context.Context, id, text string, processingMS int64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ocr_text = $2, processing_time_ms = $3, updated_at = $4
WHERE id = $1
`, id, text, processingMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save ocr text: %w", err)
	}
	return checkAffected(res, id)
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id string, cls domain.Classification) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ai_classification = $2, confidence_score = $3, processing_time_ms = $4, updated_at = $5
WHERE id = $1
`, id, cls.DocumentType, cls.Confidence, cls.ProcessingTimeMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return checkAffected(res, id)
}

func (r *DocumentRepository) SaveEntities(ctx context.Context, id string, entities domain.Entities, processingMS int64) error {
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET entities = $2, processing_time_ms = $3, updated_at = $4
WHERE id = $1
`, id, entitiesJSON, processingMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save entities: %w", err)
	}
	return checkAffected(res, id)
}

func checkAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id %s", id))
	}
	return nil
}
