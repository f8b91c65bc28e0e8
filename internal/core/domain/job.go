package domain

import "time"

type JobType string

const (
	JobTypeUpload         JobType = "upload"
	JobTypeOCR            JobType = "ocr"
	JobTypeClassification JobType = "classification"
	JobTypeIndexing       JobType = "indexing"
)

// AllJobTypes enumerates the pipeline stages in execution order.
func AllJobTypes() []JobType {
	return []JobType{JobTypeUpload, JobTypeOCR, JobTypeClassification, JobTypeIndexing}
}

func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeUpload, JobTypeOCR, JobTypeClassification, JobTypeIndexing:
		return true
	default:
		return false
	}
}

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobMessage is the wire payload published per stage. Metadata carries data
// forward between stages (the OCR text, extracted entities) so the next stage
// does not have to re-derive it.
type JobMessage struct {
	JobID      string            `json:"job_id"`
	DocumentID string            `json:"document_id"`
	FilePath   string            `json:"file_path"`
	Type       JobType           `json:"job_type"`
	Attempt    int               `json:"attempt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProcessingJob is the transient queue-side view of a stage execution,
// retained briefly after completion for inspection.
type ProcessingJob struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"document_id"`
	FilePath     string            `json:"file_path"`
	Type         JobType           `json:"job_type"`
	State        JobState          `json:"state"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Attempts     int               `json:"attempts"`
	Progress     int               `json:"progress"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	FailedReason string            `json:"failed_reason,omitempty"`
}

func (j *ProcessingJob) Finished() bool {
	return j.State == JobCompleted || j.State == JobFailed
}

type JobCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// QueueStats is a point-in-time snapshot per job kind; callers poll.
type QueueStats map[JobType]JobCounts
