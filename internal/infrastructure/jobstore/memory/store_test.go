package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

func createJob(t *testing.T, s *Store, kind domain.JobType, id string) {
	t.Helper()
	err := s.Create(context.Background(), &domain.ProcessingJob{
		ID:         id,
		DocumentID: "doc-" + id,
		Type:       kind,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	createJob(t, s, domain.JobTypeOCR, "j1")

	attempts, err := s.MarkActive(ctx, domain.JobTypeOCR, "j1")
	if err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	if err := s.SetProgress(ctx, domain.JobTypeOCR, "j1", 60); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}
	if err := s.MarkCompleted(ctx, domain.JobTypeOCR, "j1"); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	job, err := s.Get(ctx, domain.JobTypeOCR, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.State != domain.JobCompleted {
		t.Fatalf("state = %s, want completed", job.State)
	}
	if job.Progress != 60 {
		t.Fatalf("progress = %d, want 60", job.Progress)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected start and completion timestamps, got %+v", job)
	}
}

func TestNonTerminalFailureReturnsJobToWaiting(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	createJob(t, s, domain.JobTypeOCR, "j1")

	if _, err := s.MarkActive(ctx, domain.JobTypeOCR, "j1"); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if err := s.MarkFailed(ctx, domain.JobTypeOCR, "j1", "delegate unreachable", false); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	job, err := s.Get(ctx, domain.JobTypeOCR, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.State != domain.JobWaiting {
		t.Fatalf("state = %s, want waiting", job.State)
	}
	if job.FailedReason != "delegate unreachable" {
		t.Fatalf("failed reason = %q", job.FailedReason)
	}

	// The next attempt keeps counting up.
	attempts, err := s.MarkActive(ctx, domain.JobTypeOCR, "j1")
	if err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestTerminalFailure(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	createJob(t, s, domain.JobTypeUpload, "j1")

	if _, err := s.MarkActive(ctx, domain.JobTypeUpload, "j1"); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if err := s.MarkFailed(ctx, domain.JobTypeUpload, "j1", "file empty", true); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	job, err := s.Get(ctx, domain.JobTypeUpload, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.State != domain.JobFailed || !job.Finished() {
		t.Fatalf("expected finished failed job, got %+v", job)
	}
	if job.CompletedAt == nil {
		t.Fatalf("expected completion timestamp on terminal failure")
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := New(0)

	_, err := s.Get(context.Background(), domain.JobTypeOCR, "missing")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCountsPerKind(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	createJob(t, s, domain.JobTypeOCR, "w1")
	createJob(t, s, domain.JobTypeOCR, "a1")
	createJob(t, s, domain.JobTypeOCR, "c1")
	createJob(t, s, domain.JobTypeIndexing, "f1")

	if _, err := s.MarkActive(ctx, domain.JobTypeOCR, "a1"); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if _, err := s.MarkActive(ctx, domain.JobTypeOCR, "c1"); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if err := s.MarkCompleted(ctx, domain.JobTypeOCR, "c1"); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if _, err := s.MarkActive(ctx, domain.JobTypeIndexing, "f1"); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}
	if err := s.MarkFailed(ctx, domain.JobTypeIndexing, "f1", "boom", true); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	stats, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	ocr := stats[domain.JobTypeOCR]
	if ocr.Waiting != 1 || ocr.Active != 1 || ocr.Completed != 1 || ocr.Failed != 0 {
		t.Fatalf("unexpected ocr counts %+v", ocr)
	}
	idx := stats[domain.JobTypeIndexing]
	if idx.Failed != 1 {
		t.Fatalf("unexpected indexing counts %+v", idx)
	}
}

func TestFinishedJobsEvictedBeyondRetention(t *testing.T) {
	s := New(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("j%d", i)
		createJob(t, s, domain.JobTypeOCR, id)
		if _, err := s.MarkActive(ctx, domain.JobTypeOCR, id); err != nil {
			t.Fatalf("MarkActive() error = %v", err)
		}
		if err := s.MarkCompleted(ctx, domain.JobTypeOCR, id); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
	}

	// Oldest two fell out of the retention window.
	for _, id := range []string{"j0", "j1"} {
		if _, err := s.Get(ctx, domain.JobTypeOCR, id); !domain.IsKind(err, domain.ErrJobNotFound) {
			t.Fatalf("expected %s evicted, got err %v", id, err)
		}
	}
	for _, id := range []string{"j2", "j3", "j4"} {
		if _, err := s.Get(ctx, domain.JobTypeOCR, id); err != nil {
			t.Fatalf("expected %s retained, got err %v", id, err)
		}
	}
}
