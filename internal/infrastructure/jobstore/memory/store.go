package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

const defaultRetention = 100

// Store keeps jobs in process memory. Jobs are transient by contract: once a
// job finishes it is retained only until the per-kind retention bound pushes
// it out, and is never referenced again after eviction.
type Store struct {
	retention int

	mu       sync.Mutex
	jobs     map[domain.JobType]map[string]*domain.ProcessingJob
	finished map[domain.JobType][]string
}

func New(retention int) *Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	jobs := make(map[domain.JobType]map[string]*domain.ProcessingJob)
	for _, kind := range domain.AllJobTypes() {
		jobs[kind] = make(map[string]*domain.ProcessingJob)
	}
	return &Store{
		retention: retention,
		jobs:      jobs,
		finished:  make(map[domain.JobType][]string),
	}
}

func (s *Store) Create(_ context.Context, job *domain.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, ok := s.jobs[job.Type]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "create job", fmt.Errorf("unknown job type %q", job.Type))
	}
	stored := *job
	stored.State = domain.JobWaiting
	kind[job.ID] = &stored
	return nil
}

func (s *Store) MarkActive(_ context.Context, kind domain.JobType, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(kind, id)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	job.State = domain.JobActive
	job.Attempts++
	job.StartedAt = &now
	return job.Attempts, nil
}

func (s *Store) MarkCompleted(_ context.Context, kind domain.JobType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(kind, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.State = domain.JobCompleted
	job.CompletedAt = &now
	job.FailedReason = ""
	s.retainLocked(kind, id)
	return nil
}

func (s *Store) MarkFailed(_ context.Context, kind domain.JobType, id, reason string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(kind, id)
	if err != nil {
		return err
	}
	job.FailedReason = reason
	if !terminal {
		job.State = domain.JobWaiting
		return nil
	}
	now := time.Now().UTC()
	job.State = domain.JobFailed
	job.CompletedAt = &now
	s.retainLocked(kind, id)
	return nil
}

func (s *Store) SetProgress(_ context.Context, kind domain.JobType, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(kind, id)
	if err != nil {
		return err
	}
	job.Progress = progress
	return nil
}

func (s *Store) Get(_ context.Context, kind domain.JobType, id string) (*domain.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(kind, id)
	if err != nil {
		return nil, err
	}
	copied := *job
	return &copied, nil
}

func (s *Store) Counts(_ context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(domain.QueueStats, len(s.jobs))
	for kind, jobs := range s.jobs {
		var counts domain.JobCounts
		for _, job := range jobs {
			switch job.State {
			case domain.JobWaiting:
				counts.Waiting++
			case domain.JobActive:
				counts.Active++
			case domain.JobCompleted:
				counts.Completed++
			case domain.JobFailed:
				counts.Failed++
			}
		}
		stats[kind] = counts
	}
	return stats, nil
}

func (s *Store) lookupLocked(kind domain.JobType, id string) (*domain.ProcessingJob, error) {
	jobs, ok := s.jobs[kind]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "lookup job", fmt.Errorf("unknown job type %q", kind))
	}
	job, ok := jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "lookup job", fmt.Errorf("id %s", id))
	}
	return job, nil
}

// retainLocked enforces the bounded finished-job window per kind, evicting
// oldest first.
func (s *Store) retainLocked(kind domain.JobType, id string) {
	s.finished[kind] = append(s.finished[kind], id)
	for len(s.finished[kind]) > s.retention {
		evicted := s.finished[kind][0]
		s.finished[kind] = s.finished[kind][1:]
		delete(s.jobs[kind], evicted)
	}
}
