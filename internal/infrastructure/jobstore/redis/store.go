package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

const defaultFinishedTTL = time.Hour

// Store keeps job state in redis hashes, one hash per job plus a per-kind
// state counter hash. Finished jobs expire after a TTL instead of a count
// bound; the counters outlive the evicted hashes so stats stay cumulative.
type Store struct {
	client      *redis.Client
	finishedTTL time.Duration
}

func New(client *redis.Client, finishedTTL time.Duration) *Store {
	if finishedTTL <= 0 {
		finishedTTL = defaultFinishedTTL
	}
	return &Store{client: client, finishedTTL: finishedTTL}
}

func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func jobKey(kind domain.JobType, id string) string {
	return fmt.Sprintf("jobs:%s:%s", kind, id)
}

func countsKey(kind domain.JobType) string {
	return fmt.Sprintf("jobs:counts:%s", kind)
}

func (s *Store) Create(ctx context.Context, job *domain.ProcessingJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.Type, job.ID), map[string]any{
		"document_id":   job.DocumentID,
		"file_path":     job.FilePath,
		"job_type":      string(job.Type),
		"state":         string(domain.JobWaiting),
		"metadata":      string(metadata),
		"attempts":      0,
		"progress":      0,
		"created_at":    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"failed_reason": "",
	})
	pipe.HIncrBy(ctx, countsKey(job.Type), string(domain.JobWaiting), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job hash: %w", err)
	}
	return nil
}

func (s *Store) MarkActive(ctx context.Context, kind domain.JobType, id string) (int, error) {
	if err := s.ensureExists(ctx, kind, id); err != nil {
		return 0, err
	}

	attempts, err := s.client.HIncrBy(ctx, jobKey(kind, id), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(kind, id), map[string]any{
		"state":      string(domain.JobActive),
		"started_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobWaiting), -1)
	pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobActive), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("mark job active: %w", err)
	}
	return int(attempts), nil
}

func (s *Store) MarkCompleted(ctx context.Context, kind domain.JobType, id string) error {
	if err := s.ensureExists(ctx, kind, id); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(kind, id), map[string]any{
		"state":         string(domain.JobCompleted),
		"completed_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"failed_reason": "",
	})
	pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobActive), -1)
	pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobCompleted), 1)
	pipe.Expire(ctx, jobKey(kind, id), s.finishedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, kind domain.JobType, id, reason string, terminal bool) error {
	if err := s.ensureExists(ctx, kind, id); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if terminal {
		pipe.HSet(ctx, jobKey(kind, id), map[string]any{
			"state":         string(domain.JobFailed),
			"completed_at":  time.Now().UTC().Format(time.RFC3339Nano),
			"failed_reason": reason,
		})
		pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobActive), -1)
		pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobFailed), 1)
		pipe.Expire(ctx, jobKey(kind, id), s.finishedTTL)
	} else {
		pipe.HSet(ctx, jobKey(kind, id), map[string]any{
			"state":         string(domain.JobWaiting),
			"failed_reason": reason,
		})
		pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobActive), -1)
		pipe.HIncrBy(ctx, countsKey(kind), string(domain.JobWaiting), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

func (s *Store) SetProgress(ctx context.Context, kind domain.JobType, id string, progress int) error {
	if err := s.client.HSet(ctx, jobKey(kind, id), "progress", progress).Err(); err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind domain.JobType, id string) (*domain.ProcessingJob, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(kind, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.WrapError(domain.ErrJobNotFound, "lookup job", fmt.Errorf("%s/%s", kind, id))
	}
	return parseJob(kind, id, fields)
}

func (s *Store) Counts(ctx context.Context) (domain.QueueStats, error) {
	stats := make(domain.QueueStats, len(domain.AllJobTypes()))
	for _, kind := range domain.AllJobTypes() {
		fields, err := s.client.HGetAll(ctx, countsKey(kind)).Result()
		if err != nil {
			return nil, fmt.Errorf("read queue counters for %s: %w", kind, err)
		}
		stats[kind] = domain.JobCounts{
			Waiting:   parseCount(fields[string(domain.JobWaiting)]),
			Active:    parseCount(fields[string(domain.JobActive)]),
			Completed: parseCount(fields[string(domain.JobCompleted)]),
			Failed:    parseCount(fields[string(domain.JobFailed)]),
		}
	}
	return stats, nil
}

func (s *Store) ensureExists(ctx context.Context, kind domain.JobType, id string) error {
	exists, err := s.client.Exists(ctx, jobKey(kind, id)).Result()
	if err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if exists == 0 {
		return domain.WrapError(domain.ErrJobNotFound, "lookup job", fmt.Errorf("%s/%s", kind, id))
	}
	return nil
}

func parseJob(kind domain.JobType, id string, fields map[string]string) (*domain.ProcessingJob, error) {
	job := &domain.ProcessingJob{
		ID:           id,
		DocumentID:   fields["document_id"],
		FilePath:     fields["file_path"],
		Type:         kind,
		State:        domain.JobState(fields["state"]),
		Attempts:     parseCount(fields["attempts"]),
		Progress:     parseCount(fields["progress"]),
		FailedReason: fields["failed_reason"],
	}
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	if ts := parseTime(fields["created_at"]); ts != nil {
		job.CreatedAt = *ts
	}
	job.StartedAt = parseTime(fields["started_at"])
	job.CompletedAt = parseTime(fields["completed_at"])
	return job, nil
}

func parseCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &ts
}
