package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
	"github.com/metrodocs/document-pipeline/internal/observability/metrics"
)

// StageHandler executes one pipeline stage. Handlers report progress through
// the callback and enqueue their successor themselves; the runner owns
// retries, timeouts, and the terminal failure path.
type StageHandler interface {
	Kind() domain.JobType
	Handle(ctx context.Context, msg domain.JobMessage, report func(context.Context, int)) error
}

// Runner drives the per-kind worker pools over the queue transport. One
// document moves through its stages strictly in sequence because each stage
// is enqueued only by its predecessor's success; distinct documents progress
// independently.
type Runner struct {
	queue    ports.JobQueue
	store    ports.JobStore
	repo     ports.DocumentRepository
	policies map[domain.JobType]Policy
	handlers map[domain.JobType]StageHandler
	metrics  *metrics.PipelineMetrics
	logger   *slog.Logger

	closeOnce sync.Once
}

func NewRunner(
	queue ports.JobQueue,
	store ports.JobStore,
	repo ports.DocumentRepository,
	policies map[domain.JobType]Policy,
	m *metrics.PipelineMetrics,
	logger *slog.Logger,
) *Runner {
	normalized := make(map[domain.JobType]Policy, len(policies))
	for kind, p := range policies {
		normalized[kind] = p.normalize()
	}
	for _, kind := range domain.AllJobTypes() {
		if _, ok := normalized[kind]; !ok {
			normalized[kind] = DefaultPolicies()[kind].normalize()
		}
	}
	return &Runner{
		queue:    queue,
		store:    store,
		repo:     repo,
		policies: normalized,
		handlers: make(map[domain.JobType]StageHandler),
		metrics:  m,
		logger:   logger,
	}
}

func (r *Runner) Register(h StageHandler) {
	r.handlers[h.Kind()] = h
}

// Enqueue creates a tracked job and publishes it, returning the job handle.
func (r *Runner) Enqueue(ctx context.Context, kind domain.JobType, payload domain.JobMessage) (*domain.ProcessingJob, error) {
	if !domain.ValidJobType(kind) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue job", fmt.Errorf("unknown job type %q", kind))
	}

	job := &domain.ProcessingJob{
		ID:         uuid.NewString(),
		DocumentID: payload.DocumentID,
		FilePath:   payload.FilePath,
		Type:       kind,
		State:      domain.JobWaiting,
		Metadata:   payload.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	msg := domain.JobMessage{
		JobID:      job.ID,
		DocumentID: payload.DocumentID,
		FilePath:   payload.FilePath,
		Type:       kind,
		Attempt:    1,
		Metadata:   payload.Metadata,
	}
	if err := r.queue.Publish(ctx, msg); err != nil {
		_ = r.store.MarkFailed(ctx, kind, job.ID, err.Error(), true)
		return nil, fmt.Errorf("publish job: %w", err)
	}
	return job, nil
}

// Run subscribes every registered kind and blocks until ctx is done. Each
// kind processes up to its configured concurrency in parallel; workers share
// no state beyond the job store.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for kind, handler := range r.handlers {
		kind, handler := kind, handler
		policy := r.policies[kind]

		pool := &errgroup.Group{}
		pool.SetLimit(policy.Concurrency)

		g.Go(func() error {
			defer func() { _ = pool.Wait() }()
			return r.queue.Subscribe(gctx, kind, func(msgCtx context.Context, msg domain.JobMessage) error {
				pool.Go(func() error {
					r.process(msgCtx, policy, handler, msg)
					return nil
				})
				return nil
			})
		})
	}
	return g.Wait()
}

func (r *Runner) process(ctx context.Context, policy Policy, handler StageHandler, msg domain.JobMessage) {
	kind := handler.Kind()
	start := time.Now()

	if r.metrics != nil {
		r.metrics.StartJob(string(kind))
		if job, err := r.store.Get(ctx, kind, msg.JobID); err == nil {
			r.metrics.ObserveQueueLag(string(kind), time.Since(job.CreatedAt))
		}
	}

	attempts, err := r.store.MarkActive(ctx, kind, msg.JobID)
	if err != nil {
		r.logger.Error("job_activate_failed", "job_type", kind, "job_id", msg.JobID, "error", err)
		if r.metrics != nil {
			r.metrics.FinishJob(string(kind), time.Since(start), err)
		}
		return
	}

	// A document that already failed this pass never runs another stage.
	if doc, docErr := r.repo.GetByID(ctx, msg.DocumentID); docErr == nil && doc.Status == domain.StatusFailed {
		reason := "document already failed"
		_ = r.store.MarkFailed(ctx, kind, msg.JobID, reason, true)
		r.logger.Warn("job_skipped", "job_type", kind, "job_id", msg.JobID, "document_id", msg.DocumentID, "reason", reason)
		if r.metrics != nil {
			r.metrics.FinishJob(string(kind), time.Since(start), nil)
		}
		return
	}

	runCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	handleErr := handler.Handle(runCtx, msg, r.progressReporter(kind, msg.JobID))
	if r.metrics != nil {
		r.metrics.FinishJob(string(kind), time.Since(start), handleErr)
	}
	if handleErr == nil {
		if err := r.store.MarkCompleted(ctx, kind, msg.JobID); err != nil {
			r.logger.Error("job_complete_failed", "job_type", kind, "job_id", msg.JobID, "error", err)
		}
		return
	}

	terminal := domain.IsValidationError(handleErr) || attempts >= policy.MaxAttempts
	if terminal {
		r.failTerminally(ctx, kind, msg, handleErr)
		return
	}

	if err := r.store.MarkFailed(ctx, kind, msg.JobID, handleErr.Error(), false); err != nil {
		r.logger.Error("job_requeue_mark_failed", "job_type", kind, "job_id", msg.JobID, "error", err)
	}

	wait := policy.backoffFor(attempts)
	r.logger.Warn("job_retry",
		"job_type", kind,
		"job_id", msg.JobID,
		"document_id", msg.DocumentID,
		"attempt", attempts,
		"max_attempts", policy.MaxAttempts,
		"backoff_ms", wait.Milliseconds(),
		"error", handleErr,
	)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.failTerminally(ctx, kind, msg, handleErr)
			return
		case <-timer.C:
		}
	}

	retry := msg
	retry.Attempt = attempts + 1
	if err := r.queue.Publish(ctx, retry); err != nil {
		r.failTerminally(ctx, kind, msg, fmt.Errorf("republish after failure: %w (original: %w)", err, handleErr))
	}
}

// failTerminally ends the job and the document's pipeline pass: the job is
// marked failed, the document flips to failed, and no successor is enqueued.
func (r *Runner) failTerminally(ctx context.Context, kind domain.JobType, msg domain.JobMessage, cause error) {
	// Bookkeeping must survive a canceled attempt context.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	if err := r.store.MarkFailed(ctx, kind, msg.JobID, cause.Error(), true); err != nil {
		r.logger.Error("job_fail_mark_failed", "job_type", kind, "job_id", msg.JobID, "error", err)
	}
	if err := r.repo.UpdateStatus(ctx, msg.DocumentID, domain.StatusFailed, cause.Error()); err != nil {
		r.logger.Error("document_fail_mark_failed", "job_type", kind, "document_id", msg.DocumentID, "error", err)
	}
	r.logger.Error("job_failed",
		"job_type", kind,
		"job_id", msg.JobID,
		"document_id", msg.DocumentID,
		"error", cause,
	)
}

// progressReporter clamps progress to monotonically increasing checkpoints.
// Progress is observability only; it never drives control decisions.
func (r *Runner) progressReporter(kind domain.JobType, jobID string) func(context.Context, int) {
	var mu sync.Mutex
	last := 0
	return func(ctx context.Context, pct int) {
		mu.Lock()
		defer mu.Unlock()
		if pct <= last {
			return
		}
		if pct > 100 {
			pct = 100
		}
		last = pct
		if err := r.store.SetProgress(ctx, kind, jobID, pct); err != nil {
			r.logger.Debug("job_progress_failed", "job_type", kind, "job_id", jobID, "error", err)
		}
	}
}

// QueueStats returns the per-kind waiting/active/completed/failed snapshot.
func (r *Runner) QueueStats(ctx context.Context) (domain.QueueStats, error) {
	return r.store.Counts(ctx)
}

// JobStatus looks up a single job; unknown kinds and ids report not found.
func (r *Runner) JobStatus(ctx context.Context, kind domain.JobType, id string) (*domain.ProcessingJob, error) {
	if !domain.ValidJobType(kind) {
		return nil, domain.WrapError(domain.ErrJobNotFound, "job status", fmt.Errorf("unknown job type %q", kind))
	}
	return r.store.Get(ctx, kind, id)
}

// Close releases the queue transport. Safe to call multiple times.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.queue.Close()
	})
}
