package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metrodocs/document-pipeline/internal/config"
	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
	"github.com/metrodocs/document-pipeline/internal/core/usecase"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/ai"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/fileproc"
	memorystore "github.com/metrodocs/document-pipeline/internal/infrastructure/jobstore/memory"
	redisstore "github.com/metrodocs/document-pipeline/internal/infrastructure/jobstore/redis"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/repository/postgres"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/resilience"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/metrodocs/document-pipeline/internal/observability/logging"
	"github.com/metrodocs/document-pipeline/internal/observability/metrics"
	"github.com/metrodocs/document-pipeline/internal/pipeline"
)

// App wires the full object graph. The api binary uses the upload use case
// and the read-side ports; the worker binary registers stage handlers on the
// Runner and runs it.
type App struct {
	Config config.Config

	Repo     ports.DocumentRepository
	Uploader ports.DocumentUploader
	Runner   *pipeline.Runner

	PipelineMetrics *metrics.PipelineMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, service string) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	staging, err := localfs.NewStagingStorage(cfg.StagingPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init staging storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logging.Component(logger, "resilience"))
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	store, closeStore, err := newJobStore(ctx, cfg)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init job store: %w", err)
	}
	if cfg.JobStore == "memory" {
		// Process-local: jobs enqueued by the api are invisible to the worker.
		logger.Warn("memory_job_store_selected", "detail", "job state is not shared across processes; use redis for the api+worker deployment")
	}

	pipelineMetrics := metrics.NewPipelineMetrics(service)
	runner := pipeline.NewRunner(queue, store, repo, stagePolicies(cfg), pipelineMetrics, logging.Component(logger, "pipeline"))

	validator := fileproc.NewValidator(cfg.MinFileSizeBytes, cfg.MaxFileSizeBytes, cfg.AllowedExtensions)
	files := fileproc.NewProcessor(validator, logging.Component(logger, "fileproc"))

	delegates := ai.NewDelegateClient(cfg.OCRServiceURL, cfg.ClassifierServiceURL, cfg.OCRDelegateTimeout, executor)
	engine := ai.NewLocalOCREngine(cfg.TesseractPath, cfg.TesseractLanguage)
	ocr := ai.NewGateway(engine, delegates, cfg.OCRConfidenceMin, logging.Component(logger, "ocr"))
	classifier := ai.NewClassifier(delegates, ai.NewRuleClassifier(), logging.Component(logger, "classifier"))
	extractor := ai.NewRegexExtractor()

	runner.Register(usecase.NewIntakeStage(repo, files, runner, cfg.StoragePath, cfg.ThumbnailPath, logging.Component(logger, "intake")))
	runner.Register(usecase.NewOCRStage(repo, ocr, runner))
	runner.Register(usecase.NewClassificationStage(repo, classifier, extractor, runner))
	runner.Register(usecase.NewIndexingStage(repo, extractor))

	uploader := usecase.NewUploadDocumentUseCase(repo, staging, runner)

	return &App{
		Config:          cfg,
		Repo:            repo,
		Uploader:        uploader,
		Runner:          runner,
		PipelineMetrics: pipelineMetrics,

		closeFn: func() {
			runner.Close()
			closeStore()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newJobStore(ctx context.Context, cfg config.Config) (ports.JobStore, func(), error) {
	switch cfg.JobStore {
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(client, cfg.FinishedTTL), func() { _ = client.Close() }, nil
	case "", "memory":
		return memorystore.New(cfg.JobRetention), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown job store %q", cfg.JobStore)
	}
}

// stagePolicies keeps the per-kind retry/backoff/timeout table and overrides
// only the worker counts from configuration.
func stagePolicies(cfg config.Config) map[domain.JobType]pipeline.Policy {
	policies := pipeline.DefaultPolicies()

	override := func(kind domain.JobType, workers int) {
		if workers <= 0 {
			return
		}
		p := policies[kind]
		p.Concurrency = workers
		policies[kind] = p
	}
	override(domain.JobTypeUpload, cfg.UploadWorkers)
	override(domain.JobTypeOCR, cfg.OCRWorkers)
	override(domain.JobTypeClassification, cfg.ClassificationWorkers)
	override(domain.JobTypeIndexing, cfg.IndexingWorkers)

	return policies
}
