package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/core/ports"
)

type recordingRepo struct {
	mu sync.Mutex

	docs map[string]*domain.Document

	statusUpdates   []domain.DocumentStatus
	savedOCRText    string
	savedCls        *domain.Classification
	savedEntities   *domain.Entities
	intakePath      string
	intakeMetadata  map[string]any
	getByIDErr      error
	saveOCRErr      error
	updateStatusErr error
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{docs: make(map[string]*domain.Document)}
}

func (r *recordingRepo) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *recordingRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getByIDErr != nil {
		return nil, r.getByIDErr
	}
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return doc, nil
}

func (r *recordingRepo) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateStatusErr != nil {
		return r.updateStatusErr
	}
	r.statusUpdates = append(r.statusUpdates, status)
	if doc, ok := r.docs[id]; ok {
		doc.Status = status
		doc.Error = errMessage
	}
	return nil
}

func (r *recordingRepo) SaveIntakeResult(_ context.Context, _ string, filePath string, metadata map[string]any, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intakePath = filePath
	r.intakeMetadata = metadata
	return nil
}

func (r *recordingRepo) SaveOCRText(_ context.Context, _ string, text string, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveOCRErr != nil {
		return r.saveOCRErr
	}
	r.savedOCRText = text
	return nil
}

func (r *recordingRepo) SaveClassification(_ context.Context, _ string, cls domain.Classification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedCls = &cls
	return nil
}

func (r *recordingRepo) SaveEntities(_ context.Context, _ string, entities domain.Entities, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedEntities = &entities
	return nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	enqueued []domain.JobMessage
	kinds    []domain.JobType
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, kind domain.JobType, payload domain.JobMessage) (*domain.ProcessingJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.kinds = append(e.kinds, kind)
	e.enqueued = append(e.enqueued, payload)
	return &domain.ProcessingJob{ID: "job-next", Type: kind, State: domain.JobWaiting}, nil
}

type fakeFiles struct {
	validateErr  error
	metadata     map[string]any
	thumbPath    string
	thumbErr     error
	moveErr      error
	movedTo      string
	cleanedPaths []string
}

func (f *fakeFiles) Validate(string) error { return f.validateErr }
func (f *fakeFiles) ExtractMetadata(string) map[string]any {
	if f.metadata == nil {
		return map[string]any{}
	}
	return f.metadata
}
func (f *fakeFiles) GenerateThumbnail(string, string) (string, error) {
	return f.thumbPath, f.thumbErr
}
func (f *fakeFiles) MoveToFinalDestination(_, finalPath string) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.movedTo = finalPath
	return nil
}
func (f *fakeFiles) CleanupTempFile(path string) {
	f.cleanedPaths = append(f.cleanedPaths, path)
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) PerformOCR(context.Context, string) (string, error) { return f.text, f.err }

type fakeClassifier struct {
	cls domain.Classification
	err error
}

func (f *fakeClassifier) Classify(context.Context, string, string) (domain.Classification, error) {
	return f.cls, f.err
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(text string) domain.Entities {
	if strings.Contains(text, "PROJ-0042") {
		return domain.Entities{
			Dates:        []string{"03/04/2024"},
			Amounts:      []string{"$1,200.00"},
			ProjectCodes: []string{"PROJ-0042"},
		}
	}
	return domain.Entities{Dates: []string{}, Amounts: []string{}, ProjectCodes: []string{}}
}

type fakeStaging struct {
	path string
	size int64
	err  error
}

func (f *fakeStaging) Stage(_ context.Context, filename string, data io.Reader) (string, int64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	n, _ := io.Copy(io.Discard, data)
	if f.size == 0 {
		f.size = n
	}
	if f.path == "" {
		f.path = "/tmp/staging/" + filename
	}
	return f.path, f.size, nil
}

var _ ports.FileProcessor = (*fakeFiles)(nil)
var _ ports.StagingStorage = (*fakeStaging)(nil)

func noopReport(context.Context, int) {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploadStagesCreatesAndEnqueues(t *testing.T) {
	repo := newRecordingRepo()
	staging := &fakeStaging{}
	jobs := &recordingEnqueuer{}
	uc := NewUploadDocumentUseCase(repo, staging, jobs)

	doc, job, err := uc.Upload(context.Background(), "Invoice March.pdf", "application/pdf", bytes.NewBufferString("pdf bytes"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", doc.Status)
	}
	if doc.OriginalFilename != "Invoice March.pdf" {
		t.Fatalf("original filename = %q", doc.OriginalFilename)
	}
	if !strings.HasSuffix(doc.Filename, "_Invoice_March.pdf") {
		t.Fatalf("staged filename = %q, want sanitized with id prefix", doc.Filename)
	}
	if job.Type != domain.JobTypeUpload {
		t.Fatalf("job type = %s, want upload", job.Type)
	}
	if len(jobs.kinds) != 1 || jobs.kinds[0] != domain.JobTypeUpload {
		t.Fatalf("enqueued kinds = %v", jobs.kinds)
	}
	if jobs.enqueued[0].DocumentID != doc.ID {
		t.Fatalf("enqueued document id = %q, want %q", jobs.enqueued[0].DocumentID, doc.ID)
	}
}

func TestUploadStagingFailureCreatesNothing(t *testing.T) {
	repo := newRecordingRepo()
	staging := &fakeStaging{err: errors.New("disk full")}
	jobs := &recordingEnqueuer{}
	uc := NewUploadDocumentUseCase(repo, staging, jobs)

	_, _, err := uc.Upload(context.Background(), "a.pdf", "application/pdf", bytes.NewBufferString("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.docs) != 0 {
		t.Fatalf("no document should be created when staging fails")
	}
	if len(jobs.kinds) != 0 {
		t.Fatalf("no job should be enqueued when staging fails")
	}
}

func TestIntakeHappyPathEnqueuesOCR(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusPending}
	files := &fakeFiles{metadata: map[string]any{"width": 640}, thumbPath: "/thumbs/doc-1_thumb.jpg"}
	jobs := &recordingEnqueuer{}
	stage := NewIntakeStage(repo, files, jobs, "/content", "/thumbs", quietLogger())

	err := stage.Handle(context.Background(), domain.JobMessage{
		JobID:      "job-1",
		DocumentID: "doc-1",
		FilePath:   "/staging/doc-1_a.png",
		Type:       domain.JobTypeUpload,
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(repo.statusUpdates) == 0 || repo.statusUpdates[0] != domain.StatusProcessing {
		t.Fatalf("first status update = %v, want processing", repo.statusUpdates)
	}
	if repo.intakePath != "/content/doc-1_a.png" {
		t.Fatalf("intake path = %q", repo.intakePath)
	}
	if repo.intakeMetadata["thumbnail_path"] != "/thumbs/doc-1_thumb.jpg" {
		t.Fatalf("metadata missing thumbnail path: %v", repo.intakeMetadata)
	}
	if files.movedTo != "/content/doc-1_a.png" {
		t.Fatalf("moved to %q", files.movedTo)
	}
	if len(files.cleanedPaths) != 1 {
		t.Fatalf("staged file not cleaned: %v", files.cleanedPaths)
	}
	if len(jobs.kinds) != 1 || jobs.kinds[0] != domain.JobTypeOCR {
		t.Fatalf("enqueued kinds = %v, want [ocr]", jobs.kinds)
	}
	if jobs.enqueued[0].FilePath != "/content/doc-1_a.png" {
		t.Fatalf("ocr job file path = %q, want final path", jobs.enqueued[0].FilePath)
	}
}

func TestIntakeValidationFailureStopsChain(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusPending}
	files := &fakeFiles{validateErr: domain.WrapError(domain.ErrFileEmpty, "validate file", errors.New("size 10"))}
	jobs := &recordingEnqueuer{}
	stage := NewIntakeStage(repo, files, jobs, "/content", "/thumbs", quietLogger())

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/staging/tiny.png",
	}, noopReport)
	if !domain.IsValidationError(err) {
		t.Fatalf("expected validation error to propagate, got %v", err)
	}
	if len(jobs.kinds) != 0 {
		t.Fatalf("no successor on validation failure, got %v", jobs.kinds)
	}
}

func TestIntakeThumbnailFailureIsNonFatal(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusPending}
	files := &fakeFiles{thumbErr: errors.New("decode failed")}
	jobs := &recordingEnqueuer{}
	stage := NewIntakeStage(repo, files, jobs, "/content", "/thumbs", quietLogger())

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/staging/doc-1_a.png",
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, ok := repo.intakeMetadata["thumbnail_path"]; ok {
		t.Fatalf("no thumbnail path expected on failure")
	}
	if len(jobs.kinds) != 1 {
		t.Fatalf("chain must continue despite thumbnail failure")
	}
}

func TestIntakeMoveFailurePropagates(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusPending}
	files := &fakeFiles{moveErr: errors.New("cross-device trouble")}
	jobs := &recordingEnqueuer{}
	stage := NewIntakeStage(repo, files, jobs, "/content", "/thumbs", quietLogger())

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/staging/doc-1_a.png",
	}, noopReport)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(jobs.kinds) != 0 {
		t.Fatalf("no successor when relocation fails")
	}
}

func TestOCRStageForwardsTextToClassification(t *testing.T) {
	repo := newRecordingRepo()
	jobs := &recordingEnqueuer{}
	stage := NewOCRStage(repo, &fakeOCR{text: "Paid $1,200.00 ref PROJ-0042"}, jobs)

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_a.pdf",
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedOCRText != "Paid $1,200.00 ref PROJ-0042" {
		t.Fatalf("saved ocr text = %q", repo.savedOCRText)
	}
	if len(jobs.kinds) != 1 || jobs.kinds[0] != domain.JobTypeClassification {
		t.Fatalf("enqueued kinds = %v, want [classification]", jobs.kinds)
	}
	if jobs.enqueued[0].Metadata[MetadataKeyOCRText] != "Paid $1,200.00 ref PROJ-0042" {
		t.Fatalf("ocr text not forwarded: %v", jobs.enqueued[0].Metadata)
	}
}

func TestOCRStageEmptyTextStillContinues(t *testing.T) {
	repo := newRecordingRepo()
	jobs := &recordingEnqueuer{}
	stage := NewOCRStage(repo, &fakeOCR{text: ""}, jobs)

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_scan.pdf",
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(jobs.kinds) != 1 {
		t.Fatalf("empty text is valid, chain must continue")
	}
}

func TestOCRStageErrorPropagates(t *testing.T) {
	repo := newRecordingRepo()
	jobs := &recordingEnqueuer{}
	stage := NewOCRStage(repo, &fakeOCR{err: errors.New("tesseract crashed")}, jobs)

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_a.png",
	}, noopReport)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(jobs.kinds) != 0 {
		t.Fatalf("no successor after ocr failure")
	}
}

func TestClassificationUsesForwardedText(t *testing.T) {
	repo := newRecordingRepo()
	jobs := &recordingEnqueuer{}
	stage := NewClassificationStage(repo, &fakeClassifier{cls: domain.Classification{DocumentType: "invoice", Confidence: 0.93}}, fakeExtractor{}, jobs)

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_invoice.pdf",
		Metadata:   map[string]string{MetadataKeyOCRText: "Paid $1,200.00 ref PROJ-0042"},
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedCls == nil || repo.savedCls.DocumentType != "invoice" {
		t.Fatalf("saved classification = %+v", repo.savedCls)
	}
	if repo.savedCls.Entities == nil || len(repo.savedCls.Entities.ProjectCodes) != 1 {
		t.Fatalf("entities not filled: %+v", repo.savedCls.Entities)
	}
	if len(jobs.kinds) != 1 || jobs.kinds[0] != domain.JobTypeIndexing {
		t.Fatalf("enqueued kinds = %v, want [indexing]", jobs.kinds)
	}
	meta := jobs.enqueued[0].Metadata
	if meta[MetadataKeyOCRText] == "" || meta[MetadataKeyEntities] == "" {
		t.Fatalf("indexing payload must carry text and entities: %v", meta)
	}
}

func TestClassificationRefetchesTextWhenAbsent(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", OCRText: "maintenance ref PROJ-0042"}
	jobs := &recordingEnqueuer{}
	stage := NewClassificationStage(repo, &fakeClassifier{cls: domain.Classification{DocumentType: "maintenance_record", Confidence: 0.7}}, fakeExtractor{}, jobs)

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_log.pdf",
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedCls == nil || repo.savedCls.Entities == nil || len(repo.savedCls.Entities.ProjectCodes) != 1 {
		t.Fatalf("expected entities extracted from re-fetched text, got %+v", repo.savedCls)
	}
}

func TestIndexingCompletesDocument(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusProcessing}
	stage := NewIndexingStage(repo, fakeExtractor{})

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		FilePath:   "/content/doc-1_a.pdf",
		Metadata: map[string]string{
			MetadataKeyEntities: `{"dates":["03/04/2024"],"amounts":[],"project_codes":["PROJ-0042"]}`,
		},
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedEntities == nil || len(repo.savedEntities.ProjectCodes) != 1 {
		t.Fatalf("saved entities = %+v", repo.savedEntities)
	}
	if repo.docs["doc-1"].Status != domain.StatusCompleted {
		t.Fatalf("document status = %s, want completed", repo.docs["doc-1"].Status)
	}
}

func TestIndexingReextractsOnMalformedPayload(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusProcessing}
	stage := NewIndexingStage(repo, fakeExtractor{})

	err := stage.Handle(context.Background(), domain.JobMessage{
		DocumentID: "doc-1",
		Metadata: map[string]string{
			MetadataKeyEntities: "{not json",
			MetadataKeyOCRText:  "ref PROJ-0042",
		},
	}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedEntities == nil || len(repo.savedEntities.ProjectCodes) != 1 {
		t.Fatalf("expected re-extracted entities, got %+v", repo.savedEntities)
	}
}

func TestIndexingRefetchesDocumentWhenNothingForwarded(t *testing.T) {
	repo := newRecordingRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusProcessing, OCRText: "ref PROJ-0042"}
	stage := NewIndexingStage(repo, fakeExtractor{})

	err := stage.Handle(context.Background(), domain.JobMessage{DocumentID: "doc-1"}, noopReport)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if repo.savedEntities == nil || len(repo.savedEntities.ProjectCodes) != 1 {
		t.Fatalf("expected entities from re-fetched text, got %+v", repo.savedEntities)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Invoice March.pdf":   "Invoice_March.pdf",
		"../../../etc/passwd": "passwd",
		"чертёж.dwg":          "______.dwg",
		"":                    "document.bin",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
