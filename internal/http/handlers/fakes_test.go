package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"server/internal/costs"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/notify"
	"server/internal/orchestrator"
	"server/internal/providers"
)

// stubJobs is a minimal in-memory JobRepository for handler tests.
type stubJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

func newStubJobs(seed ...*domain.GenerationJob) *stubJobs {
	s := &stubJobs{jobs: make(map[string]*domain.GenerationJob)}
	for _, job := range seed {
		clone := *job
		s.jobs[job.ID] = &clone
	}
	return s
}

func (s *stubJobs) get(id string) domain.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *stubJobs) Create(ctx context.Context, job *domain.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	clone.State = domain.JobStateInitiated
	s.jobs[job.ID] = &clone
	return nil
}

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *stubJobs) MarkSubmitted(ctx context.Context, jobID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != domain.JobStateInitiated {
		return domain.ErrNotFound
	}
	job.State = domain.JobStateSubmitted
	job.ProviderHandle = handle
	return nil
}

func (s *stubJobs) MarkPending(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != domain.JobStateSubmitted {
		return domain.ErrNotFound
	}
	job.State = domain.JobStatePending
	return nil
}

func (s *stubJobs) FailSubmission(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.State == domain.JobStateInitiated {
		job.State = domain.JobStateFailed
		job.ErrorReason = reason
	}
	return nil
}

func (s *stubJobs) FindActiveByHandle(ctx context.Context, provider domain.Provider, handle string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Provider == provider && job.ProviderHandle == handle && !job.State.Terminal() {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobs) CompleteIfActive(ctx context.Context, jobID, artifactURL string, metadata []byte) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || (job.State != domain.JobStateSubmitted && job.State != domain.JobStatePending) {
		return nil, domain.ErrNotFound
	}
	job.State = domain.JobStateCompleted
	job.ArtifactURL = artifactURL
	job.ProviderMetadata = metadata
	clone := *job
	return &clone, nil
}

func (s *stubJobs) FailIfActive(ctx context.Context, jobID, reason string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || (job.State != domain.JobStateSubmitted && job.State != domain.JobStatePending) {
		return nil, domain.ErrNotFound
	}
	job.State = domain.JobStateFailed
	job.ErrorReason = reason
	clone := *job
	return &clone, nil
}

func (s *stubJobs) SetArtifact(ctx context.Context, jobID, url, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.ArtifactURL = url
		job.ArtifactKey = key
	}
	return nil
}

func (s *stubJobs) ListPendingByProvider(ctx context.Context, provider domain.Provider) ([]domain.GenerationJob, error) {
	return nil, nil
}

func (s *stubJobs) SetReview(ctx context.Context, jobID string, review domain.ReviewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != domain.JobStateCompleted {
		return domain.ErrInvalidReview
	}
	job.Review = review
	return nil
}

func (s *stubJobs) UpdateDetails(ctx context.Context, jobID, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Title = title
		job.Description = description
	}
	return nil
}

var _ domain.JobRepository = (*stubJobs)(nil)

type stubIngestor struct{}

func (stubIngestor) Ingest(ctx context.Context, sourceURL string, kind domain.AssetKind, jobID string) (*ingest.DurableRef, error) {
	key := "generated/videos/" + jobID + "/artifact.mp4"
	return &ingest.DurableRef{URL: "https://cdn.local/" + key, StorageKey: key}, nil
}

type stubLedger struct {
	mu       sync.Mutex
	recorded int
}

func (s *stubLedger) Compute(job *domain.GenerationJob, usage costs.Usage) (*domain.CostBreakdown, error) {
	total := decimal.RequireFromString("0.10")
	return &domain.CostBreakdown{Base: total, Total: total}, nil
}

func (s *stubLedger) Record(ctx context.Context, jobID string, breakdown *domain.CostBreakdown) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded++
	return "cost-1", nil
}

func (s *stubLedger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded
}

type stubCosts struct{}

func (stubCosts) Insert(ctx context.Context, record *domain.CostRecord) error { return nil }
func (stubCosts) Aggregate(ctx context.Context, start, end time.Time) ([]domain.CostAggregate, error) {
	return []domain.CostAggregate{}, nil
}

// scriptedAdapter lets handler tests control submissions without HTTP.
type scriptedAdapter struct {
	name       domain.Provider
	submission *providers.Submission
	submitErr  error
	status     *providers.Status
	statusErr  error
}

func (a *scriptedAdapter) Name() domain.Provider { return a.name }

func (a *scriptedAdapter) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.Submission, error) {
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	return a.submission, nil
}

func (a *scriptedAdapter) CheckStatus(ctx context.Context, handle string) (*providers.Status, error) {
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	if a.status == nil {
		return &providers.Status{Kind: providers.StatusRunning}, nil
	}
	return a.status, nil
}

type testApp struct {
	app    *handlers.App
	router http.Handler
	jobs   *stubJobs
	ledger *stubLedger
	hub    *notify.Hub
}

const testWebhookSecret = "test-secret"

func newTestApp(t *testing.T, jobs *stubJobs, adapters ...providers.Adapter) *testApp {
	t.Helper()
	logger := infra.Logger(zerolog.New(io.Discard))
	registry := providers.Registry{}
	for _, adapter := range adapters {
		registry[adapter.Name()] = adapter
	}
	ledger := &stubLedger{}
	hub := notify.NewHub(time.Minute, logger, nil)
	reconciler := orchestrator.NewReconciler(jobs, stubIngestor{}, ledger, hub, logger, nil)
	poller := orchestrator.NewPoller(time.Second, 3, nil, reconciler, logger)
	orch := orchestrator.NewOrchestrator(context.Background(), jobs, registry, reconciler, poller, "https://api.example", logger, nil)

	app := &handlers.App{
		Config:       &infra.Config{WebhookSecret: testWebhookSecret},
		Logger:       logger,
		Orchestrator: orch,
		Hub:          hub,
		Jobs:         jobs,
		Costs:        stubCosts{},
	}
	return &testApp{
		app:    app,
		router: httpapi.NewRouter(app),
		jobs:   jobs,
		ledger: ledger,
		hub:    hub,
	}
}

func (ta *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}
