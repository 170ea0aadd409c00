package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"server/internal/costs"
	"server/internal/domain"
	"server/internal/ingest"
	"server/internal/notify"
	"server/internal/providers"
)

// memJobs is an in-memory JobRepository with the same conditional-transition
// semantics as the PostgreSQL implementation.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.GenerationJob)}
}

func (m *memJobs) put(job *domain.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	m.jobs[job.ID] = &clone
}

func (m *memJobs) get(id string) domain.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobs) Create(ctx context.Context, job *domain.GenerationJob) error {
	clone := *job
	clone.State = domain.JobStateInitiated
	clone.CreatedAt = time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memJobs) MarkSubmitted(ctx context.Context, jobID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.State != domain.JobStateInitiated {
		return domain.ErrNotFound
	}
	job.State = domain.JobStateSubmitted
	job.ProviderHandle = handle
	return nil
}

func (m *memJobs) MarkPending(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.State != domain.JobStateSubmitted {
		return domain.ErrNotFound
	}
	job.State = domain.JobStatePending
	return nil
}

func (m *memJobs) FailSubmission(ctx context.Context, jobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.State != domain.JobStateInitiated {
		return nil
	}
	job.State = domain.JobStateFailed
	job.ErrorReason = reason
	return nil
}

func (m *memJobs) FindActiveByHandle(ctx context.Context, provider domain.Provider, handle string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Provider == provider && job.ProviderHandle == handle && !job.State.Terminal() {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) CompleteIfActive(ctx context.Context, jobID, artifactURL string, metadata []byte) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || (job.State != domain.JobStateSubmitted && job.State != domain.JobStatePending) {
		return nil, domain.ErrNotFound
	}
	job.State = domain.JobStateCompleted
	job.ArtifactURL = artifactURL
	job.ProviderMetadata = metadata
	clone := *job
	return &clone, nil
}

func (m *memJobs) FailIfActive(ctx context.Context, jobID, reason string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || (job.State != domain.JobStateSubmitted && job.State != domain.JobStatePending) {
		return nil, domain.ErrNotFound
	}
	job.State = domain.JobStateFailed
	job.ErrorReason = reason
	clone := *job
	return &clone, nil
}

func (m *memJobs) SetArtifact(ctx context.Context, jobID, url, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ArtifactURL = url
	job.ArtifactKey = key
	return nil
}

func (m *memJobs) ListPendingByProvider(ctx context.Context, provider domain.Provider) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationJob
	for _, job := range m.jobs {
		if job.Provider == provider && job.State == domain.JobStatePending {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobs) SetReview(ctx context.Context, jobID string, review domain.ReviewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.State != domain.JobStateCompleted {
		return domain.ErrInvalidReview
	}
	job.Review = review
	return nil
}

func (m *memJobs) UpdateDetails(ctx context.Context, jobID, title, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Title = title
	job.Description = description
	return nil
}

var _ domain.JobRepository = (*memJobs)(nil)

type fakeIngestor struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeIngestor) Ingest(ctx context.Context, sourceURL string, kind domain.AssetKind, jobID string) (*ingest.DurableRef, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := "generated/images/" + jobID + "/artifact.png"
	return &ingest.DurableRef{URL: "https://cdn.local/" + key, StorageKey: key}, nil
}

type fakeLedger struct {
	computeErr error
	recordErr  error
	mu         sync.Mutex
	recorded   []string
}

func (f *fakeLedger) Compute(job *domain.GenerationJob, usage costs.Usage) (*domain.CostBreakdown, error) {
	if f.computeErr != nil {
		return nil, f.computeErr
	}
	total := decimal.RequireFromString("0.05")
	return &domain.CostBreakdown{Base: total, Total: total}, nil
}

func (f *fakeLedger) Record(ctx context.Context, jobID string, breakdown *domain.CostBreakdown) (string, error) {
	if f.recordErr != nil {
		return "", f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, jobID)
	return uuid.NewString(), nil
}

func (f *fakeLedger) records() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.recorded...)
}

type fakeBus struct {
	mu     sync.Mutex
	events []notify.Event
	users  []string
}

func (f *fakeBus) Broadcast(userID string, event notify.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.users = append(f.users, userID)
	return 1
}

func (f *fakeBus) all() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Event(nil), f.events...)
}

// fakeAdapter scripts Submit and CheckStatus responses.
type fakeAdapter struct {
	name       domain.Provider
	submission *providers.Submission
	submitErr  error

	mu       sync.Mutex
	statuses []statusStep
	checks   int
}

type statusStep struct {
	status *providers.Status
	err    error
}

func (f *fakeAdapter) Name() domain.Provider {
	return f.name
}

func (f *fakeAdapter) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.Submission, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submission, nil
}

func (f *fakeAdapter) CheckStatus(ctx context.Context, handle string) (*providers.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if len(f.statuses) == 0 {
		return &providers.Status{Kind: providers.StatusRunning}, nil
	}
	step := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return step.status, step.err
}

func (f *fakeAdapter) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

var _ providers.Adapter = (*fakeAdapter)(nil)

var errBoom = errors.New("boom")
