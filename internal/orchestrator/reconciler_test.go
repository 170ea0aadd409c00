package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/notify"
	"server/internal/providers"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestReconciler(jobs domain.JobRepository, ing *fakeIngestor, ledger *fakeLedger, bus *fakeBus) *Reconciler {
	return NewReconciler(jobs, ing, ledger, bus, quietLogger(), nil)
}

func pendingVideoJob(id, handle string) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:             id,
		UserID:         "user-1",
		Provider:       domain.ProviderWebhookVideo,
		AssetKind:      domain.AssetKindVideo,
		ProviderHandle: handle,
		State:          domain.JobStatePending,
	}
}

func TestReconcileWebhookSuccess(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	ing := &fakeIngestor{}
	ledger := &fakeLedger{}
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, ing, ledger, bus)

	result, err := rec.Reconcile(context.Background(), JobRef{
		Provider: domain.ProviderWebhookVideo,
		Handle:   "abc123",
	}, providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4", DurationSeconds: 12})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected the first signal to apply")
	}

	job := jobs.get("job-1")
	if job.State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", job.State)
	}
	if job.ArtifactKey == "" {
		t.Fatal("expected a durable storage key after ingestion")
	}
	if got := ledger.records(); len(got) != 1 || got[0] != "job-1" {
		t.Fatalf("cost records = %v, want exactly one for job-1", got)
	}
	events := bus.all()
	if len(events) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(events))
	}
	if events[0].Type != notify.EventCompleted || events[0].ArtifactRef != job.ArtifactURL {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestReconcileDuplicateSignalIsNoop(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	ledger := &fakeLedger{}
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{}, ledger, bus)

	ref := JobRef{Provider: domain.ProviderWebhookVideo, Handle: "abc123"}
	outcome := providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4"}

	first, err := rec.Reconcile(context.Background(), ref, outcome)
	if err != nil || !first.Applied {
		t.Fatalf("first signal: applied=%v err=%v", first.Applied, err)
	}
	second, err := rec.Reconcile(context.Background(), ref, outcome)
	if err != nil {
		t.Fatalf("second signal: %v", err)
	}
	if second.Applied {
		t.Fatal("duplicate signal must be a no-op")
	}
	if got := ledger.records(); len(got) != 1 {
		t.Fatalf("cost records = %d, want 1", len(got))
	}
	if got := bus.all(); len(got) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(got))
	}
}

func TestReconcileConcurrentSignalsSingleTransition(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	ledger := &fakeLedger{}
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{}, ledger, bus)

	ref := JobRef{Provider: domain.ProviderWebhookVideo, Handle: "abc123"}
	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = rec.Reconcile(context.Background(), ref, providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4"})
	}()
	go func() {
		defer wg.Done()
		results[1], _ = rec.Reconcile(context.Background(), ref, providers.Outcome{ErrorReason: "render crashed"})
	}()
	wg.Wait()

	applied := 0
	for _, res := range results {
		if res.Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("applied signals = %d, want exactly 1", applied)
	}

	job := jobs.get("job-1")
	if !job.State.Terminal() {
		t.Fatalf("state = %s, want terminal", job.State)
	}
	if got := bus.all(); len(got) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(got))
	}
	if got := ledger.records(); len(got) > 1 {
		t.Fatalf("cost records = %d, want at most 1", len(got))
	}
	if job.State == domain.JobStateCompleted && len(ledger.records()) != 1 {
		t.Fatal("completed job must have exactly one cost record")
	}
}

func TestReconcileIngestFailureKeepsProviderURL(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{err: errBoom}, &fakeLedger{}, bus)

	result, err := rec.Reconcile(context.Background(), JobRef{
		Provider: domain.ProviderWebhookVideo,
		Handle:   "abc123",
	}, providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Applied {
		t.Fatal("ingestion failure must not block completion")
	}

	job := jobs.get("job-1")
	if job.State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", job.State)
	}
	if job.ArtifactURL != "https://provider.example/out.mp4" {
		t.Fatalf("artifact url = %q, want the provider url", job.ArtifactURL)
	}
	if job.ArtifactKey != "" {
		t.Fatalf("artifact key = %q, want empty after failed ingestion", job.ArtifactKey)
	}
	events := bus.all()
	if len(events) != 1 || events[0].ArtifactRef != "https://provider.example/out.mp4" {
		t.Fatalf("expected one broadcast carrying the provider url, got %+v", events)
	}
}

func TestReconcileCostFailureIsAdvisory(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{}, &fakeLedger{computeErr: errBoom}, bus)

	result, err := rec.Reconcile(context.Background(), JobRef{
		Provider: domain.ProviderWebhookVideo,
		Handle:   "abc123",
	}, providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Applied {
		t.Fatal("cost failure must not block completion")
	}
	if jobs.get("job-1").State != domain.JobStateCompleted {
		t.Fatal("job should still complete when pricing is unavailable")
	}
	if len(bus.all()) != 1 {
		t.Fatal("broadcast must fire even when cost recording fails")
	}
}

func TestReconcileFailureUsesContentPolicyMessage(t *testing.T) {
	jobs := newMemJobs()
	jobs.put(pendingVideoJob("job-1", "abc123"))
	ledger := &fakeLedger{}
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{}, ledger, bus)

	result, err := rec.Reconcile(context.Background(), JobRef{
		Provider: domain.ProviderWebhookVideo,
		Handle:   "abc123",
	}, providers.Outcome{ContentPolicy: true})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected the failure signal to apply")
	}

	job := jobs.get("job-1")
	if job.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", job.State)
	}
	if job.ErrorReason != ContentPolicyMessage {
		t.Fatalf("reason = %q, want the content-policy message", job.ErrorReason)
	}
	if len(ledger.records()) != 0 {
		t.Fatal("failed jobs must not record cost")
	}
	events := bus.all()
	if len(events) != 1 || events[0].Type != notify.EventFailed {
		t.Fatalf("expected one failure broadcast, got %+v", events)
	}
}

func TestReconcileUnknownHandleIsNoop(t *testing.T) {
	jobs := newMemJobs()
	bus := &fakeBus{}
	rec := newTestReconciler(jobs, &fakeIngestor{}, &fakeLedger{}, bus)

	result, err := rec.Reconcile(context.Background(), JobRef{
		Provider: domain.ProviderWebhookVideo,
		Handle:   "never-submitted",
	}, providers.Outcome{OK: true, ArtifactURL: "https://provider.example/out.mp4"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Applied {
		t.Fatal("unknown handle must be a no-op, not an error")
	}
	if len(bus.all()) != 0 {
		t.Fatal("no-op must not broadcast")
	}
}
