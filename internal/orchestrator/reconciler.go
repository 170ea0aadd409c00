package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"server/internal/costs"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/notify"
	"server/internal/providers"
)

// ContentPolicyMessage is the user-facing reason for content rejections. It
// is deliberately more specific than the generic failure message so users
// understand the asset was rejected, not merely delayed.
const ContentPolicyMessage = "the provider rejected this content as violating its content policy"

// GenericFailureMessage covers provider failures with no usable detail.
const GenericFailureMessage = "generation failed at the provider"

// JobRef identifies the job a completion signal belongs to: by provider
// handle for out-of-band signals, by job ID for inline (synchronous) ones.
type JobRef struct {
	Provider domain.Provider
	Handle   string
	JobID    string
}

// Result reports what a reconciliation did. Applied is false for the
// expected no-op case: the job is unknown or already terminal, which happens
// whenever webhook and poll signaling race or a webhook is delivered twice.
type Result struct {
	Applied bool
	Job     *domain.GenerationJob
}

// ArtifactIngestor re-hosts provider output into durable storage.
type ArtifactIngestor interface {
	Ingest(ctx context.Context, sourceURL string, kind domain.AssetKind, jobID string) (*ingest.DurableRef, error)
}

// CostRecorder computes and persists generation spend.
type CostRecorder interface {
	Compute(job *domain.GenerationJob, usage costs.Usage) (*domain.CostBreakdown, error)
	Record(ctx context.Context, jobID string, breakdown *domain.CostBreakdown) (string, error)
}

// Broadcaster fans an event out to a user's live connections.
type Broadcaster interface {
	Broadcast(userID string, event notify.Event) int
}

// Reconciler is the state-transition authority for generation jobs. All
// completion signals, regardless of delivery mechanism, funnel through
// Reconcile, which applies at most one terminal transition per job.
type Reconciler struct {
	jobs     domain.JobRepository
	ingestor ArtifactIngestor
	ledger   CostRecorder
	bus      Broadcaster
	logger   infra.Logger
	metrics  *infra.Metrics
}

// NewReconciler wires the reconciler's collaborators. metrics may be nil.
func NewReconciler(jobs domain.JobRepository, ingestor ArtifactIngestor, ledger CostRecorder, bus Broadcaster, logger infra.Logger, metrics *infra.Metrics) *Reconciler {
	return &Reconciler{
		jobs:     jobs,
		ingestor: ingestor,
		ledger:   ledger,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
	}
}

// Reconcile applies one completion signal. Duplicate or late signals return
// Result{Applied: false} with no error and no state change; that is the
// idempotency guard, not a failure. Ingestion and cost recording are
// advisory: their failure never prevents the terminal transition or the
// broadcast.
func (r *Reconciler) Reconcile(ctx context.Context, ref JobRef, outcome providers.Outcome) (Result, error) {
	job, err := r.lookup(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.noop(ref), nil
		}
		return Result{}, fmt.Errorf("reconcile lookup: %w", err)
	}

	if outcome.OK {
		return r.complete(ctx, job, outcome)
	}
	return r.fail(ctx, job, outcome)
}

func (r *Reconciler) lookup(ctx context.Context, ref JobRef) (*domain.GenerationJob, error) {
	if ref.Handle != "" {
		return r.jobs.FindActiveByHandle(ctx, ref.Provider, ref.Handle)
	}
	job, err := r.jobs.GetByID(ctx, ref.JobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (r *Reconciler) complete(ctx context.Context, job *domain.GenerationJob, outcome providers.Outcome) (Result, error) {
	// Conditional transition: the store only applies this while the job is
	// still non-terminal, so a racing signal loses cleanly. The provider URL
	// goes in first as the provisional artifact reference.
	updated, err := r.jobs.CompleteIfActive(ctx, job.ID, outcome.ArtifactURL, outcome.Metadata)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.noop(JobRef{Provider: job.Provider, Handle: job.ProviderHandle, JobID: job.ID}), nil
		}
		return Result{}, fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	artifactRef := outcome.ArtifactURL
	if ref, err := r.ingestor.Ingest(ctx, outcome.ArtifactURL, updated.AssetKind, updated.ID); err != nil {
		// Degrade, don't fail: the user keeps the provider URL even if
		// re-hosting hiccuped.
		r.logger.Warn().Err(err).Str("job_id", updated.ID).Msg("reconcile: ingestion failed, keeping provider url")
		if r.metrics != nil {
			r.metrics.IngestFallbacks.Inc()
		}
	} else {
		artifactRef = ref.URL
		if err := r.jobs.SetArtifact(ctx, updated.ID, ref.URL, ref.StorageKey); err != nil {
			r.logger.Warn().Err(err).Str("job_id", updated.ID).Msg("reconcile: persist durable artifact ref failed")
			artifactRef = outcome.ArtifactURL
		} else {
			updated.ArtifactURL = ref.URL
			updated.ArtifactKey = ref.StorageKey
		}
	}

	r.recordCost(ctx, updated, outcome)

	r.bus.Broadcast(updated.UserID, notify.Event{
		Type:          notify.EventCompleted,
		JobID:         updated.ID,
		TerminalState: string(domain.JobStateCompleted),
		ArtifactRef:   artifactRef,
	})
	if r.metrics != nil {
		r.metrics.JobsCompleted.WithLabelValues(string(updated.Provider)).Inc()
	}
	r.logger.Info().Str("job_id", updated.ID).Str("provider", string(updated.Provider)).Msg("reconcile: job completed")
	return Result{Applied: true, Job: updated}, nil
}

func (r *Reconciler) fail(ctx context.Context, job *domain.GenerationJob, outcome providers.Outcome) (Result, error) {
	reason := FailureReason(outcome)
	updated, err := r.jobs.FailIfActive(ctx, job.ID, reason)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.noop(JobRef{Provider: job.Provider, Handle: job.ProviderHandle, JobID: job.ID}), nil
		}
		return Result{}, fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	r.bus.Broadcast(updated.UserID, notify.Event{
		Type:          notify.EventFailed,
		JobID:         updated.ID,
		TerminalState: string(domain.JobStateFailed),
		ErrorReason:   reason,
	})
	if r.metrics != nil {
		r.metrics.JobsFailed.WithLabelValues(string(updated.Provider)).Inc()
	}
	r.logger.Info().Str("job_id", updated.ID).Str("reason", reason).Msg("reconcile: job failed")
	return Result{Applied: true, Job: updated}, nil
}

// recordCost is advisory: a missing pricing entry or insert failure is
// logged and absorbed.
func (r *Reconciler) recordCost(ctx context.Context, job *domain.GenerationJob, outcome providers.Outcome) {
	usage := costs.Usage{
		DurationSeconds:   outcome.DurationSeconds,
		Tokens:            outcome.Tokens,
		ProcessingSeconds: outcome.ProcessingSeconds,
		SizeBytes:         outcome.SizeBytes,
	}
	breakdown, err := r.ledger.Compute(job, usage)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: cost computation skipped")
		return
	}
	recordID, err := r.ledger.Record(ctx, job.ID, breakdown)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: cost record failed")
		return
	}
	job.CostRecordID = recordID
}

// noop registers the expected duplicate-signal outcome. Logged at debug
// only: dual signaling paths make this routine, and it must never page.
func (r *Reconciler) noop(ref JobRef) Result {
	if r.metrics != nil {
		r.metrics.ReconcileNoops.Inc()
	}
	r.logger.Debug().
		Str("provider", string(ref.Provider)).
		Str("handle", ref.Handle).
		Str("job_id", ref.JobID).
		Msg("reconcile: job unknown or already terminal, ignoring signal")
	return Result{Applied: false}
}

// FailureReason picks the user-facing message for a failed outcome.
// Content-policy rejections get a distinct message.
func FailureReason(outcome providers.Outcome) string {
	if outcome.ContentPolicy {
		return ContentPolicyMessage
	}
	if outcome.ErrorReason != "" {
		return outcome.ErrorReason
	}
	return GenericFailureMessage
}
