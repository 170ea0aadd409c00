package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers"
)

// StartRequest describes one generation job to start.
type StartRequest struct {
	UserID      string
	Provider    domain.Provider
	AssetKind   domain.AssetKind
	Instruction string
	Variables   map[string]any
}

// StartResult is returned to the caller after submission.
type StartResult struct {
	JobID          string
	ProviderHandle string
	Status         domain.JobState
}

// Orchestrator owns the generation-job lifecycle: it submits jobs to provider
// adapters, persists their state, spawns poll loops for poll-driven
// providers, and routes every completion signal through the reconciler.
type Orchestrator struct {
	ctx             context.Context
	jobs            domain.JobRepository
	adapters        providers.Registry
	reconciler      *Reconciler
	poller          *Poller
	callbackBaseURL string
	logger          infra.Logger
	metrics         *infra.Metrics
}

// NewOrchestrator wires the orchestrator. ctx bounds the lifetime of
// background poll loops; metrics may be nil.
func NewOrchestrator(ctx context.Context, jobs domain.JobRepository, adapters providers.Registry, reconciler *Reconciler, poller *Poller, callbackBaseURL string, logger infra.Logger, metrics *infra.Metrics) *Orchestrator {
	return &Orchestrator{
		ctx:             ctx,
		jobs:            jobs,
		adapters:        adapters,
		reconciler:      reconciler,
		poller:          poller,
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
		logger:          logger,
		metrics:         metrics,
	}
}

// Reconciler exposes the shared reconciliation path for the webhook receiver.
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

// StartJob creates a job record, submits it to the provider, and leaves it
// either terminal (synchronous providers, or submission failure) or pending.
// Submission errors surface to the caller and never leave a pending job
// behind.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (*StartResult, error) {
	adapter, err := o.adapters.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}

	job := &domain.GenerationJob{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Provider:    req.Provider,
		AssetKind:   req.AssetKind,
		Instruction: req.Instruction,
		Variables:   req.Variables,
		State:       domain.JobStateInitiated,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	submission, err := adapter.Submit(ctx, providers.SubmitRequest{
		JobID:       job.ID,
		UserID:      job.UserID,
		AssetKind:   job.AssetKind,
		Instruction: job.Instruction,
		Variables:   job.Variables,
		CallbackURL: o.callbackURL(req.Provider),
	})
	if err != nil {
		if failErr := o.jobs.FailSubmission(ctx, job.ID, submissionReason(err)); failErr != nil {
			o.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("orchestrator: mark submission failure")
		}
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.JobsSubmitted.WithLabelValues(string(req.Provider)).Inc()
	}

	if submission.Immediate != nil {
		// Synchronous provider: record submitted -> completed atomically from
		// the caller's point of view so ingestion and cost stay uniform.
		if err := o.jobs.MarkSubmitted(ctx, job.ID, submission.Handle); err != nil {
			return nil, fmt.Errorf("mark submitted: %w", err)
		}
		result, err := o.reconciler.Reconcile(ctx, JobRef{Provider: req.Provider, JobID: job.ID}, *submission.Immediate)
		if err != nil {
			return nil, err
		}
		status := domain.JobStateCompleted
		if result.Job != nil {
			status = result.Job.State
		}
		return &StartResult{JobID: job.ID, Status: status}, nil
	}

	if err := o.jobs.MarkSubmitted(ctx, job.ID, submission.Handle); err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if err := o.jobs.MarkPending(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}

	if req.Provider == domain.ProviderPollImage {
		o.spawnPoll(adapter, JobRef{Provider: req.Provider, Handle: submission.Handle, JobID: job.ID})
	}

	return &StartResult{
		JobID:          job.ID,
		ProviderHandle: submission.Handle,
		Status:         domain.JobStatePending,
	}, nil
}

// CheckStatus is the user-triggered fallback when a webhook never arrives.
// It asks the provider directly and feeds any terminal answer through the
// same reconciler as the webhook and poll paths, so idempotency behavior is
// identical regardless of trigger source.
func (o *Orchestrator) CheckStatus(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() || job.ProviderHandle == "" {
		return job, nil
	}

	adapter, err := o.adapters.Lookup(job.Provider)
	if err != nil {
		return nil, err
	}
	status, err := adapter.CheckStatus(ctx, job.ProviderHandle)
	if err != nil {
		if errors.Is(err, providers.ErrStatusUnsupported) {
			return job, nil
		}
		return nil, fmt.Errorf("status check: %w", err)
	}
	if status.Kind == providers.StatusRunning {
		return job, nil
	}

	result, err := o.reconciler.Reconcile(ctx, JobRef{Provider: job.Provider, Handle: job.ProviderHandle}, *status.Outcome)
	if err != nil {
		return nil, err
	}
	if result.Job != nil {
		return result.Job, nil
	}
	// Lost the race to another signal; re-read the settled state.
	return o.jobs.GetByID(ctx, jobID)
}

// Resume re-attaches poll loops for poll-driven jobs left pending, e.g.
// after a restart dropped their in-process loops.
func (o *Orchestrator) Resume(ctx context.Context) error {
	adapter, err := o.adapters.Lookup(domain.ProviderPollImage)
	if err != nil {
		return err
	}
	jobs, err := o.jobs.ListPendingByProvider(ctx, domain.ProviderPollImage)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range jobs {
		if job.ProviderHandle == "" {
			continue
		}
		o.spawnPoll(adapter, JobRef{Provider: job.Provider, Handle: job.ProviderHandle, JobID: job.ID})
	}
	if len(jobs) > 0 {
		o.logger.Info().Int("count", len(jobs)).Msg("orchestrator: resumed poll loops")
	}
	return nil
}

func (o *Orchestrator) spawnPoll(adapter providers.Adapter, ref JobRef) {
	go func() {
		if _, err := o.poller.PollUntilDone(o.ctx, adapter, ref); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error().Err(err).Str("job_id", ref.JobID).Msg("orchestrator: poll loop failed")
		}
	}()
}

func (o *Orchestrator) callbackURL(provider domain.Provider) string {
	if provider != domain.ProviderWebhookVideo || o.callbackBaseURL == "" {
		return ""
	}
	return o.callbackBaseURL + "/v1/webhooks/" + string(provider)
}

// submissionReason derives the stored failure reason from a submit error.
func submissionReason(err error) string {
	switch {
	case errors.Is(err, providers.ErrContentPolicy):
		return ContentPolicyMessage
	case errors.Is(err, providers.ErrUnavailable):
		return "the provider is temporarily unavailable"
	default:
		return err.Error()
	}
}
