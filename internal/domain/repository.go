package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for generation jobs. The store is the
// single source of truth for job state; CompleteIfActive and FailIfActive are
// the only terminal transitions and must be conditional updates, not
// read-then-write.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)

	// MarkSubmitted records the provider handle and moves initiated -> submitted.
	MarkSubmitted(ctx context.Context, jobID, handle string) error
	// MarkPending moves submitted -> pending.
	MarkPending(ctx context.Context, jobID string) error
	// FailSubmission terminates a job that never reached the provider.
	FailSubmission(ctx context.Context, jobID, reason string) error

	// FindActiveByHandle resolves a completion signal's correlation key to a
	// non-terminal job. Returns ErrNotFound when no such job exists, which
	// callers treat as an expected duplicate-signal no-op.
	FindActiveByHandle(ctx context.Context, provider Provider, handle string) (*GenerationJob, error)

	// CompleteIfActive transitions to completed only if the job is still
	// submitted or pending, storing the provider's artifact URL and metadata
	// blob. Returns ErrNotFound when the job lost the race to another
	// terminal transition.
	CompleteIfActive(ctx context.Context, jobID, artifactURL string, metadata []byte) (*GenerationJob, error)
	// FailIfActive is the failure counterpart of CompleteIfActive.
	FailIfActive(ctx context.Context, jobID, reason string) (*GenerationJob, error)

	// SetArtifact swaps in the durable artifact reference after ingestion.
	SetArtifact(ctx context.Context, jobID, url, key string) error

	ListPendingByProvider(ctx context.Context, provider Provider) ([]GenerationJob, error)

	SetReview(ctx context.Context, jobID string, review ReviewState) error
	UpdateDetails(ctx context.Context, jobID, title, description string) error
}

// CostRepository persists immutable cost records and serves the analytics
// aggregation.
type CostRepository interface {
	// Insert stores the record and stamps the owning job's cost reference.
	Insert(ctx context.Context, record *CostRecord) error
	Aggregate(ctx context.Context, start, end time.Time) ([]CostAggregate, error)
}
