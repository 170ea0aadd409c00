package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const jobFields = `
id, user_id, provider, asset_kind, instruction, variables, provider_handle,
state, review, title, description, artifact_url, artifact_key,
provider_metadata, cost_record_id, error_reason, created_at, updated_at`

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in the initiated state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (id, user_id, provider, asset_kind, instruction, variables, state)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	variables := job.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Provider,
		job.AssetKind,
		job.Instruction,
		variables,
		domain.JobStateInitiated,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobFields + ` FROM generation_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// MarkSubmitted records the provider handle and moves initiated -> submitted.
func (r *JobRepositoryPG) MarkSubmitted(ctx context.Context, jobID, handle string) error {
	query := `
UPDATE generation_jobs
SET state = $2, provider_handle = $3, updated_at = NOW()
WHERE id = $1 AND state = $4;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStateSubmitted, handle, domain.JobStateInitiated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkPending moves submitted -> pending.
func (r *JobRepositoryPG) MarkPending(ctx context.Context, jobID string) error {
	query := `
UPDATE generation_jobs
SET state = $2, updated_at = NOW()
WHERE id = $1 AND state = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatePending, domain.JobStateSubmitted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FailSubmission terminates a job whose submission never reached the provider.
func (r *JobRepositoryPG) FailSubmission(ctx context.Context, jobID, reason string) error {
	query := `
UPDATE generation_jobs
SET state = $2, error_reason = $3, updated_at = NOW()
WHERE id = $1 AND state = $4;
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStateFailed, reason, domain.JobStateInitiated)
	return err
}

// FindActiveByHandle resolves a completion signal's correlation key to a
// non-terminal job.
func (r *JobRepositoryPG) FindActiveByHandle(ctx context.Context, provider domain.Provider, handle string) (*domain.GenerationJob, error) {
	query := `
SELECT ` + jobFields + `
FROM generation_jobs
WHERE provider = $1
  AND provider_handle = $2
  AND state NOT IN ($3, $4);
`
	return scanJob(r.pool.QueryRow(ctx, query, provider, handle, domain.JobStateCompleted, domain.JobStateFailed))
}

// CompleteIfActive applies the terminal completed transition only while the
// job is still submitted or pending. The WHERE clause is the concurrency
// guard: racing reconciliations resolve in the database, not in Go.
func (r *JobRepositoryPG) CompleteIfActive(ctx context.Context, jobID, artifactURL string, metadata []byte) (*domain.GenerationJob, error) {
	query := `
UPDATE generation_jobs
SET state = $2,
    artifact_url = $3,
    provider_metadata = $4,
    updated_at = NOW()
WHERE id = $1 AND state IN ($5, $6)
RETURNING ` + jobFields + `;`
	return scanJob(r.pool.QueryRow(ctx, query,
		jobID,
		domain.JobStateCompleted,
		artifactURL,
		nullableBytes(metadata),
		domain.JobStateSubmitted,
		domain.JobStatePending,
	))
}

// FailIfActive is the failure counterpart of CompleteIfActive.
func (r *JobRepositoryPG) FailIfActive(ctx context.Context, jobID, reason string) (*domain.GenerationJob, error) {
	query := `
UPDATE generation_jobs
SET state = $2,
    error_reason = $3,
    updated_at = NOW()
WHERE id = $1 AND state IN ($4, $5)
RETURNING ` + jobFields + `;`
	return scanJob(r.pool.QueryRow(ctx, query,
		jobID,
		domain.JobStateFailed,
		reason,
		domain.JobStateSubmitted,
		domain.JobStatePending,
	))
}

// SetArtifact swaps in the durable artifact reference after ingestion.
func (r *JobRepositoryPG) SetArtifact(ctx context.Context, jobID, url, key string) error {
	query := `
UPDATE generation_jobs
SET artifact_url = $2, artifact_key = $3, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, url, key)
	return err
}

// ListPendingByProvider returns pending jobs for the provider, oldest first.
func (r *JobRepositoryPG) ListPendingByProvider(ctx context.Context, provider domain.Provider) ([]domain.GenerationJob, error) {
	query := `
SELECT ` + jobFields + `
FROM generation_jobs
WHERE provider = $1 AND state = $2
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, provider, domain.JobStatePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SetReview stores the user's approve/reject verdict; only completed jobs
// are reviewable.
func (r *JobRepositoryPG) SetReview(ctx context.Context, jobID string, review domain.ReviewState) error {
	query := `
UPDATE generation_jobs
SET review = $2, updated_at = NOW()
WHERE id = $1 AND state = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, review, domain.JobStateCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidReview
	}
	return nil
}

// UpdateDetails edits the user-owned title and description.
func (r *JobRepositoryPG) UpdateDetails(ctx context.Context, jobID, title, description string) error {
	query := `
UPDATE generation_jobs
SET title = $2, description = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, jobID, title, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var costRecordID *string
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Provider,
		&job.AssetKind,
		&job.Instruction,
		&job.Variables,
		&job.ProviderHandle,
		&job.State,
		&job.Review,
		&job.Title,
		&job.Description,
		&job.ArtifactURL,
		&job.ArtifactKey,
		&job.ProviderMetadata,
		&costRecordID,
		&job.ErrorReason,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if costRecordID != nil {
		job.CostRecordID = *costRecordID
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
