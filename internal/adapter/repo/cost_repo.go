package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// CostRepositoryPG implements domain.CostRepository.
type CostRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCostRepository creates a new cost repository backed by PostgreSQL.
func NewCostRepository(pool *pgxpool.Pool) *CostRepositoryPG {
	return &CostRepositoryPG{pool: pool}
}

// Insert stores the immutable cost record and stamps the owning job's cost
// reference in the same transaction. Records are never updated; a second
// insert for the same job fails on the unique constraint.
func (r *CostRepositoryPG) Insert(ctx context.Context, record *domain.CostRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
INSERT INTO cost_records (id, job_id, base_cost, processing_cost, storage_cost, total_cost, processing_seconds, token_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	if _, err := tx.Exec(ctx, insert,
		record.ID,
		record.JobID,
		record.Base,
		record.Processing,
		record.Storage,
		record.Total,
		record.ProcessingSeconds,
		record.Tokens,
	); err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}

	stamp := `UPDATE generation_jobs SET cost_record_id = $2, updated_at = NOW() WHERE id = $1;`
	if _, err := tx.Exec(ctx, stamp, record.JobID, record.ID); err != nil {
		return fmt.Errorf("stamp job cost reference: %w", err)
	}

	return tx.Commit(ctx)
}

// Aggregate sums recorded spend over the window, grouped by provider, asset
// kind, and user.
func (r *CostRepositoryPG) Aggregate(ctx context.Context, start, end time.Time) ([]domain.CostAggregate, error) {
	query := `
SELECT j.provider, j.asset_kind, j.user_id, COUNT(*), COALESCE(SUM(c.total_cost), 0)
FROM cost_records c
JOIN generation_jobs j ON j.id = c.job_id
WHERE c.created_at >= $1 AND c.created_at < $2
GROUP BY j.provider, j.asset_kind, j.user_id
ORDER BY SUM(c.total_cost) DESC;
`
	rows, err := r.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []domain.CostAggregate
	for rows.Next() {
		var agg domain.CostAggregate
		if err := rows.Scan(&agg.Provider, &agg.AssetKind, &agg.UserID, &agg.JobCount, &agg.Total); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

var _ domain.CostRepository = (*CostRepositoryPG)(nil)
