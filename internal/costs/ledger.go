package costs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// Ledger computes and records generation spend. Records are immutable; the
// reconciler's terminal-transition guard guarantees Record runs at most once
// per job, so no internal double-record guard exists.
type Ledger struct {
	table PricingTable
	repo  domain.CostRepository
}

// NewLedger constructs a Ledger over the given pricing table and repository.
func NewLedger(table PricingTable, repo domain.CostRepository) *Ledger {
	return &Ledger{table: table, repo: repo}
}

// Compute produces a cost breakdown for the job without persisting anything.
func (l *Ledger) Compute(job *domain.GenerationJob, usage Usage) (*domain.CostBreakdown, error) {
	quality, _ := job.Variables["quality"].(string)
	return l.table.Compute(job.Provider, job.AssetKind, quality, usage)
}

// Record persists one immutable cost record for the job and returns its ID.
func (l *Ledger) Record(ctx context.Context, jobID string, breakdown *domain.CostBreakdown) (string, error) {
	record := &domain.CostRecord{
		ID:                uuid.NewString(),
		JobID:             jobID,
		Base:              breakdown.Base,
		Processing:        breakdown.Processing,
		Storage:           breakdown.Storage,
		Total:             breakdown.Total,
		ProcessingSeconds: breakdown.ProcessingSeconds,
		CreatedAt:         time.Now().UTC(),
	}
	if breakdown.Tokens > 0 {
		tokens := breakdown.Tokens
		record.Tokens = &tokens
	}
	if err := l.repo.Insert(ctx, record); err != nil {
		return "", fmt.Errorf("record cost: %w", err)
	}
	return record.ID, nil
}
