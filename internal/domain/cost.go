package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostBreakdown itemizes the computed cost of one completed generation.
type CostBreakdown struct {
	Base       decimal.Decimal
	Processing decimal.Decimal
	Storage    decimal.Decimal
	Total      decimal.Decimal

	ProcessingSeconds float64
	DurationSeconds   float64
	Tokens            int

	// EstimatedDuration marks the duration as inferred (size/bitrate
	// heuristic) rather than provider-reported. Placeholder pricing, not a
	// billing-grade measurement.
	EstimatedDuration bool
}

// CostRecord is the immutable persisted form of a CostBreakdown. At most one
// exists per job and it is never updated after creation.
type CostRecord struct {
	ID    string
	JobID string

	Base       decimal.Decimal
	Processing decimal.Decimal
	Storage    decimal.Decimal
	Total      decimal.Decimal

	ProcessingSeconds float64
	Tokens            *int

	CreatedAt time.Time
}

// CostAggregate is one row of the cost analytics report.
type CostAggregate struct {
	Provider  Provider
	AssetKind AssetKind
	UserID    string
	JobCount  int
	Total     decimal.Decimal
}
