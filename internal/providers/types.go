package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"server/internal/domain"
)

// Submission-time failures, surfaced distinctly so callers can decide between
// rejecting the request, retrying later, or reporting a content violation.
var (
	// ErrRejected marks a non-retryable provider rejection (bad input).
	ErrRejected = errors.New("provider rejected request")
	// ErrUnavailable marks a retryable provider outage or timeout.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrContentPolicy marks a terminal content-policy rejection.
	ErrContentPolicy = errors.New("provider content policy violation")
	// ErrStatusUnsupported is returned by providers that complete inline and
	// therefore have nothing to poll.
	ErrStatusUnsupported = errors.New("provider does not support status checks")
)

// SubmitRequest is the normalized submission passed to any provider adapter.
type SubmitRequest struct {
	JobID       string
	UserID      string
	AssetKind   domain.AssetKind
	Instruction string
	Variables   map[string]any

	// CallbackURL is embedded in the submission payload by webhook-driven
	// adapters and ignored by the others.
	CallbackURL string
}

// Outcome is a normalized completion signal. Metadata preserves the
// provider's response blob verbatim for audit; only the fields the
// reconciler consumes are lifted out.
type Outcome struct {
	OK          bool
	ArtifactURL string
	Metadata    json.RawMessage
	ErrorReason string

	// Usage, when the provider reports it. Zero values mean "not reported".
	DurationSeconds   float64
	Tokens            int
	ProcessingSeconds float64
	SizeBytes         int64

	// ContentPolicy marks a failure as a content rejection so the
	// user-facing message can say so.
	ContentPolicy bool
}

// Submission is the result of handing a job to a provider. Synchronous
// providers return the finished Outcome inline; asynchronous ones return
// only the correlation handle.
type Submission struct {
	Handle    string
	Immediate *Outcome
}

// StatusKind classifies a provider status-check response.
type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusSucceeded
	StatusFailed
)

// Status is the result of asking a provider whether a task finished.
// Outcome is set for the terminal kinds.
type Status struct {
	Kind    StatusKind
	Outcome *Outcome
}

// Adapter normalizes "submit" and "interpret completion signal" across
// providers with different completion mechanics.
type Adapter interface {
	Name() domain.Provider
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	CheckStatus(ctx context.Context, handle string) (*Status, error)
}

// Registry maps provider names to their adapters.
type Registry map[domain.Provider]Adapter

// Lookup resolves an adapter or fails with domain.ErrUnsupportedProvider.
func (r Registry) Lookup(name domain.Provider) (Adapter, error) {
	adapter, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, name)
	}
	return adapter, nil
}

// ClassifyHTTPStatus maps a provider HTTP status code onto the submission
// error taxonomy. Content-policy detection is provider-specific and handled
// by each adapter before falling back to this.
func ClassifyHTTPStatus(statusCode int, detail string) error {
	switch {
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, statusCode, detail)
	case statusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, statusCode, detail)
	default:
		return nil
	}
}
