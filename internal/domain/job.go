package domain

import (
	"encoding/json"
	"time"
)

// Provider enumerates the external generation services and, implicitly, how
// each one signals completion.
type Provider string

const (
	// ProviderSyncTextImage answers the submit call with the finished asset.
	ProviderSyncTextImage Provider = "sync-text-image"
	// ProviderWebhookVideo delivers completion to our callback endpoint.
	ProviderWebhookVideo Provider = "async-webhook-video"
	// ProviderPollImage must be polled for completion.
	ProviderPollImage Provider = "async-poll-image"
)

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderSyncTextImage, ProviderWebhookVideo, ProviderPollImage:
		return true
	}
	return false
}

// AssetKind enumerates the kinds of asset a job can produce.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
	AssetKindText  AssetKind = "text"
)

// JobState enumerates generation lifecycle states.
type JobState string

const (
	JobStateInitiated JobState = "initiated"
	JobStateSubmitted JobState = "submitted"
	JobStatePending   JobState = "pending"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further reconciliation.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// ReviewState is the user's post-completion verdict on a generated asset. It
// is orthogonal to the generation outcome and only reachable from
// JobStateCompleted.
type ReviewState string

const (
	ReviewNone     ReviewState = ""
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
)

// GenerationJob is one request to produce one asset from one provider.
type GenerationJob struct {
	ID        string
	UserID    string
	Provider  Provider
	AssetKind AssetKind

	// Instruction is the user's prompt text; Variables carries
	// provider-specific inputs verbatim.
	Instruction string
	Variables   map[string]any

	// ProviderHandle correlates webhook and poll signals back to this job.
	// Empty for synchronous providers. Unique among non-terminal jobs per
	// provider.
	ProviderHandle string

	State  JobState
	Review ReviewState

	Title       string
	Description string

	// Set only on completion. ProviderMetadata is the provider's response
	// blob preserved verbatim for audit.
	ArtifactURL      string
	ArtifactKey      string
	ProviderMetadata json.RawMessage
	CostRecordID     string

	ErrorReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanReview reports whether the given review verdict may be applied to the
// job in its current state.
func (j *GenerationJob) CanReview(v ReviewState) bool {
	if v != ReviewApproved && v != ReviewRejected {
		return false
	}
	return j.State == JobStateCompleted
}
