package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/orchestrator"
	"server/internal/providers"
)

type generateRequest struct {
	Provider    string         `json:"provider"`
	AssetKind   string         `json:"asset_kind"`
	Instruction string         `json:"instruction"`
	Variables   map[string]any `json:"variables"`
}

type generateResponse struct {
	JobID          string `json:"job_id"`
	ProviderHandle string `json:"provider_handle,omitempty"`
	Status         string `json:"status"`
}

// GenerationsCreate starts a generation job. Synchronous providers come back
// terminal; asynchronous ones come back pending and finish over the live
// channel.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	provider := domain.Provider(req.Provider)
	if !domain.KnownProvider(provider) {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}
	kind := domain.AssetKind(req.AssetKind)
	if kind != domain.AssetKindImage && kind != domain.AssetKindVideo && kind != domain.AssetKindText {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported asset kind")
		return
	}
	if req.Instruction == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "instruction required")
		return
	}

	result, err := a.Orchestrator.StartJob(r.Context(), orchestrator.StartRequest{
		UserID:      userID,
		Provider:    provider,
		AssetKind:   kind,
		Instruction: req.Instruction,
		Variables:   req.Variables,
	})
	if err != nil {
		locale := middleware.LocaleFromContext(r.Context())
		switch {
		case errors.Is(err, providers.ErrContentPolicy):
			a.error(w, http.StatusUnprocessableEntity, "content_policy", localizeReason(locale, orchestrator.ContentPolicyMessage))
		case errors.Is(err, providers.ErrRejected):
			a.error(w, http.StatusBadRequest, "provider_rejected", "the provider rejected this request")
		case errors.Is(err, providers.ErrUnavailable):
			a.error(w, http.StatusBadGateway, "provider_unavailable", "the provider is temporarily unavailable")
		case errors.Is(err, domain.ErrUnsupportedProvider):
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		default:
			a.Logger.Error().Err(err).Msg("handlers: start generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		}
		return
	}

	code := http.StatusAccepted
	if result.Status.Terminal() {
		code = http.StatusOK
	}
	a.json(w, code, generateResponse{
		JobID:          result.JobID,
		ProviderHandle: result.ProviderHandle,
		Status:         string(result.Status),
	})
}

// GenerationGet returns the job's current state without contacting the
// provider.
func (a *App) GenerationGet(w http.ResponseWriter, r *http.Request) {
	job := a.loadOwnedJob(w, r)
	if job == nil {
		return
	}
	a.renderJob(w, r, job)
}

// GenerationCheck asks the provider for the job's status and reconciles any
// terminal answer, exactly as the poll loop would.
func (a *App) GenerationCheck(w http.ResponseWriter, r *http.Request) {
	job := a.loadOwnedJob(w, r)
	if job == nil {
		return
	}
	checked, err := a.Orchestrator.CheckStatus(r.Context(), job.ID)
	if err != nil {
		if errors.Is(err, providers.ErrUnavailable) {
			a.error(w, http.StatusBadGateway, "provider_unavailable", "the provider is temporarily unavailable")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: manual status check failed")
		a.error(w, http.StatusInternalServerError, "internal", "status check failed")
		return
	}
	a.renderJob(w, r, checked)
}

type reviewRequest struct {
	Action string `json:"action"`
}

// GenerationReview applies the user's approve/reject verdict to a completed
// job.
func (a *App) GenerationReview(w http.ResponseWriter, r *http.Request) {
	job := a.loadOwnedJob(w, r)
	if job == nil {
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	review := domain.ReviewState(req.Action)
	if !job.CanReview(review) {
		a.error(w, http.StatusConflict, "invalid_review", "only completed jobs can be approved or rejected")
		return
	}
	if err := a.Jobs.SetReview(r.Context(), job.ID, review); err != nil {
		if errors.Is(err, domain.ErrInvalidReview) {
			a.error(w, http.StatusConflict, "invalid_review", "only completed jobs can be approved or rejected")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: review update failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to update review")
		return
	}
	job.Review = review
	a.renderJob(w, r, job)
}

type detailsRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerationUpdateDetails lets the owner edit the job's title and description.
func (a *App) GenerationUpdateDetails(w http.ResponseWriter, r *http.Request) {
	job := a.loadOwnedJob(w, r)
	if job == nil {
		return
	}
	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Jobs.UpdateDetails(r.Context(), job.ID, req.Title, req.Description); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: details update failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to update details")
		return
	}
	job.Title = req.Title
	job.Description = req.Description
	a.renderJob(w, r, job)
}

// loadOwnedJob resolves {job_id} and enforces ownership. It writes the error
// response itself and returns nil when the caller should stop.
func (a *App) loadOwnedJob(w http.ResponseWriter, r *http.Request) *domain.GenerationJob {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil
	}
	return job
}

func (a *App) renderJob(w http.ResponseWriter, r *http.Request, job *domain.GenerationJob) {
	locale := middleware.LocaleFromContext(r.Context())
	payload := map[string]any{
		"id":              job.ID,
		"user_id":         job.UserID,
		"provider":        job.Provider,
		"asset_kind":      job.AssetKind,
		"state":           job.State,
		"provider_handle": job.ProviderHandle,
		"title":           job.Title,
		"description":     job.Description,
		"created_at":      job.CreatedAt,
		"updated_at":      job.UpdatedAt,
	}
	if job.Review != domain.ReviewNone {
		payload["review"] = job.Review
	}
	if job.State == domain.JobStateCompleted {
		payload["artifact_url"] = job.ArtifactURL
		if job.ArtifactKey != "" {
			payload["artifact_key"] = job.ArtifactKey
		}
		if job.CostRecordID != "" {
			payload["cost_record_id"] = job.CostRecordID
		}
		if len(job.ProviderMetadata) > 0 {
			payload["provider_metadata"] = json.RawMessage(job.ProviderMetadata)
		}
	}
	if job.State == domain.JobStateFailed {
		payload["error_reason"] = localizeReason(locale, job.ErrorReason)
	}
	a.json(w, http.StatusOK, payload)
}
