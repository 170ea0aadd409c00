package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/orchestrator"
	"server/internal/providers"
	"server/internal/providers/webhookvideo"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw body, keyed with
// the shared webhook secret.
const signatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20

// Webhook receives provider completion callbacks. The signature is verified
// before anything else; unauthenticated deliveries are rejected with a
// generic 401 and no state change. Verified deliveries feed the same
// reconciler as polling and manual checks.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	if provider != domain.ProviderWebhookVideo {
		a.error(w, http.StatusNotFound, "not_found", "unknown webhook provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if !VerifySignature(a.Config.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "rejected")
		return
	}

	handle, status, err := webhookvideo.InterpretWebhook(body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed payload")
		return
	}
	if status.Kind == providers.StatusRunning {
		// Progress notifications carry no terminal outcome; acknowledge and
		// wait for the real one.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result, err := a.Orchestrator.Reconciler().Reconcile(r.Context(),
		orchestrator.JobRef{Provider: provider, Handle: handle}, *status.Outcome)
	if err != nil {
		a.Logger.Error().Err(err).Str("handle", handle).Msg("handlers: webhook reconciliation failed")
		a.error(w, http.StatusInternalServerError, "internal", "reconciliation failed")
		return
	}

	a.json(w, http.StatusOK, map[string]any{"applied": result.Applied})
}

// VerifySignature checks the webhook HMAC in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignPayload produces the signature a provider would attach. Exported for
// tests and local tooling.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
