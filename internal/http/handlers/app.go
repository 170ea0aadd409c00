package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/notify"
	"server/internal/orchestrator"
)

// App is the handler container; all HTTP surfaces hang off it.
type App struct {
	Config       *infra.Config
	Logger       infra.Logger
	Orchestrator *orchestrator.Orchestrator
	Hub          *notify.Hub
	Jobs         domain.JobRepository
	Costs        domain.CostRepository
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
