package handlers

import (
	"net/http"
	"time"
)

// CostAnalytics aggregates recorded spend over a date window, grouped by
// provider, asset kind, and user.
func (a *App) CostAnalytics(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = parseDate(v); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid start date")
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = parseDate(v); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid end date")
			return
		}
	}
	if !end.After(start) {
		a.error(w, http.StatusBadRequest, "bad_request", "end must be after start")
		return
	}

	aggregates, err := a.Costs.Aggregate(r.Context(), start, end)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: cost aggregation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to aggregate costs")
		return
	}

	items := make([]map[string]any, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, map[string]any{
			"provider":   agg.Provider,
			"asset_kind": agg.AssetKind,
			"user_id":    agg.UserID,
			"job_count":  agg.JobCount,
			"total":      agg.Total.String(),
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"items": items,
	})
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
