package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Events is the long-lived live-update stream: one SSE connection per
// browser tab, registered on the hub for the authenticated user. There is no
// replay; clients reconcile via the status endpoints after a reconnect.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	conn := a.Hub.Register(userID)
	defer a.Hub.Unregister(conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: ready\ndata: {\"connection_id\":%q}\n\n", conn.ID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-conn.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
