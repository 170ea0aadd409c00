package middleware

import (
	"context"
	"net/http"
	"strings"
)

type userKey string

const (
	userIDKey userKey = "user_id"
)

// identityHeader carries the authenticated subject established by the
// fronting gateway. Authentication itself is owned by the external auth
// collaborator; this service only trusts the header it sets.
const identityHeader = "X-Authenticated-User"

// Auth requires an authenticated identity on the request and injects it into
// the context. Webhook and health routes are mounted outside this chain.
func Auth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(identityHeader))
			if userID == "" {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
