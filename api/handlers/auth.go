package handlers

import (
	"net/http"
	"strings"

	"github.com/meridianlabs/tally/api/metrics"
)

// extractBearerToken extracts the token from Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// actorFromRequest returns the caller identity used for admin authorization.
// The engine performs the actual credential check, so an empty token is
// passed through and rejected there.
func actorFromRequest(r *http.Request) string {
	return extractBearerToken(r)
}

// RequireBearer rejects requests with no Authorization header before they
// reach the engine, so unauthenticated scans don't show up as engine errors.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if extractBearerToken(r) == "" {
			metrics.AuthFailuresTotal.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing bearer token"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
