// Package api implements the tgmonitor admin REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearer extracts the request token. Browsers cannot set headers on an
// EventSource, so the access_token query parameter is accepted as well.
func bearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// AuthMiddleware rejects requests without the configured token. When
// enabled is false every request passes.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled && subtle.ConstantTimeCompare([]byte(bearer(r)), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
