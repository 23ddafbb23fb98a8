package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireInternalSecret returns middleware guarding the internal CRUD
// surface (campaign, contact, menu, and budget management) with a shared
// secret passed in the X-Internal-Secret header, rather than a per-user
// bearer token. This surface is meant to sit behind a trusted
// provisioning layer, not be exposed directly to end users.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-Secret")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				writeJWTError(w, http.StatusUnauthorized, "invalid or missing internal secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
