// Package control provides the local HTTP/JSON control API used by GUIs and deckctl.
package control

import (
	"crypto/subtle"
	"net/http"
)

const (
	// TokenHeader is the header name for the control token.
	TokenHeader = "X-Control-Token"
)

// NewTokenMiddleware creates a middleware that validates the control token
// on every request. An empty token disables the check.
func NewTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from header
			got := r.Header.Get(TokenHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
