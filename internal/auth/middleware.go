// Package auth guards the HTTP API with a single shared bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// RequireToken returns middleware that accepts only requests carrying token, either as
// "Authorization: Bearer <token>" or, for browser WebSocket clients that cannot set
// headers, as a "token" query parameter. Returns 401 Unauthorized otherwise.
func RequireToken(token string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := TokenFromRequest(r)
			if got == "" {
				log.Debug().Str("path", r.URL.Path).Msg("Auth: no token present")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !ValidateToken(got, token) {
				log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Auth: token rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return BearerToken(header)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// BearerToken parses "Bearer <token>" (RFC 7235, scheme is case-insensitive).
// It returns "" for any other shape.
func BearerToken(header string) string {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// ValidateToken compares in constant time. An empty expected token never matches.
func ValidateToken(got, expected string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
