// ABOUTME: HTTP middleware for bearer authentication on API endpoints
// ABOUTME: Accepts the static gateway API key or an HS256 JWT

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware authenticates requests with a bearer token: either the
// static gateway API key or a JWT issued for an operator. Either apiKey
// or verifier may be empty/nil; when both are, every request is rejected.
func Middleware(apiKey string, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			if apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			if verifier != nil {
				if _, err := verifier.Verify(token); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeUnauthorized(w, "invalid token")
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
}
