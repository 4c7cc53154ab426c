// ABOUTME: HTTP middleware guarding operator API endpoints with bearer tokens
// ABOUTME: Adds the verified operator name to the request context

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// Operator returns the verified operator name from the request context,
// or empty if the request did not pass through the middleware.
func Operator(ctx context.Context) string {
	name, _ := ctx.Value(contextKey{}).(string)
	return name
}

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

// Middleware wraps a handler, rejecting requests without a valid operator token.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			operator, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
