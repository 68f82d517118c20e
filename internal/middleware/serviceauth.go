// Package middleware provides HTTP middleware for the bridge control surface.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bleam/bridge/internal/service"
)

type callerCtxKey struct{}

// ServiceAuth returns middleware that requires a valid bearer service token.
// A missing or non-bearer header is 401; a token that fails verification is
// 403. The caller's declared identity is stored on the request context.
func ServiceAuth(auth *service.ServiceAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			caller, err := auth.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), callerCtxKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller service identity.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerCtxKey{}).(string)
	return caller
}
