// Package middleware provides HTTP middleware for tenant authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// tenantIDKey is the context key for storing the authenticated tenant ID.
const tenantIDKey ContextKey = "tenantID"

// TokenValidator validates bearer tokens. It lets the middleware work with
// any token service without an import cycle.
type TokenValidator interface {
	ValidateToken(tokenString string) (TenantGetter, error)
}

// TenantGetter extracts the tenant from validated token claims.
type TenantGetter interface {
	GetTenantID() string
}

// AuthMiddleware creates middleware that validates bearer tokens and adds the
// tenant ID to the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// "Bearer" is matched case-insensitively
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			tenantID := claims.GetTenantID()
			if tenantID == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithTenantID returns a context carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID extracts the authenticated tenant ID from the request context.
func GetTenantID(r *http.Request) (string, error) {
	tenantID, ok := r.Context().Value(tenantIDKey).(string)
	if !ok || tenantID == "" {
		return "", errors.New("tenant ID not found in request context")
	}
	return tenantID, nil
}
