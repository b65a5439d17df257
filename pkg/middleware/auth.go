package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/utafrali/storefront/pkg/httputil"
)

// UserIDHeader is set by the API gateway after it has authenticated the caller.
const UserIDHeader = "X-User-ID"

type contextKeyType string

const (
	userIDKey contextKeyType = "user_id"
	roleKey   contextKeyType = "role"
)

// Claims are the identity fields extracted from a bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// Auth requires an identity on every request. A valid bearer token wins; when
// trustHeader is set, a gateway-supplied X-User-ID is accepted instead.
func Auth(validate TokenValidator, trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if uid := strings.TrimSpace(r.Header.Get(UserIDHeader)); trustHeader && uid != "" {
					next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid, "")))
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
				return
			}

			claims, err := validate(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID, claims.Role)))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[RoleFromContext(r.Context())]; !ok {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID stores the authenticated principal in ctx.
func WithUserID(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext returns the authenticated role, or "".
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteJSON(w, status, httputil.Response{
		Error: &httputil.ErrorResponse{Code: code, Message: message},
	})
}
