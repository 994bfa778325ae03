package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/services"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// TokenValidator resolves a bearer token to a user ID and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// Authenticate validates the Bearer JWT and puts the caller into the request
// context. Requests without a valid token get 401.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			id, role, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil || id == uuid.Nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := WithCaller(r.Context(), services.Caller{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not in roles with 403.
// It must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromCtx(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			if !slices.Contains(roles, caller.Role) {
				writeError(w, http.StatusForbidden, "role "+caller.Role+" may not call this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromCtx returns the authenticated caller, if any.
func CallerFromCtx(ctx context.Context) (services.Caller, bool) {
	c, ok := ctx.Value(ctxCallerKey).(services.Caller)
	return c, ok
}

// WithCaller returns a context carrying the given caller.
func WithCaller(ctx context.Context, c services.Caller) context.Context {
	return context.WithValue(ctx, ctxCallerKey, c)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
