// Package middleware provides the HTTP middleware chain: request IDs and
// session authentication.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"eppd/pkg/requestcontext"
)

// SessionInfo is what a validated session token resolves to.
type SessionInfo struct {
	SessionID   string
	RegistrarID string
}

// SessionValidator validates bearer tokens. Keeping this an interface here
// leaves the middleware free of the session store's package.
type SessionValidator interface {
	ValidateToken(token string) (*SessionInfo, error)
}

// RequireSession authenticates the request's bearer token and injects the
// session and registrar identifiers into the request context.
func RequireSession(validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized request - missing token",
					slog.String("request_id", requestcontext.RequestID(ctx)))
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}
			info, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized request - invalid token",
					slog.String("error", err.Error()),
					slog.String("request_id", requestcontext.RequestID(ctx)))
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithSessionID(ctx, info.SessionID)
			ctx = requestcontext.WithRegistrarID(ctx, info.RegistrarID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
