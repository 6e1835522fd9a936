package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"eppd/pkg/requestcontext"
)

// RequestID tags every request with an id for log correlation. An id supplied
// by a trusted proxy via X-Request-ID is kept; otherwise one is minted.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
