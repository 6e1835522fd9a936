// Package http exposes the command endpoint over HTTP. Commands arrive as
// JSON envelopes on POST /epp; the XML wire codec of a full deployment sits
// in front and is out of scope here.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eppd/internal/epp"
	"eppd/internal/flows"
	"eppd/internal/platform/middleware"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// HealthChecker reports the readiness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the command endpoint.
type Handler struct {
	exec   *flows.Executor
	logger *slog.Logger
	health []HealthChecker
}

// NewRouter assembles the HTTP surface: the command endpoint, metrics, and
// health. Session commands (hello, login) run unauthenticated; everything
// else requires a bearer token from login.
func NewRouter(exec *flows.Executor, logger *slog.Logger, health ...HealthChecker) http.Handler {
	h := &Handler{exec: exec, logger: logger, health: health}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Post("/epp/session", h.serveCommand)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessionValidator{exec}, logger))
		r.Post("/epp", h.serveCommand)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.serveHealth)
	return r
}

// sessionValidator adapts the executor's session manager to the middleware's
// validator seam.
type sessionValidator struct {
	exec *flows.Executor
}

func (v sessionValidator) ValidateToken(token string) (*middleware.SessionInfo, error) {
	s, err := v.exec.Sessions().Resolve(token, v.exec.Now())
	if err != nil {
		return nil, err
	}
	return &middleware.SessionInfo{SessionID: s.ID, RegistrarID: s.RegistrarID}, nil
}

func (h *Handler) serveCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cmd epp.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeResponse(w, r, epp.ErrorResponse(
			pkgerrors.Wrap(err, pkgerrors.CodeSyntax, "malformed command envelope")))
		return
	}

	var session *flows.Session
	if id := requestcontext.SessionID(ctx); id != "" {
		if s, ok := h.exec.Sessions().Get(id); ok {
			session = s
		}
	}

	h.writeResponse(w, r, h.exec.Execute(ctx, session, &cmd))
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, resp *epp.Response) {
	w.Header().Set("Content-Type", "application/json")
	// Protocol failures are still transport-level successes; the result code
	// inside the envelope carries the outcome.
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.ErrorContext(r.Context(), "writing response",
			slog.String("error", err.Error()),
			slog.String("request_id", requestcontext.RequestID(r.Context())))
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.health {
		if err := c.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
