package flows

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eppd/internal/epp"
	"eppd/internal/platform/metrics"
	"eppd/internal/registry"
	"eppd/internal/storage"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// defaultMaxAttempts bounds the retry loop around write conflicts.
const defaultMaxAttempts = 3

// Clock supplies the executor's time source. Production uses the system
// clock; tests inject a fake to step time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Executor resolves commands to flows and runs each flow in its own
// transaction, retrying a bounded number of times on write conflicts. Every
// attempt observes a fresh clock reading, so time-dependent decisions are
// re-evaluated rather than replayed.
type Executor struct {
	store       storage.Store
	registry    registry.Provider
	sessions    *SessionManager
	clock       Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxAttempts int
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock overrides the executor's time source.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithMaxAttempts overrides the conflict retry bound.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewExecutor builds an executor over the given store and registry data.
func NewExecutor(store storage.Store, reg registry.Provider, sessions *SessionManager, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		registry:    reg,
		sessions:    sessions,
		clock:       systemClock{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("eppd/flows"),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions exposes the session manager for transport authentication.
func (e *Executor) Sessions() *SessionManager { return e.sessions }

// Now reports the executor's current clock reading.
func (e *Executor) Now() time.Time { return e.clock.Now() }

// Execute runs one command to completion and always returns a protocol
// response; failures are folded into the response result code.
func (e *Executor) Execute(ctx context.Context, session *Session, cmd *epp.Command) *epp.Response {
	start := time.Now()
	flowName := "unresolved"

	resp, err := func() (*epp.Response, error) {
		flow, err := Dispatch(cmd)
		if err != nil {
			return nil, err
		}
		flowName = flow.Name()

		ctx, span := e.tracer.Start(ctx, "flow."+flowName,
			trace.WithAttributes(attribute.String("epp.flow", flowName)))
		defer span.End()

		if err := validateExtensions(flow, cmd); err != nil {
			return nil, err
		}
		if flow.RequiresSession() && session == nil {
			return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "command requires a logged-in session")
		}
		return e.runWithRetries(ctx, flow, session, cmd)
	}()
	if err != nil {
		e.logger.WarnContext(ctx, "flow failed",
			slog.String("flow", flowName),
			slog.String("error", err.Error()))
		resp = epp.ErrorResponse(err)
	}

	if e.metrics != nil {
		e.metrics.ObserveFlow(flowName, int(resp.Code), time.Since(start))
	}
	return resp
}

// runWithRetries drives the per-attempt transaction loop. Only conflict
// errors are retried; each attempt re-reads the clock so a pending transfer
// that comes due between attempts is seen by the retry.
func (e *Executor) runWithRetries(ctx context.Context, flow Flow, session *Session, cmd *epp.Command) (*epp.Response, error) {
	var resp *epp.Response
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		now := e.clock.Now()
		attemptCtx := requestcontext.WithTime(ctx, now)
		if session != nil {
			attemptCtx = requestcontext.WithRegistrarID(attemptCtx, session.RegistrarID)
			attemptCtx = requestcontext.WithSessionID(attemptCtx, session.ID)
		}

		err = e.store.RunInTransaction(attemptCtx, func(txCtx context.Context, tx storage.Tx) error {
			fc := &FlowContext{
				Command:  cmd,
				Session:  session,
				Tx:       tx,
				Registry: e.registry,
				Sessions: e.sessions,
				Logger:   e.logger,
			}
			var runErr error
			resp, runErr = flow.Run(txCtx, fc)
			return runErr
		})
		if err == nil {
			return resp, nil
		}
		if !pkgerrors.Retryable(err) {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.FlowRetried(flow.Name())
		}
		e.logger.InfoContext(ctx, "retrying flow after write conflict",
			slog.String("flow", flow.Name()),
			slog.Int("attempt", attempt))
	}
	return nil, pkgerrors.Wrap(err, pkgerrors.CodeConflict, "conflict retries exhausted")
}

// validateExtensions rejects any command extension the resolved flow does
// not understand.
func validateExtensions(flow Flow, cmd *epp.Command) error {
	allowed := make(map[epp.ExtensionKind]bool)
	for _, kind := range flow.AllowedExtensions() {
		allowed[kind] = true
	}
	for _, ext := range cmd.Extensions {
		if !allowed[ext.Kind] {
			return pkgerrors.Newf(pkgerrors.CodeUnimplemented, "extension %s not supported on this command", ext.Kind)
		}
	}
	return nil
}
