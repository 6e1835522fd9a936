// Package flows implements the command handlers of the registry and the
// machinery that routes and executes them. Each handler is a small stateless
// Flow that runs inside a storage transaction; the Executor owns transaction
// lifecycle, conflict retries and session gating.
package flows

import (
	"context"
	"log/slog"

	"eppd/internal/epp"
	"eppd/internal/registry"
	"eppd/internal/storage"
)

// maxCheckIDs bounds the number of ids a single check command may carry.
const maxCheckIDs = 50

// Flow is a single command handler. Implementations are stateless; all
// per-request state travels in the FlowContext.
type Flow interface {
	// Name identifies the flow in logs and metrics.
	Name() string
	// RequiresSession reports whether the flow needs an authenticated session.
	RequiresSession() bool
	// AllowedExtensions lists the extension kinds the flow understands. Any
	// extension on the command outside this list fails the command before
	// the flow runs.
	AllowedExtensions() []epp.ExtensionKind
	// Run executes the flow inside the transaction carried by fc.
	Run(ctx context.Context, fc *FlowContext) (*epp.Response, error)
}

// FlowContext carries everything a flow needs for one attempt. A fresh
// context is built per retry attempt so that Now moves between attempts.
type FlowContext struct {
	Command  *epp.Command
	Session  *Session
	Tx       storage.Tx
	Registry registry.Provider
	Sessions *SessionManager
	Logger   *slog.Logger
}

// ClientID returns the registrar id of the authenticated session, or "" when
// the flow runs without one.
func (fc *FlowContext) ClientID() string {
	if fc.Session == nil {
		return ""
	}
	return fc.Session.RegistrarID
}

// baseFlow supplies the common defaults: session required, no extensions.
type baseFlow struct{}

func (baseFlow) RequiresSession() bool                  { return true }
func (baseFlow) AllowedExtensions() []epp.ExtensionKind { return nil }
