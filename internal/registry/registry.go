// Package registry provides per-TLD configuration: phase, grace periods,
// registrar allow-lists, reserved and claims labels, and pricing. Flows
// consume it for authorization and pricing decisions; it is configuration,
// not resource state.
package registry

import (
	"context"
	"strings"
	"time"

	pkgerrors "eppd/pkg/errors"
)

// Phase is a TLD's current business phase.
type Phase string

const (
	// PhasePredelegation blocks everything except checks.
	PhasePredelegation Phase = "predelegation"
	// PhaseSunrise accepts trademark-holder applications only.
	PhaseSunrise Phase = "sunrise"
	// PhaseLandrush accepts applications ahead of general availability.
	PhaseLandrush Phase = "landrush"
	// PhaseClaims is general registration with trademark claims notices.
	PhaseClaims Phase = "claims"
	// PhaseGeneralAvailability is ordinary first-come-first-served.
	PhaseGeneralAvailability Phase = "general_availability"
)

// ApplicationPhase reports whether registrations in this phase go through
// launch applications rather than direct creates.
func (p Phase) ApplicationPhase() bool {
	return p == PhaseSunrise || p == PhaseLandrush
}

// TLD is the registry configuration for one top-level domain.
type TLD struct {
	Name  string
	Phase Phase

	// TransferGracePeriod is the window a pending transfer stays open before
	// implicit server approval. Default five days.
	TransferGracePeriod time.Duration
	// RedemptionGracePeriod is the window a deleted domain can be restored.
	RedemptionGracePeriod time.Duration

	// AllowedRegistrars restricts which registrars may provision under this
	// TLD. Empty means open to all.
	AllowedRegistrars []string

	ReservedLabels map[string]bool
	// ClaimsKeys maps labels with trademark claims to their claim notice key.
	ClaimsKeys map[string]string

	CreateCostCents   int64
	RenewCostCents    int64
	TransferCostCents int64
	RestoreCostCents  int64
	Currency          string
}

// DefaultTransferGracePeriod applies when a TLD doesn't override it.
const DefaultTransferGracePeriod = 5 * 24 * time.Hour

// DefaultRedemptionGracePeriod applies when a TLD doesn't override it.
const DefaultRedemptionGracePeriod = 30 * 24 * time.Hour

// TransferGrace returns the configured grace period or the default.
func (t *TLD) TransferGrace() time.Duration {
	if t.TransferGracePeriod > 0 {
		return t.TransferGracePeriod
	}
	return DefaultTransferGracePeriod
}

// RedemptionGrace returns the configured grace period or the default.
func (t *TLD) RedemptionGrace() time.Duration {
	if t.RedemptionGracePeriod > 0 {
		return t.RedemptionGracePeriod
	}
	return DefaultRedemptionGracePeriod
}

// RegistrarAllowed reports whether the registrar may provision in this TLD.
func (t *TLD) RegistrarAllowed(registrarID string) bool {
	if len(t.AllowedRegistrars) == 0 {
		return true
	}
	for _, id := range t.AllowedRegistrars {
		if id == registrarID {
			return true
		}
	}
	return false
}

// Reserved reports whether the label is blocked from registration.
func (t *TLD) Reserved(label string) bool {
	return t.ReservedLabels[label]
}

// Registrar is an accredited registrar account.
type Registrar struct {
	ID       string
	Password string
	Active   bool
}

// Provider looks up registry configuration.
type Provider interface {
	TLD(ctx context.Context, name string) (*TLD, error)
	Registrar(ctx context.Context, id string) (*Registrar, error)
	// TLDNames lists all configured TLDs; batch workers iterate them.
	TLDNames(ctx context.Context) ([]string, error)
}

// SplitDomain breaks a fully qualified domain name into label and TLD.
func SplitDomain(fqdn string) (label, tld string, ok bool) {
	label, tld, ok = strings.Cut(fqdn, ".")
	if !ok || label == "" || tld == "" {
		return "", "", false
	}
	return label, tld, true
}

// StaticProvider serves a fixed configuration set. Production wiring loads
// it at startup; tests build it inline.
type StaticProvider struct {
	tlds       map[string]*TLD
	registrars map[string]*Registrar
}

// NewStaticProvider builds a provider over the given configuration.
func NewStaticProvider(tlds []*TLD, registrars []*Registrar) *StaticProvider {
	p := &StaticProvider{
		tlds:       make(map[string]*TLD, len(tlds)),
		registrars: make(map[string]*Registrar, len(registrars)),
	}
	for _, t := range tlds {
		p.tlds[t.Name] = t
	}
	for _, r := range registrars {
		p.registrars[r.ID] = r
	}
	return p
}

func (p *StaticProvider) TLD(_ context.Context, name string) (*TLD, error) {
	t, ok := p.tlds[name]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeAuthorization, "TLD %q is not operated by this registry", name)
	}
	return t, nil
}

func (p *StaticProvider) Registrar(_ context.Context, id string) (*Registrar, error) {
	r, ok := p.registrars[id]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeAuthentication, "unknown registrar %q", id)
	}
	return r, nil
}

func (p *StaticProvider) TLDNames(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(p.tlds))
	for name := range p.tlds {
		names = append(names, name)
	}
	return names, nil
}
