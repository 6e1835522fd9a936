package flows

import (
	"context"
	"time"

	"github.com/google/uuid"

	"eppd/internal/epp"
	"eppd/internal/model"
	"eppd/internal/registry"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// loadResource loads and projects a resource, enforcing visibility at the
// flow's time. When projection applied a pending transition (an expired
// pending transfer), the projected state is written back so the transition
// becomes durable on this flow rather than staying implicit forever.
func loadResource(ctx context.Context, fc *FlowContext, kind model.Kind, foreignKey string) (model.Resource, error) {
	if foreignKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "command names no object")
	}
	now := requestcontext.Now(ctx)

	stored, err := fc.Tx.LoadResource(ctx, kind, foreignKey)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, notFound(kind, foreignKey)
		}
		return nil, err
	}

	var projected model.Resource
	if h, ok := stored.(*model.Host); ok {
		projected, err = projectHost(ctx, fc, h, now)
		if err != nil {
			return nil, err
		}
	} else {
		projected = model.ProjectAtTime(stored, now)
	}

	if !projected.Base().Visible(now) {
		return nil, notFound(kind, foreignKey)
	}
	if projectionAdvanced(stored, projected) {
		if err := fc.Tx.SaveResource(ctx, projected); err != nil {
			return nil, err
		}
	}
	return projected, nil
}

// projectHost projects a host together with its superordinate domain.
func projectHost(ctx context.Context, fc *FlowContext, h *model.Host, now time.Time) (model.Resource, error) {
	if h.SuperordinateDomain == "" {
		return model.ProjectHostAtTime(h, nil, now), nil
	}
	super, err := fc.Tx.LoadResource(ctx, model.KindDomain, h.SuperordinateDomain)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return model.ProjectHostAtTime(h, nil, now), nil
		}
		return nil, err
	}
	return model.ProjectHostAtTime(h, super.(*model.Domain), now), nil
}

// projectionAdvanced reports whether projecting moved the resource past a
// stored pending state, i.e. whether the projection is worth persisting.
func projectionAdvanced(stored, projected model.Resource) bool {
	sb, pb := stored.Base(), projected.Base()
	if sb.PendingTransfer() && !pb.PendingTransfer() {
		return true
	}
	if sb.CurrentSponsorClientID != pb.CurrentSponsorClientID {
		return true
	}
	return false
}

func notFound(kind model.Kind, foreignKey string) error {
	return pkgerrors.Newf(pkgerrors.CodeNotFound, "%s %s does not exist", kind, foreignKey)
}

// verifySponsor gates mutating flows to the sponsoring registrar.
func verifySponsor(r model.Resource, clientID string) error {
	if r.Base().CurrentSponsorClientID != clientID {
		return pkgerrors.New(pkgerrors.CodeAuthorization, "object is sponsored by another registrar")
	}
	return nil
}

// verifyAuthInfo checks a presented transfer secret.
func verifyAuthInfo(r model.Resource, presented string) error {
	if presented == "" || presented != r.Base().AuthInfo {
		return pkgerrors.New(pkgerrors.CodeAuthorization, "authorization information does not match")
	}
	return nil
}

// verifyNoProhibitedStatus fails with a status-prohibits result when the
// resource carries any of the given statuses.
func verifyNoProhibitedStatus(r model.Resource, statuses ...model.StatusValue) error {
	for _, s := range statuses {
		if r.Base().Statuses.Has(s) {
			return epp.WithResult(
				pkgerrors.Newf(pkgerrors.CodePrecondition, "operation prohibited by status %s", s),
				epp.CodeStatusProhibitsOperation)
		}
	}
	return nil
}

// tldForDomain resolves the TLD configuration for a fully qualified name and
// verifies the session's registrar may act in it.
func tldForDomain(ctx context.Context, fc *FlowContext, fqdn string) (label string, tld *registry.TLD, err error) {
	label, tldName, ok := registry.SplitDomain(fqdn)
	if !ok {
		return "", nil, pkgerrors.Newf(pkgerrors.CodeSyntax, "malformed domain name %q", fqdn)
	}
	tld, err = fc.Registry.TLD(ctx, tldName)
	if err != nil {
		return "", nil, err
	}
	if !tld.RegistrarAllowed(fc.ClientID()) {
		return "", nil, pkgerrors.Newf(pkgerrors.CodeAuthorization, "registrar is not authorized for TLD %s", tldName)
	}
	return label, tld, nil
}

// checkTargets validates the id list of a check command.
func checkTargets(cmd *epp.Command) ([]string, error) {
	if len(cmd.Targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "check names no objects")
	}
	if len(cmd.Targets) > maxCheckIDs {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "check is limited to %d ids, got %d", maxCheckIDs, len(cmd.Targets)),
			epp.CodeParameterPolicyError)
	}
	return cmd.Targets, nil
}

// newRepoID mints a registry-unique resource identifier.
func newRepoID() string { return uuid.NewString() }

// recordHistory appends the audit record for a completed mutation.
func recordHistory(ctx context.Context, fc *FlowContext, t model.HistoryType, r model.Resource, otherClientID string) error {
	b := r.Base()
	return fc.Tx.SaveEntity(ctx, &model.HistoryEntry{
		ID:               uuid.NewString(),
		Type:             t,
		ResourceRepoID:   b.RepoID,
		ResourceKind:     r.ResourceKind(),
		TargetID:         b.ForeignKey,
		ClientID:         fc.ClientID(),
		OtherClientID:    otherClientID,
		ModificationTime: requestcontext.Now(ctx),
	})
}

// touchUpdated stamps the update audit fields on a mutated resource.
func touchUpdated(ctx context.Context, fc *FlowContext, r model.Resource) {
	now := requestcontext.Now(ctx)
	b := r.Base()
	b.LastEPPUpdateTime = &now
	b.LastEPPUpdateClientID = fc.ClientID()
}

// newResourceBase seeds the shared fields of a freshly created resource.
func newResourceBase(ctx context.Context, fc *FlowContext, foreignKey, authInfo string) model.ResourceBase {
	now := requestcontext.Now(ctx)
	return model.ResourceBase{
		RepoID:                 newRepoID(),
		ForeignKey:             foreignKey,
		CreationClientID:       fc.ClientID(),
		CurrentSponsorClientID: fc.ClientID(),
		CreationTime:           now,
		DeletionTime:           model.EndOfTime,
		Statuses:               model.NewStatusSet(model.StatusOK),
		AuthInfo:               authInfo,
	}
}

// verifyDoesNotExist fails a create when a visible resource already occupies
// the foreign key.
func verifyDoesNotExist(ctx context.Context, fc *FlowContext, kind model.Kind, foreignKey string) error {
	now := requestcontext.Now(ctx)
	existing, err := fc.Tx.LoadResource(ctx, kind, foreignKey)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if model.ProjectAtTime(existing, now).Base().Visible(now) {
		return epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodeAlreadyExists, "%s %s already exists", kind, foreignKey),
			epp.CodeObjectExists)
	}
	return nil
}

// resourceCheckFlow answers availability checks for contacts and hosts. A
// taken id is one resolving to a visible resource at the flow's time.
type resourceCheckFlow struct {
	baseFlow
	kind model.Kind
}

func (f resourceCheckFlow) Name() string {
	if f.kind == model.KindContact {
		return "ContactCheck"
	}
	return "HostCheck"
}

func (f resourceCheckFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	targets, err := checkTargets(fc.Command)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	results := make([]epp.CheckResult, 0, len(targets))
	for _, id := range targets {
		res := epp.CheckResult{ID: id, Available: true}
		existing, err := fc.Tx.LoadResource(ctx, f.kind, id)
		switch {
		case err == nil:
			if model.ProjectAtTime(existing, now).Base().Visible(now) {
				res.Available = false
				res.Reason = "in use"
			}
		case !pkgerrors.HasCode(err, pkgerrors.CodeNotFound):
			return nil, err
		}
		results = append(results, res)
	}
	return epp.Success(results), nil
}

// infoData renders the generic info payload for a projected resource.
func infoData(r model.Resource) *epp.InfoData {
	b := r.Base()
	data := &epp.InfoData{
		ID:                 b.ForeignKey,
		RepoID:             b.RepoID,
		SponsorClientID:    b.CurrentSponsorClientID,
		CreationClientID:   b.CreationClientID,
		LastUpdateClientID: b.LastEPPUpdateClientID,
		CreationTime:       b.CreationTime,
		LastUpdateTime:     b.LastEPPUpdateTime,
		LastTransferTime:   b.LastTransferTime,
	}
	for _, s := range b.Statuses.Sorted() {
		data.Statuses = append(data.Statuses, string(s))
	}
	if td := b.TransferData; td != nil && td.Status != model.TransferNone {
		data.PendingTransferState = transferInfo(b.ForeignKey, td)
	}
	return data
}

func transferInfo(target string, td *model.TransferData) *epp.TransferInfo {
	info := &epp.TransferInfo{
		ID:            target,
		Status:        string(td.Status),
		GainingClient: td.GainingClientID,
		LosingClient:  td.LosingClientID,
		RequestTime:   td.RequestTime,
	}
	if !td.PendingExpirationTime.IsZero() {
		t := td.PendingExpirationTime
		info.ExpirationTime = &t
	}
	return info
}
