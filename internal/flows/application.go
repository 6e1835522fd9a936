package flows

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"eppd/internal/epp"
	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// applicationCreateFlow files a launch application for a label during an
// application phase. Unlike a create, several applications may coexist for
// the same label; none of them occupies it until allocation.
type applicationCreateFlow struct {
	baseFlow
}

func (applicationCreateFlow) Name() string { return "ApplicationCreate" }
func (applicationCreateFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtLaunchCreate, epp.ExtFee}
}

func (applicationCreateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	fqdn := strings.ToLower(fc.Command.Target())
	label, tld, err := tldForDomain(ctx, fc, fqdn)
	if err != nil {
		return nil, err
	}
	if !tld.Phase.ApplicationPhase() {
		return nil, pkgerrors.Newf(pkgerrors.CodeAuthorization, "TLD %s is not in an application phase", tld.Name)
	}
	ext, _ := fc.Command.SingleExtension(epp.ExtLaunchCreate)
	if ext != nil && ext.Phase != "" && ext.Phase != string(tld.Phase) {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "launch phase %s does not match TLD phase %s", ext.Phase, tld.Phase),
			epp.CodeParameterPolicyError)
	}
	if tld.Reserved(label) {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "label %s is reserved", label),
			epp.CodeParameterPolicyError)
	}
	// The label must not already be a live registration; competing
	// applications are fine.
	if err := verifyDoesNotExist(ctx, fc, model.KindDomain, fqdn); err != nil {
		return nil, err
	}
	years, err := registrationYears(fc.Command.PeriodYears)
	if err != nil {
		return nil, err
	}

	app := &model.DomainApplication{
		ResourceBase:  newResourceBase(ctx, fc, fqdn, fc.Command.AuthInfo),
		ApplicationID: uuid.NewString(),
		TLD:           tld.Name,
		LaunchPhase:   string(tld.Phase),
		Status:        model.ApplicationPending,
		PeriodYears:   years,
	}
	app.Statuses.Add(model.StatusPendingCreate)
	app.Statuses.Normalize()
	if fields := fc.Command.Domain; fields != nil {
		app.RegistrantContactID = fields.RegistrantContactID
		app.Contacts = fields.Contacts
		app.Nameservers = fields.Nameservers
	}

	if err := fc.Tx.SaveResource(ctx, app); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryApplicationCreate, app, ""); err != nil {
		return nil, err
	}
	return epp.SuccessPending(&epp.CreateData{
		ID:            fqdn,
		ApplicationID: app.ApplicationID,
		CreationTime:  app.CreationTime,
	}), nil
}

// loadApplication loads an application by the id carried in the application
// extension and enforces visibility.
func loadApplication(ctx context.Context, fc *FlowContext) (*model.DomainApplication, error) {
	ext, ok := fc.Command.SingleExtension(epp.ExtApplicationID)
	if !ok || ext.ApplicationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "command names no application id")
	}
	now := requestcontext.Now(ctx)
	app, err := fc.Tx.LoadApplication(ctx, ext.ApplicationID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "application %s does not exist", ext.ApplicationID)
		}
		return nil, err
	}
	if !app.Visible(now) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "application %s does not exist", ext.ApplicationID)
	}
	return app.Clone().(*model.DomainApplication), nil
}

type applicationInfoFlow struct {
	baseFlow
}

func (applicationInfoFlow) Name() string { return "ApplicationInfo" }
func (applicationInfoFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtApplicationID}
}

func (applicationInfoFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	app, err := loadApplication(ctx, fc)
	if err != nil {
		return nil, err
	}
	if err := verifySponsor(app, fc.ClientID()); err != nil {
		return nil, err
	}
	data := infoData(app)
	data.ApplicationID = app.ApplicationID
	data.ApplicationStatus = string(app.Status)
	data.LaunchPhase = app.LaunchPhase
	data.Registrant = app.RegistrantContactID
	data.Nameservers = app.Nameservers
	return epp.Success(data), nil
}

type applicationUpdateFlow struct {
	baseFlow
}

func (applicationUpdateFlow) Name() string { return "ApplicationUpdate" }
func (applicationUpdateFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtApplicationID}
}

func (applicationUpdateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	app, err := loadApplication(ctx, fc)
	if err != nil {
		return nil, err
	}
	if err := verifySponsor(app, fc.ClientID()); err != nil {
		return nil, err
	}
	if app.Status == model.ApplicationAllocated || app.Status == model.ApplicationRejected {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "application is already %s", app.Status),
			epp.CodeStatusProhibitsOperation)
	}
	up := fc.Command.Update
	if up == nil {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "update carries no changes")
	}
	if err := verifyUpdateAllowed(app, up); err != nil {
		return nil, err
	}
	if err := applyStatusChanges(app, up); err != nil {
		return nil, err
	}
	app.Statuses.Add(model.StatusPendingCreate)
	app.Statuses.Normalize()

	for _, ns := range up.AddNameservers {
		if !containsString(app.Nameservers, ns) {
			app.Nameservers = append(app.Nameservers, ns)
		}
	}
	if len(up.RemoveNameservers) > 0 {
		kept := app.Nameservers[:0]
		for _, ns := range app.Nameservers {
			if !containsString(up.RemoveNameservers, ns) {
				kept = append(kept, ns)
			}
		}
		app.Nameservers = kept
	}
	if up.NewRegistrant != "" {
		app.RegistrantContactID = up.NewRegistrant
	}
	touchUpdated(ctx, fc, app)

	if err := fc.Tx.SaveResource(ctx, app); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryApplicationUpdate, app, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

type applicationDeleteFlow struct {
	baseFlow
}

func (applicationDeleteFlow) Name() string { return "ApplicationDelete" }
func (applicationDeleteFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtApplicationID}
}

func (applicationDeleteFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	app, err := loadApplication(ctx, fc)
	if err != nil {
		return nil, err
	}
	if err := verifySponsor(app, fc.ClientID()); err != nil {
		return nil, err
	}
	if app.Status == model.ApplicationAllocated {
		return nil, epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "allocated applications cannot be deleted"),
			epp.CodeStatusProhibitsOperation)
	}

	app.DeletionTime = requestcontext.Now(ctx)
	touchUpdated(ctx, fc, app)
	if err := fc.Tx.SaveResource(ctx, app); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryApplicationDelete, app, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

// domainAllocateFlow turns a validated application into a live registration.
// It is the only path to a domain in an application phase.
type domainAllocateFlow struct {
	baseFlow
}

func (domainAllocateFlow) Name() string { return "DomainAllocate" }
func (domainAllocateFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtAllocate, epp.ExtApplicationID, epp.ExtFee}
}

func (domainAllocateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	app, err := allocateTarget(ctx, fc)
	if err != nil {
		return nil, err
	}
	if err := verifySponsor(app, fc.ClientID()); err != nil {
		return nil, err
	}
	if app.Status != model.ApplicationValidated {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "application is %s, not validated", app.Status),
			epp.CodeStatusProhibitsOperation)
	}
	fqdn := strings.ToLower(app.ForeignKey)
	tldCfg, err := fc.Registry.TLD(ctx, app.TLD)
	if err != nil {
		return nil, err
	}
	if err := verifyDoesNotExist(ctx, fc, model.KindDomain, fqdn); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	years := app.PeriodYears
	if years == 0 {
		years = 1
	}
	expiration := now.AddDate(years, 0, 0)

	d := &model.Domain{
		ResourceBase:               newResourceBase(ctx, fc, fqdn, app.AuthInfo),
		TLD:                        app.TLD,
		RegistrantContactID:        app.RegistrantContactID,
		Contacts:                   app.Contacts,
		Nameservers:                app.Nameservers,
		RegistrationExpirationTime: expiration,
		AutorenewRecurrenceID:      uuid.NewString(),
	}

	app.Status = model.ApplicationAllocated
	app.Statuses.Remove(model.StatusPendingCreate)
	app.Statuses.Normalize()
	touchUpdated(ctx, fc, app)

	if err := fc.Tx.SaveEntity(ctx,
		&model.BillingEvent{
			ID:          uuid.NewString(),
			RegistrarID: fc.ClientID(),
			TargetID:    fqdn,
			Reason:      model.BillingCreate,
			PeriodYears: years,
			CostCents:   tldCfg.CreateCostCents * int64(years),
			Currency:    tldCfg.Currency,
			EventTime:   now,
			BillingTime: now,
		},
		&model.Recurrence{
			ID:           d.AutorenewRecurrenceID,
			DomainRepoID: d.RepoID,
			TargetID:     fqdn,
			RegistrarID:  fc.ClientID(),
			Reason:       model.BillingAutorenew,
			EventTime:    expiration,
			EndTime:      model.EndOfTime,
		},
	); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveResource(ctx, d); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveResource(ctx, app); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryDomainAllocate, d, ""); err != nil {
		return nil, err
	}
	exp := expiration
	return epp.Success(&epp.CreateData{
		ID:             fqdn,
		ApplicationID:  app.ApplicationID,
		CreationTime:   now,
		ExpirationTime: &exp,
	}), nil
}

// allocateTarget resolves the application an allocate names, via either the
// application extension or the allocate extension itself.
func allocateTarget(ctx context.Context, fc *FlowContext) (*model.DomainApplication, error) {
	if _, ok := fc.Command.SingleExtension(epp.ExtApplicationID); ok {
		return loadApplication(ctx, fc)
	}
	ext, _ := fc.Command.SingleExtension(epp.ExtAllocate)
	if ext == nil || ext.ApplicationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "allocate names no application id")
	}
	now := requestcontext.Now(ctx)
	app, err := fc.Tx.LoadApplication(ctx, ext.ApplicationID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "application %s does not exist", ext.ApplicationID)
		}
		return nil, err
	}
	if !app.Visible(now) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "application %s does not exist", ext.ApplicationID)
	}
	return app.Clone().(*model.DomainApplication), nil
}
