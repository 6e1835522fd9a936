package flows

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"eppd/internal/epp"
	"eppd/internal/model"
	"eppd/internal/registry"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// maxRegistrationYears caps how far into the future a registration may
// extend, counted from the flow's time.
const maxRegistrationYears = 10

type domainCheckFlow struct {
	baseFlow
}

func (domainCheckFlow) Name() string { return "DomainCheck" }
func (domainCheckFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtLaunchCheck, epp.ExtFee}
}

func (domainCheckFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	targets, err := checkTargets(fc.Command)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	results := make([]epp.CheckResult, 0, len(targets))
	for _, fqdn := range targets {
		fqdn = strings.ToLower(fqdn)
		res := epp.CheckResult{ID: fqdn, Available: true}

		label, tldName, ok := registry.SplitDomain(fqdn)
		if !ok {
			res.Available = false
			res.Reason = "malformed name"
			results = append(results, res)
			continue
		}
		tld, err := fc.Registry.TLD(ctx, tldName)
		if err != nil {
			res.Available = false
			res.Reason = "unknown TLD"
			results = append(results, res)
			continue
		}
		if tld.Reserved(label) {
			res.Available = false
			res.Reason = "reserved"
			results = append(results, res)
			continue
		}
		existing, err := fc.Tx.LoadResource(ctx, model.KindDomain, fqdn)
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

// claimsCheckFlow answers trademark claims checks during the claims phase.
type claimsCheckFlow struct {
	baseFlow
}

func (claimsCheckFlow) Name() string { return "ClaimsCheck" }
func (claimsCheckFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtLaunchCheck}
}

func (claimsCheckFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	targets, err := checkTargets(fc.Command)
	if err != nil {
		return nil, err
	}
	results := make([]epp.CheckResult, 0, len(targets))
	for _, fqdn := range targets {
		fqdn = strings.ToLower(fqdn)
		res := epp.CheckResult{ID: fqdn}

		label, tldName, ok := registry.SplitDomain(fqdn)
		if !ok {
			results = append(results, res)
			continue
		}
		tld, err := fc.Registry.TLD(ctx, tldName)
		if err != nil {
			results = append(results, res)
			continue
		}
		if key, claimed := tld.ClaimsKeys[label]; claimed {
			res.ClaimKey = key
		} else {
			res.Available = true
		}
		results = append(results, res)
	}
	return epp.Success(results), nil
}

type domainCreateFlow struct {
	baseFlow
}

func (domainCreateFlow) Name() string { return "DomainCreate" }
func (domainCreateFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtLaunchCreate, epp.ExtFee}
}

func (domainCreateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	fqdn := strings.ToLower(fc.Command.Target())
	label, tld, err := tldForDomain(ctx, fc, fqdn)
	if err != nil {
		return nil, err
	}
	switch tld.Phase {
	case registry.PhaseClaims, registry.PhaseGeneralAvailability:
	case registry.PhaseSunrise, registry.PhaseLandrush:
		return nil, pkgerrors.Newf(pkgerrors.CodeAuthorization, "TLD %s accepts applications, not direct registrations", tld.Name)
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeAuthorization, "TLD %s is not open for registration", tld.Name)
	}
	if tld.Reserved(label) {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "label %s is reserved", label),
			epp.CodeParameterPolicyError)
	}
	if err := verifyDoesNotExist(ctx, fc, model.KindDomain, fqdn); err != nil {
		return nil, err
	}
	years, err := registrationYears(fc.Command.PeriodYears)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	expiration := now.AddDate(years, 0, 0)

	d := &model.Domain{
		ResourceBase:               newResourceBase(ctx, fc, fqdn, fc.Command.AuthInfo),
		TLD:                        tld.Name,
		RegistrationExpirationTime: expiration,
		AutorenewRecurrenceID:      uuid.NewString(),
	}
	if fields := fc.Command.Domain; fields != nil {
		d.RegistrantContactID = fields.RegistrantContactID
		d.Contacts = fields.Contacts
		d.Nameservers = fields.Nameservers
	}

	if err := fc.Tx.SaveEntity(ctx,
		&model.BillingEvent{
			ID:          uuid.NewString(),
			RegistrarID: fc.ClientID(),
			TargetID:    fqdn,
			Reason:      model.BillingCreate,
			PeriodYears: years,
			CostCents:   tld.CreateCostCents * int64(years),
			Currency:    tld.Currency,
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
	if err := recordHistory(ctx, fc, model.HistoryDomainCreate, d, ""); err != nil {
		return nil, err
	}
	exp := expiration
	return epp.Success(&epp.CreateData{ID: fqdn, CreationTime: now, ExpirationTime: &exp}), nil
}

func registrationYears(requested int) (int, error) {
	if requested == 0 {
		return 1, nil
	}
	if requested < 1 || requested > maxRegistrationYears {
		return 0, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "registration period must be between 1 and %d years", maxRegistrationYears),
			epp.CodeParameterPolicyError)
	}
	return requested, nil
}

type domainInfoFlow struct {
	baseFlow
}

func (domainInfoFlow) Name() string { return "DomainInfo" }

func (domainInfoFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindDomain, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	d := r.(*model.Domain)
	data := infoData(d)
	exp := d.RegistrationExpirationTime
	data.ExpirationTime = &exp
	data.Registrant = d.RegistrantContactID
	data.Nameservers = d.Nameservers
	data.SubordinateHosts = d.SubordinateHosts
	return epp.Success(data), nil
}

type domainDeleteFlow struct {
	baseFlow
}

func (domainDeleteFlow) Name() string { return "DomainDelete" }

func (domainDeleteFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindDomain, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	d := r.(*model.Domain)
	if err := verifySponsor(d, fc.ClientID()); err != nil {
		return nil, err
	}
	if err := verifyNoProhibitedStatus(d,
		model.StatusClientDeleteProhibited, model.StatusServerDeleteProhibited,
		model.StatusPendingDelete, model.StatusPendingTransfer); err != nil {
		return nil, err
	}
	if len(d.SubordinateHosts) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "domain has subordinate hosts")
	}
	_, tld, err := tldForDomain(ctx, fc, d.ForeignKey)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	// Soft delete: the domain enters redemption and drops out of existence
	// only when the grace period lapses without a restore.
	d.DeletionTime = now.Add(tld.RedemptionGrace())
	d.Statuses.Add(model.StatusPendingDelete, model.StatusServerHold)
	d.Statuses.Normalize()
	touchUpdated(ctx, fc, d)

	if err := endRecurrence(ctx, fc, d, now); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveResource(ctx, d); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryDomainDelete, d, ""); err != nil {
		return nil, err
	}
	return epp.SuccessPending(nil), nil
}

func endRecurrence(ctx context.Context, fc *FlowContext, d *model.Domain, at time.Time) error {
	if d.AutorenewRecurrenceID == "" {
		return nil
	}
	e, err := fc.Tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: d.AutorenewRecurrenceID})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	rec := e.(*model.Recurrence)
	rec.EndTime = at
	return fc.Tx.SaveEntity(ctx, rec)
}

type domainRenewFlow struct {
	baseFlow
}

func (domainRenewFlow) Name() string { return "DomainRenew" }
func (domainRenewFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtFee}
}

func (domainRenewFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindDomain, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	d := r.(*model.Domain)
	if err := verifySponsor(d, fc.ClientID()); err != nil {
		return nil, err
	}
	if err := verifyNoProhibitedStatus(d,
		model.StatusClientRenewProhibited, model.StatusServerRenewProhibited,
		model.StatusPendingDelete, model.StatusPendingTransfer); err != nil {
		return nil, err
	}

	// The current expiration the registrar saw must still hold, so two
	// racing renews cannot both extend the registration.
	if cur := fc.Command.CurrentExpiration; cur != "" {
		if cur != d.RegistrationExpirationTime.Format("2006-01-02") {
			return nil, epp.WithResult(
				pkgerrors.New(pkgerrors.CodePrecondition, "stated expiration date does not match"),
				epp.CodeParameterPolicyError)
		}
	}
	years, err := registrationYears(fc.Command.PeriodYears)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	newExpiration := d.RegistrationExpirationTime.AddDate(years, 0, 0)
	if newExpiration.After(now.AddDate(maxRegistrationYears, 0, 0)) {
		return nil, epp.WithResult(
			pkgerrors.Newf(pkgerrors.CodePrecondition, "registration may not extend more than %d years from now", maxRegistrationYears),
			epp.CodeParameterPolicyError)
	}
	_, tld, err := tldForDomain(ctx, fc, d.ForeignKey)
	if err != nil {
		return nil, err
	}

	d.RegistrationExpirationTime = newExpiration
	touchUpdated(ctx, fc, d)

	if err := fc.Tx.SaveEntity(ctx, &model.BillingEvent{
		ID:          uuid.NewString(),
		RegistrarID: fc.ClientID(),
		TargetID:    d.ForeignKey,
		Reason:      model.BillingRenew,
		PeriodYears: years,
		CostCents:   tld.RenewCostCents * int64(years),
		Currency:    tld.Currency,
		EventTime:   now,
		BillingTime: now,
	}); err != nil {
		return nil, err
	}
	if err := advanceRecurrence(ctx, fc, d); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveResource(ctx, d); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryDomainRenew, d, ""); err != nil {
		return nil, err
	}
	return epp.Success(&epp.RenewData{ID: d.ForeignKey, ExpirationTime: newExpiration}), nil
}

// advanceRecurrence moves the autorenew recurrence's next event out to the
// domain's current expiration.
func advanceRecurrence(ctx context.Context, fc *FlowContext, d *model.Domain) error {
	if d.AutorenewRecurrenceID == "" {
		return nil
	}
	e, err := fc.Tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: d.AutorenewRecurrenceID})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	rec := e.(*model.Recurrence)
	rec.EventTime = d.RegistrationExpirationTime
	return fc.Tx.SaveEntity(ctx, rec)
}

type domainUpdateFlow struct {
	baseFlow
}

func (domainUpdateFlow) Name() string { return "DomainUpdate" }

func (domainUpdateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindDomain, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	d := r.(*model.Domain)
	if err := verifySponsor(d, fc.ClientID()); err != nil {
		return nil, err
	}
	up := fc.Command.Update
	if up == nil {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "update carries no changes")
	}
	if err := verifyUpdateAllowed(d, up); err != nil {
		return nil, err
	}
	if err := applyStatusChanges(d, up); err != nil {
		return nil, err
	}

	for _, ns := range up.AddNameservers {
		if !containsString(d.Nameservers, ns) {
			d.Nameservers = append(d.Nameservers, ns)
		}
	}
	if len(up.RemoveNameservers) > 0 {
		kept := d.Nameservers[:0]
		for _, ns := range d.Nameservers {
			if !containsString(up.RemoveNameservers, ns) {
				kept = append(kept, ns)
			}
		}
		d.Nameservers = kept
	}
	if up.NewRegistrant != "" {
		d.RegistrantContactID = up.NewRegistrant
	}
	if up.NewAuthInfo != "" {
		d.AuthInfo = up.NewAuthInfo
	}
	touchUpdated(ctx, fc, d)

	if err := fc.Tx.SaveResource(ctx, d); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryDomainUpdate, d, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

// domainRestoreFlow rescues a domain out of redemption. Restore reports are
// not offered; only the immediate restore request form exists.
type domainRestoreFlow struct {
	baseFlow
}

func (domainRestoreFlow) Name() string { return "DomainRestore" }
func (domainRestoreFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtRestore, epp.ExtFee}
}

func (domainRestoreFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindDomain, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	d := r.(*model.Domain)
	if err := verifySponsor(d, fc.ClientID()); err != nil {
		return nil, err
	}
	if !d.Statuses.Has(model.StatusPendingDelete) {
		return nil, epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "domain is not pending delete"),
			epp.CodeStatusProhibitsOperation)
	}
	_, tld, err := tldForDomain(ctx, fc, d.ForeignKey)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	d.DeletionTime = model.EndOfTime
	d.Statuses.Remove(model.StatusPendingDelete, model.StatusServerHold)
	d.Statuses.Normalize()
	if !d.RegistrationExpirationTime.After(now) {
		// The registration lapsed during redemption; restoring includes one
		// renewal year so the domain comes back with a live registration.
		d.RegistrationExpirationTime = d.RegistrationExpirationTime.AddDate(1, 0, 0)
	}
	touchUpdated(ctx, fc, d)

	if err := fc.Tx.SaveEntity(ctx, &model.BillingEvent{
		ID:          uuid.NewString(),
		RegistrarID: fc.ClientID(),
		TargetID:    d.ForeignKey,
		Reason:      model.BillingRestore,
		CostCents:   tld.RestoreCostCents,
		Currency:    tld.Currency,
		EventTime:   now,
		BillingTime: now,
	}); err != nil {
		return nil, err
	}
	if err := reopenRecurrenceForDomain(ctx, fc, d); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveResource(ctx, d); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryDomainRestore, d, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

func reopenRecurrenceForDomain(ctx context.Context, fc *FlowContext, d *model.Domain) error {
	if d.AutorenewRecurrenceID == "" {
		return nil
	}
	e, err := fc.Tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: d.AutorenewRecurrenceID})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	rec := e.(*model.Recurrence)
	rec.EndTime = model.EndOfTime
	rec.EventTime = d.RegistrationExpirationTime
	return fc.Tx.SaveEntity(ctx, rec)
}
