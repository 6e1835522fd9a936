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

// transferFlow handles the five transfer sub-verbs for transferable resource
// kinds. The sub-verbs share loading, gating, and bookkeeping; only the state
// transition differs.
type transferFlow struct {
	baseFlow
	kind model.Kind
	op   epp.TransferOp
}

func (f transferFlow) Name() string {
	var kind string
	switch f.kind {
	case model.KindDomain:
		kind = "Domain"
	case model.KindContact:
		kind = "Contact"
	}
	switch f.op {
	case epp.TransferRequest:
		return kind + "TransferRequest"
	case epp.TransferApprove:
		return kind + "TransferApprove"
	case epp.TransferReject:
		return kind + "TransferReject"
	case epp.TransferCancel:
		return kind + "TransferCancel"
	default:
		return kind + "TransferQuery"
	}
}

func (f transferFlow) AllowedExtensions() []epp.ExtensionKind {
	return []epp.ExtensionKind{epp.ExtFee}
}

func (f transferFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, f.kind, fc.Command.Target())
	if err != nil {
		return nil, err
	}
	if _, ok := r.(model.Transferable); !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeUnimplemented, "%s objects are not transferable", f.kind)
	}

	switch f.op {
	case epp.TransferRequest:
		return f.request(ctx, fc, r)
	case epp.TransferQuery:
		return f.query(fc, r)
	default:
		return f.resolve(ctx, fc, r)
	}
}

// request opens a pending transfer and writes the speculative entities that
// take effect if the transfer is still pending at expiration.
func (f transferFlow) request(ctx context.Context, fc *FlowContext, r model.Resource) (*epp.Response, error) {
	now := requestcontext.Now(ctx)
	b := r.Base()
	gaining := fc.ClientID()
	losing := b.CurrentSponsorClientID

	if gaining == losing {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "object is already sponsored by the requesting registrar")
	}
	if err := verifyAuthInfo(r, fc.Command.AuthInfo); err != nil {
		return nil, err
	}
	if b.PendingTransfer() {
		return nil, epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "object already has a pending transfer"),
			epp.CodeObjectPendingTransfer)
	}
	if err := verifyNoProhibitedStatus(r,
		model.StatusClientTransferProhibited, model.StatusServerTransferProhibited,
		model.StatusPendingDelete); err != nil {
		return nil, err
	}

	grace := registry.DefaultTransferGracePeriod
	years := 0
	var tld *registry.TLD
	if d, ok := r.(*model.Domain); ok {
		var err error
		_, tld, err = tldForDomain(ctx, fc, d.ForeignKey)
		if err != nil {
			return nil, err
		}
		grace = tld.TransferGrace()
		years = fc.Command.PeriodYears
		if years == 0 {
			years = 1
		}
	}
	expiration := now.Add(grace)

	// Speculative side effects: written now, keyed on the transfer record,
	// deleted as a unit if the transfer resolves against the gaining party.
	var speculative []model.Entity
	if tld != nil {
		speculative = append(speculative, &model.BillingEvent{
			ID:          uuid.NewString(),
			RegistrarID: gaining,
			TargetID:    b.ForeignKey,
			Reason:      model.BillingTransfer,
			PeriodYears: years,
			CostCents:   tld.TransferCostCents,
			Currency:    tld.Currency,
			EventTime:   expiration,
			BillingTime: expiration,
		})
	}
	speculative = append(speculative,
		&model.PollMessage{
			ID:          uuid.NewString(),
			RegistrarID: gaining,
			EventTime:   expiration,
			Message:     "Transfer approved.",
			TargetID:    b.ForeignKey,
		},
		&model.PollMessage{
			ID:          uuid.NewString(),
			RegistrarID: losing,
			EventTime:   expiration,
			Message:     "Transfer approved.",
			TargetID:    b.ForeignKey,
		},
	)
	keys := make([]model.EntityKey, len(speculative))
	for i, e := range speculative {
		keys[i] = e.Key()
	}
	if err := fc.Tx.SaveEntity(ctx, speculative...); err != nil {
		return nil, err
	}

	// The losing registrar learns of the request immediately.
	if err := fc.Tx.SaveEntity(ctx, &model.PollMessage{
		ID:          uuid.NewString(),
		RegistrarID: losing,
		EventTime:   now,
		Message:     "Transfer requested.",
		TargetID:    b.ForeignKey,
	}); err != nil {
		return nil, err
	}

	b.TransferData = &model.TransferData{
		GainingClientID:           gaining,
		LosingClientID:            losing,
		RequestTime:               now,
		PendingExpirationTime:     expiration,
		Status:                    model.TransferPending,
		ServerApproveEntities:     keys,
		ExtendedRegistrationYears: years,
	}
	b.Statuses.Add(model.StatusPendingTransfer)
	b.Statuses.Normalize()
	touchUpdated(ctx, fc, r)

	if d, ok := r.(*model.Domain); ok {
		if err := f.truncateRecurrence(ctx, fc, d, expiration); err != nil {
			return nil, err
		}
	}
	if err := fc.Tx.SaveResource(ctx, r); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, f.historyType(), r, losing); err != nil {
		return nil, err
	}
	return epp.SuccessPending(transferInfo(b.ForeignKey, b.TransferData)), nil
}

// query reports the latest transfer record to an involved party.
func (f transferFlow) query(fc *FlowContext, r model.Resource) (*epp.Response, error) {
	b := r.Base()
	td := b.TransferData
	if td == nil || td.Status == model.TransferNone {
		return nil, epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "object has no transfer history"),
			epp.CodeObjectNotPendingTransfer)
	}
	client := fc.ClientID()
	if client != td.GainingClientID && client != td.LosingClientID {
		if err := verifyAuthInfo(r, fc.Command.AuthInfo); err != nil {
			return nil, err
		}
	}
	return epp.Success(transferInfo(b.ForeignKey, td)), nil
}

// resolve applies an explicit approve, reject, or cancel to a transfer that
// is still pending at the flow's time.
func (f transferFlow) resolve(ctx context.Context, fc *FlowContext, r model.Resource) (*epp.Response, error) {
	now := requestcontext.Now(ctx)
	b := r.Base()
	if !b.PendingTransfer() {
		return nil, epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "object does not have a pending transfer"),
			epp.CodeObjectNotPendingTransfer)
	}
	td := b.TransferData

	switch f.op {
	case epp.TransferApprove, epp.TransferReject:
		// Only the losing registrar, the current sponsor, may resolve.
		if err := verifySponsor(r, fc.ClientID()); err != nil {
			return nil, err
		}
	case epp.TransferCancel:
		if fc.ClientID() != td.GainingClientID {
			return nil, pkgerrors.New(pkgerrors.CodeAuthorization, "only the requesting registrar may cancel")
		}
	}

	var notify *model.PollMessage
	switch f.op {
	case epp.TransferApprove:
		if err := f.approve(ctx, fc, r, now); err != nil {
			return nil, err
		}
		notify = &model.PollMessage{
			ID:          uuid.NewString(),
			RegistrarID: td.GainingClientID,
			EventTime:   now,
			Message:     "Transfer approved.",
			TargetID:    b.ForeignKey,
		}
	case epp.TransferReject:
		if err := f.rollBack(ctx, fc, r, model.TransferClientRejected); err != nil {
			return nil, err
		}
		notify = &model.PollMessage{
			ID:          uuid.NewString(),
			RegistrarID: td.GainingClientID,
			EventTime:   now,
			Message:     "Transfer rejected.",
			TargetID:    b.ForeignKey,
		}
	case epp.TransferCancel:
		if err := f.rollBack(ctx, fc, r, model.TransferClientCancelled); err != nil {
			return nil, err
		}
		notify = &model.PollMessage{
			ID:          uuid.NewString(),
			RegistrarID: td.LosingClientID,
			EventTime:   now,
			Message:     "Transfer cancelled.",
			TargetID:    b.ForeignKey,
		}
	}

	b.Statuses.Remove(model.StatusPendingTransfer)
	b.Statuses.Normalize()
	td.PendingExpirationTime = time.Time{}
	touchUpdated(ctx, fc, r)

	if err := fc.Tx.SaveResource(ctx, r); err != nil {
		return nil, err
	}
	if err := fc.Tx.SaveEntity(ctx, notify); err != nil {
		return nil, err
	}
	other := td.GainingClientID
	if f.op == epp.TransferCancel {
		other = td.LosingClientID
	}
	if err := recordHistory(ctx, fc, f.historyType(), r, other); err != nil {
		return nil, err
	}
	return epp.Success(transferInfo(b.ForeignKey, td)), nil
}

// approve hands the resource to the gaining registrar ahead of the deadline.
// The speculative entities activate now instead of at expiration.
func (f transferFlow) approve(ctx context.Context, fc *FlowContext, r model.Resource, now time.Time) error {
	b := r.Base()
	td := b.TransferData
	td.Status = model.TransferClientApproved

	// Pull the speculative billing and notifications forward to now. The
	// expiration-timed poll messages are replaced by the explicit notice.
	if err := f.activateSpeculative(ctx, fc, td, now); err != nil {
		return err
	}
	td.ServerApproveEntities = nil

	b.CurrentSponsorClientID = td.GainingClientID
	t := now
	b.LastTransferTime = &t

	if d, ok := r.(*model.Domain); ok {
		if td.ExtendedRegistrationYears > 0 {
			d.RegistrationExpirationTime =
				d.RegistrationExpirationTime.AddDate(td.ExtendedRegistrationYears, 0, 0)
			td.ExtendedRegistrationYears = 0
		}
		if err := f.reopenRecurrence(ctx, fc, d, td.GainingClientID); err != nil {
			return err
		}
	}
	return nil
}

// activateSpeculative rewrites the speculative billing event to bill now and
// drops the expiration-timed poll messages.
func (f transferFlow) activateSpeculative(ctx context.Context, fc *FlowContext, td *model.TransferData, now time.Time) error {
	for _, key := range td.ServerApproveEntities {
		if key.Kind != model.EntityBillingEvent {
			if err := fc.Tx.DeleteEntities(ctx, key); err != nil {
				return err
			}
			continue
		}
		e, err := fc.Tx.LoadEntity(ctx, key)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			return err
		}
		be := e.(*model.BillingEvent)
		be.EventTime = now
		be.BillingTime = now
		if err := fc.Tx.SaveEntity(ctx, be); err != nil {
			return err
		}
	}
	return nil
}

// rollBack resolves the transfer against the gaining party: the speculative
// entities vanish as a unit and autorenew billing reopens.
func (f transferFlow) rollBack(ctx context.Context, fc *FlowContext, r model.Resource, status model.TransferStatus) error {
	b := r.Base()
	td := b.TransferData
	td.Status = status

	if len(td.ServerApproveEntities) > 0 {
		if err := fc.Tx.DeleteEntities(ctx, td.ServerApproveEntities...); err != nil {
			return err
		}
		td.ServerApproveEntities = nil
	}
	td.ExtendedRegistrationYears = 0

	if d, ok := r.(*model.Domain); ok {
		if err := f.reopenRecurrence(ctx, fc, d, ""); err != nil {
			return err
		}
	}
	return nil
}

// truncateRecurrence caps the domain's autorenew recurrence at the transfer
// expiration so autorenew and transfer cannot both bill the same interval.
func (f transferFlow) truncateRecurrence(ctx context.Context, fc *FlowContext, d *model.Domain, until time.Time) error {
	rec, err := f.loadRecurrence(ctx, fc, d)
	if err != nil || rec == nil {
		return err
	}
	rec.EndTime = until
	return fc.Tx.SaveEntity(ctx, rec)
}

// reopenRecurrence restores the recurrence to open-ended, reassigning it to
// newOwner when non-empty.
func (f transferFlow) reopenRecurrence(ctx context.Context, fc *FlowContext, d *model.Domain, newOwner string) error {
	rec, err := f.loadRecurrence(ctx, fc, d)
	if err != nil || rec == nil {
		return err
	}
	rec.EndTime = model.EndOfTime
	rec.EventTime = d.RegistrationExpirationTime
	if newOwner != "" {
		rec.RegistrarID = newOwner
	}
	return fc.Tx.SaveEntity(ctx, rec)
}

func (f transferFlow) loadRecurrence(ctx context.Context, fc *FlowContext, d *model.Domain) (*model.Recurrence, error) {
	if d.AutorenewRecurrenceID == "" {
		return nil, nil
	}
	e, err := fc.Tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: d.AutorenewRecurrenceID})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.(*model.Recurrence), nil
}

func (f transferFlow) historyType() model.HistoryType {
	domain := f.kind == model.KindDomain
	switch f.op {
	case epp.TransferRequest:
		if domain {
			return model.HistoryDomainTransferRequest
		}
		return model.HistoryContactTransferRequest
	case epp.TransferApprove:
		if domain {
			return model.HistoryDomainTransferApprove
		}
		return model.HistoryContactTransferApprove
	case epp.TransferReject:
		if domain {
			return model.HistoryDomainTransferReject
		}
		return model.HistoryContactTransferReject
	default:
		if domain {
			return model.HistoryDomainTransferCancel
		}
		return model.HistoryContactTransferCancel
	}
}
