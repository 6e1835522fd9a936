package flows

import (
	"context"

	"eppd/internal/epp"
	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

type contactCreateFlow struct {
	baseFlow
}

func (contactCreateFlow) Name() string { return "ContactCreate" }

func (contactCreateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	id := fc.Command.Target()
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "contact create names no id")
	}
	if err := verifyDoesNotExist(ctx, fc, model.KindContact, id); err != nil {
		return nil, err
	}

	c := &model.Contact{
		ResourceBase: newResourceBase(ctx, fc, id, fc.Command.AuthInfo),
	}
	if fields := fc.Command.Contact; fields != nil {
		c.Name = fields.Name
		c.Org = fields.Org
		c.Email = fields.Email
		c.Phone = fields.Phone
	}
	if err := fc.Tx.SaveResource(ctx, c); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryContactCreate, c, ""); err != nil {
		return nil, err
	}
	return epp.Success(&epp.CreateData{ID: id, CreationTime: c.CreationTime}), nil
}

type contactInfoFlow struct {
	baseFlow
}

func (contactInfoFlow) Name() string { return "ContactInfo" }

func (contactInfoFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindContact, fc.Command.Target())
	if err != nil {
		return nil, err
	}
	c := r.(*model.Contact)
	data := infoData(c)
	data.Email = c.Email
	return epp.Success(data), nil
}

type contactDeleteFlow struct {
	baseFlow
}

func (contactDeleteFlow) Name() string { return "ContactDelete" }

func (contactDeleteFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindContact, fc.Command.Target())
	if err != nil {
		return nil, err
	}
	if err := verifySponsor(r, fc.ClientID()); err != nil {
		return nil, err
	}
	if err := verifyNoProhibitedStatus(r,
		model.StatusClientDeleteProhibited, model.StatusServerDeleteProhibited,
		model.StatusPendingDelete, model.StatusPendingTransfer,
		model.StatusLinked); err != nil {
		return nil, err
	}

	r.Base().DeletionTime = requestcontext.Now(ctx)
	touchUpdated(ctx, fc, r)
	if err := fc.Tx.SaveResource(ctx, r); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryContactDelete, r, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

type contactUpdateFlow struct {
	baseFlow
}

func (contactUpdateFlow) Name() string { return "ContactUpdate" }

func (contactUpdateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindContact, fc.Command.Target())
	if err != nil {
		return nil, err
	}
	c := r.(*model.Contact)
	if err := verifySponsor(c, fc.ClientID()); err != nil {
		return nil, err
	}
	up := fc.Command.Update
	if up == nil {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "update carries no changes")
	}
	if err := verifyUpdateAllowed(c, up); err != nil {
		return nil, err
	}
	if err := applyStatusChanges(c, up); err != nil {
		return nil, err
	}
	if up.NewEmail != "" {
		c.Email = up.NewEmail
	}
	if up.NewAuthInfo != "" {
		c.AuthInfo = up.NewAuthInfo
	}
	touchUpdated(ctx, fc, c)

	if err := fc.Tx.SaveResource(ctx, c); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryContactUpdate, c, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

// verifyUpdateAllowed enforces the update-prohibited statuses, with the one
// carve-out that a registrar may remove its own clientUpdateProhibited.
func verifyUpdateAllowed(r model.Resource, up *epp.UpdateFields) error {
	removesClientLock := false
	for _, s := range up.RemoveStatuses {
		if model.StatusValue(s) == model.StatusClientUpdateProhibited {
			removesClientLock = true
		}
	}
	if r.Base().Statuses.Has(model.StatusClientUpdateProhibited) && !removesClientLock {
		return epp.WithResult(
			pkgerrors.New(pkgerrors.CodePrecondition, "operation prohibited by status clientUpdateProhibited"),
			epp.CodeStatusProhibitsOperation)
	}
	return verifyNoProhibitedStatus(r, model.StatusServerUpdateProhibited, model.StatusPendingDelete)
}

// applyStatusChanges applies client status additions and removals. Server
// statuses are registry-controlled and rejected.
func applyStatusChanges(r model.Resource, up *epp.UpdateFields) error {
	for _, s := range up.AddStatuses {
		v := model.StatusValue(s)
		if !clientSettable(v) {
			return pkgerrors.Newf(pkgerrors.CodeAuthorization, "status %s is not client-settable", s)
		}
		r.Base().Statuses.Add(v)
	}
	for _, s := range up.RemoveStatuses {
		v := model.StatusValue(s)
		if !clientSettable(v) {
			return pkgerrors.Newf(pkgerrors.CodeAuthorization, "status %s is not client-settable", s)
		}
		r.Base().Statuses.Remove(v)
	}
	r.Base().Statuses.Normalize()
	return nil
}

func clientSettable(v model.StatusValue) bool {
	switch v {
	case model.StatusClientHold,
		model.StatusClientUpdateProhibited,
		model.StatusClientDeleteProhibited,
		model.StatusClientTransferProhibited,
		model.StatusClientRenewProhibited:
		return true
	}
	return false
}
