package flows

import (
	"context"
	"strings"

	"eppd/internal/epp"
	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

type hostCreateFlow struct {
	baseFlow
}

func (hostCreateFlow) Name() string { return "HostCreate" }

func (hostCreateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	name := strings.ToLower(fc.Command.Target())
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "host create names no host")
	}
	if err := verifyDoesNotExist(ctx, fc, model.KindHost, name); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	super, err := findSuperordinate(ctx, fc, name)
	if err != nil {
		return nil, err
	}

	var addresses []string
	if fc.Command.Host != nil {
		addresses = fc.Command.Host.Addresses
	}
	h := &model.Host{
		ResourceBase: newResourceBase(ctx, fc, name, fc.Command.AuthInfo),
		Addresses:    addresses,
	}
	if super != nil {
		// In-registry hosts need glue and must be created by the domain's
		// sponsor so they move with the domain on transfer.
		if super.CurrentSponsorClientID != fc.ClientID() {
			return nil, pkgerrors.New(pkgerrors.CodeAuthorization, "superordinate domain is sponsored by another registrar")
		}
		if len(addresses) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeSyntax, "subordinate host requires at least one address")
		}
		h.SuperordinateDomain = super.ForeignKey
		h.LastSuperordinateChange = &now

		super.SubordinateHosts = append(super.SubordinateHosts, name)
		if err := fc.Tx.SaveResource(ctx, super); err != nil {
			return nil, err
		}
	}

	if err := fc.Tx.SaveResource(ctx, h); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryHostCreate, h, ""); err != nil {
		return nil, err
	}
	return epp.Success(&epp.CreateData{ID: name, CreationTime: h.CreationTime}), nil
}

// findSuperordinate resolves the closest enclosing domain of a host name, or
// nil for hosts external to this registry. The longest matching suffix wins
// so ns1.foo.example.tld lands under foo.example.tld when both exist.
func findSuperordinate(ctx context.Context, fc *FlowContext, hostName string) (*model.Domain, error) {
	labels := strings.Split(hostName, ".")
	now := requestcontext.Now(ctx)
	for i := 1; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")
		r, err := fc.Tx.LoadResource(ctx, model.KindDomain, candidate)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			return nil, err
		}
		d := model.ProjectAtTime(r, now).(*model.Domain)
		if d.Visible(now) {
			return d, nil
		}
	}
	return nil, nil
}

type hostInfoFlow struct {
	baseFlow
}

func (hostInfoFlow) Name() string { return "HostInfo" }

func (hostInfoFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindHost, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	h := r.(*model.Host)
	data := infoData(h)
	data.Addresses = h.Addresses
	return epp.Success(data), nil
}

type hostDeleteFlow struct {
	baseFlow
}

func (hostDeleteFlow) Name() string { return "HostDelete" }

func (hostDeleteFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindHost, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	h := r.(*model.Host)
	if err := verifySponsor(h, fc.ClientID()); err != nil {
		return nil, err
	}
	if err := verifyNoProhibitedStatus(h,
		model.StatusClientDeleteProhibited, model.StatusServerDeleteProhibited,
		model.StatusPendingDelete, model.StatusLinked); err != nil {
		return nil, err
	}

	if h.SuperordinateDomain != "" {
		if err := detachSubordinate(ctx, fc, h); err != nil {
			return nil, err
		}
	}
	h.DeletionTime = requestcontext.Now(ctx)
	touchUpdated(ctx, fc, h)
	if err := fc.Tx.SaveResource(ctx, h); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryHostDelete, h, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

// detachSubordinate drops the host from its superordinate's subordinate list.
func detachSubordinate(ctx context.Context, fc *FlowContext, h *model.Host) error {
	r, err := fc.Tx.LoadResource(ctx, model.KindDomain, h.SuperordinateDomain)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	d := r.(*model.Domain)
	kept := d.SubordinateHosts[:0]
	for _, name := range d.SubordinateHosts {
		if name != h.ForeignKey {
			kept = append(kept, name)
		}
	}
	d.SubordinateHosts = kept
	return fc.Tx.SaveResource(ctx, d)
}

type hostUpdateFlow struct {
	baseFlow
}

func (hostUpdateFlow) Name() string { return "HostUpdate" }

func (hostUpdateFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	r, err := loadResource(ctx, fc, model.KindHost, strings.ToLower(fc.Command.Target()))
	if err != nil {
		return nil, err
	}
	h := r.(*model.Host)
	if err := verifySponsor(h, fc.ClientID()); err != nil {
		return nil, err
	}
	up := fc.Command.Update
	if up == nil {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "update carries no changes")
	}
	if err := verifyUpdateAllowed(h, up); err != nil {
		return nil, err
	}
	if err := applyStatusChanges(h, up); err != nil {
		return nil, err
	}

	for _, addr := range up.AddAddresses {
		if !containsString(h.Addresses, addr) {
			h.Addresses = append(h.Addresses, addr)
		}
	}
	if len(up.RemoveAddresses) > 0 {
		kept := h.Addresses[:0]
		for _, addr := range h.Addresses {
			if !containsString(up.RemoveAddresses, addr) {
				kept = append(kept, addr)
			}
		}
		h.Addresses = kept
	}
	if h.SuperordinateDomain != "" && len(h.Addresses) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "subordinate host requires at least one address")
	}
	touchUpdated(ctx, fc, h)

	if err := fc.Tx.SaveResource(ctx, h); err != nil {
		return nil, err
	}
	if err := recordHistory(ctx, fc, model.HistoryHostUpdate, h, ""); err != nil {
		return nil, err
	}
	return epp.Success(nil), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
