package model

import "time"

// ProjectAtTime computes a resource's effective state as of an instant. It is
// a pure function over a snapshot: the input is never mutated, the result is
// idempotent (projecting a projection is a no-op), and monotonic (an already
// applied transition is never reversed).
//
// The only implicit transition today is server approval of an expired pending
// transfer. The stored record is NOT rewritten here; it catches up lazily the
// next time a flow loads and re-saves the resource, which avoids mass
// background rewrites at expiration time.
func ProjectAtTime(r Resource, asOf time.Time) Resource {
	out := r.Clone()
	projectPendingTransfer(out, asOf)
	return out
}

func projectPendingTransfer(r Resource, asOf time.Time) {
	b := r.Base()
	td := b.TransferData
	if td == nil || td.Status != TransferPending || asOf.Before(td.PendingExpirationTime) {
		return
	}
	expiration := td.PendingExpirationTime

	td.Status = TransferServerApproved
	// The speculative entities are live now, not speculative; drop the keys
	// so a later explicit action can never delete activated entities.
	td.ServerApproveEntities = nil
	td.PendingExpirationTime = time.Time{}

	b.CurrentSponsorClientID = td.GainingClientID
	t := expiration
	b.LastTransferTime = &t
	b.Statuses.Remove(StatusPendingTransfer)
	b.Statuses.Normalize()

	if d, ok := r.(*Domain); ok && td.ExtendedRegistrationYears > 0 {
		d.RegistrationExpirationTime =
			d.RegistrationExpirationTime.AddDate(td.ExtendedRegistrationYears, 0, 0)
		td.ExtendedRegistrationYears = 0
	}
}

// ProjectHostAtTime projects a host including state it inherits from its
// superordinate domain. Pass nil for external hosts.
//
// Two inherited effects:
//
//  1. If the superordinate's pending transfer reached expiration, the host
//     moved with it: it reports the same approved transfer, the gaining
//     sponsor, and the expiration as its last transfer time, provided it was
//     already subordinate when the transfer completed.
//
//  2. The projected last transfer time is the later of the host's own and the
//     superordinate's, where the superordinate's only counts if its transfer
//     happened while the host was subordinate (after the host's last move).
func ProjectHostAtTime(h *Host, superordinate *Domain, asOf time.Time) *Host {
	out := ProjectAtTime(h, asOf).(*Host)
	if superordinate == nil {
		return out
	}

	if td := superordinate.TransferData; td != nil &&
		td.Status == TransferPending &&
		!asOf.Before(td.PendingExpirationTime) &&
		hostSubordinateAt(out, td.PendingExpirationTime) {
		projected := ProjectAtTime(superordinate, asOf).(*Domain)
		out.TransferData = projected.TransferData.Clone()
		out.CurrentSponsorClientID = projected.CurrentSponsorClientID
		expiration := td.PendingExpirationTime
		out.LastTransferTime = &expiration
		return out
	}

	domainTime := superordinate.LastTransferTime
	if domainTime != nil && out.LastSuperordinateChange != nil &&
		!out.LastSuperordinateChange.Before(*domainTime) {
		// The host moved under this domain after (or at) the domain's
		// transfer, so that transfer never applied to it.
		domainTime = nil
	}
	out.LastTransferTime = laterTime(out.LastTransferTime, domainTime)
	return out
}

func hostSubordinateAt(h *Host, at time.Time) bool {
	return h.LastSuperordinateChange == nil || !h.LastSuperordinateChange.After(at)
}

func laterTime(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
