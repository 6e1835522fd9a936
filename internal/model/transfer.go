package model

import "time"

// TransferStatus is the state of a resource's latest transfer.
type TransferStatus string

const (
	TransferNone            TransferStatus = "NONE"
	TransferPending         TransferStatus = "PENDING"
	TransferClientApproved  TransferStatus = "CLIENT_APPROVED"
	TransferClientRejected  TransferStatus = "CLIENT_REJECTED"
	TransferClientCancelled TransferStatus = "CLIENT_CANCELLED"
	TransferServerApproved  TransferStatus = "SERVER_APPROVED"
	TransferServerCancelled TransferStatus = "SERVER_CANCELLED"
)

// Terminal reports whether the status ends the transfer's lifecycle. A
// terminal transfer leaves the resource eligible for a future request.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferClientApproved, TransferClientRejected, TransferClientCancelled,
		TransferServerApproved, TransferServerCancelled:
		return true
	}
	return false
}

// Approved reports whether the transfer completed in the gaining registrar's
// favor.
func (s TransferStatus) Approved() bool {
	return s == TransferClientApproved || s == TransferServerApproved
}

// TransferData records the latest transfer on a resource. It is retained
// after the transfer resolves so transfer-query can report history.
type TransferData struct {
	GainingClientID string
	LosingClientID  string

	RequestTime time.Time
	// PendingExpirationTime is the instant of implicit server approval.
	// Zero once the transfer has resolved.
	PendingExpirationTime time.Time

	Status TransferStatus

	// ServerApproveEntities keys the speculative billing and notification
	// entities written at request time. They are either all deleted (reject,
	// cancel) or all left to activate (approval); never a partial set.
	ServerApproveEntities []EntityKey

	// ExtendedRegistrationYears is the registration extension bundled with a
	// domain transfer request; applied to the expiration on approval.
	ExtendedRegistrationYears int
}

// Clone returns a deep copy.
func (d *TransferData) Clone() *TransferData {
	if d == nil {
		return nil
	}
	out := *d
	out.ServerApproveEntities = append([]EntityKey(nil), d.ServerApproveEntities...)
	return &out
}
