package model

import "time"

// HistoryType identifies the operation that produced a history entry.
type HistoryType string

const (
	HistoryContactCreate          HistoryType = "CONTACT_CREATE"
	HistoryContactDelete          HistoryType = "CONTACT_DELETE"
	HistoryContactUpdate          HistoryType = "CONTACT_UPDATE"
	HistoryContactTransferRequest HistoryType = "CONTACT_TRANSFER_REQUEST"
	HistoryContactTransferApprove HistoryType = "CONTACT_TRANSFER_APPROVE"
	HistoryContactTransferReject  HistoryType = "CONTACT_TRANSFER_REJECT"
	HistoryContactTransferCancel  HistoryType = "CONTACT_TRANSFER_CANCEL"
	HistoryDomainCreate           HistoryType = "DOMAIN_CREATE"
	HistoryDomainAllocate         HistoryType = "DOMAIN_ALLOCATE"
	HistoryDomainDelete           HistoryType = "DOMAIN_DELETE"
	HistoryDomainRenew            HistoryType = "DOMAIN_RENEW"
	HistoryDomainRestore          HistoryType = "DOMAIN_RESTORE"
	HistoryDomainUpdate           HistoryType = "DOMAIN_UPDATE"
	HistoryDomainTransferRequest  HistoryType = "DOMAIN_TRANSFER_REQUEST"
	HistoryDomainTransferApprove  HistoryType = "DOMAIN_TRANSFER_APPROVE"
	HistoryDomainTransferReject   HistoryType = "DOMAIN_TRANSFER_REJECT"
	HistoryDomainTransferCancel   HistoryType = "DOMAIN_TRANSFER_CANCEL"
	HistoryHostCreate             HistoryType = "HOST_CREATE"
	HistoryHostDelete             HistoryType = "HOST_DELETE"
	HistoryHostUpdate             HistoryType = "HOST_UPDATE"
	HistoryApplicationCreate      HistoryType = "APPLICATION_CREATE"
	HistoryApplicationDelete      HistoryType = "APPLICATION_DELETE"
	HistoryApplicationUpdate      HistoryType = "APPLICATION_UPDATE"
)

// HistoryEntry is the append-only audit record for one mutation. Entries are
// never modified after creation; downstream consumers (escrow, reporting,
// notification fanout) read them asynchronously.
type HistoryEntry struct {
	ID             string
	Type           HistoryType
	ResourceRepoID string
	ResourceKind   Kind
	TargetID       string
	ClientID       string
	// OtherClientID is the counterparty on transfer operations.
	OtherClientID    string
	ModificationTime time.Time
}

func (h *HistoryEntry) Key() EntityKey { return EntityKey{Kind: EntityHistoryEntry, ID: h.ID} }
func (h *HistoryEntry) CloneEntity() Entity {
	out := *h
	return &out
}
