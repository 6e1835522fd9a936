package model

import "time"

// EntityKind discriminates non-resource entities in the store.
type EntityKind string

const (
	EntityBillingEvent EntityKind = "billing_event"
	EntityRecurrence   EntityKind = "recurrence"
	EntityPollMessage  EntityKind = "poll_message"
	EntityHistoryEntry EntityKind = "history_entry"
)

// EntityKey uniquely identifies a stored side-effect entity.
type EntityKey struct {
	Kind EntityKind
	ID   string
}

// Entity is any non-resource record a flow writes alongside a resource:
// history entries, billing events, poll messages, recurrences.
type Entity interface {
	Key() EntityKey
	CloneEntity() Entity
}

// BillingReason categorizes a billing event.
type BillingReason string

const (
	BillingCreate    BillingReason = "create"
	BillingRenew     BillingReason = "renew"
	BillingTransfer  BillingReason = "transfer"
	BillingRestore   BillingReason = "restore"
	BillingAutorenew BillingReason = "autorenew"
)

// BillingEvent is a one-time charge. A speculative event carries a future
// BillingTime and only takes effect if still present when that instant passes.
type BillingEvent struct {
	ID          string
	RegistrarID string
	// TargetID is the foreign key of the resource the charge is for.
	TargetID    string
	Reason      BillingReason
	PeriodYears int
	CostCents   int64
	Currency    string
	// EventTime is when the billable action logically happened.
	EventTime time.Time
	// BillingTime is when the charge becomes billable; for speculative
	// transfer events this is the pending-transfer expiration.
	BillingTime time.Time
}

func (e *BillingEvent) Key() EntityKey { return EntityKey{Kind: EntityBillingEvent, ID: e.ID} }
func (e *BillingEvent) CloneEntity() Entity {
	out := *e
	return &out
}

// Recurrence is an open-ended autorenew billing recurrence for a domain.
// The batch biller expands it into one-time events as each cycle passes.
type Recurrence struct {
	ID           string
	DomainRepoID string
	TargetID     string
	RegistrarID  string
	Reason       BillingReason
	// EventTime is the first recurrence instant, the domain's registration
	// expiration at creation.
	EventTime time.Time
	// EndTime is EndOfTime for an open recurrence. A pending transfer
	// truncates it to the transfer expiration so autorenew and transfer
	// cannot both bill for the same interval.
	EndTime time.Time
}

func (r *Recurrence) Key() EntityKey { return EntityKey{Kind: EntityRecurrence, ID: r.ID} }
func (r *Recurrence) CloneEntity() Entity {
	out := *r
	return &out
}

// PollMessage is a queued notification for one registrar, visible once its
// event time passes. Speculative transfer messages carry the expiration time.
type PollMessage struct {
	ID          string
	RegistrarID string
	EventTime   time.Time
	Message     string
	// TargetID is the foreign key of the resource the message concerns.
	TargetID string
}

func (m *PollMessage) Key() EntityKey { return EntityKey{Kind: EntityPollMessage, ID: m.ID} }
func (m *PollMessage) CloneEntity() Entity {
	out := *m
	return &out
}
