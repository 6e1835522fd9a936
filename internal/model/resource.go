// Package model holds the registry's durable resource types and the pure
// projection logic that computes a resource's effective state at an instant.
package model

import "time"

// EndOfTime is the deletion-time sentinel for active resources. Storing a far
// future instant instead of NULL lets visibility be a single comparison:
// a resource exists at t iff t < DeletionTime.
var EndOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Kind identifies a provisionable resource type.
type Kind string

const (
	KindDomain      Kind = "domain"
	KindContact     Kind = "contact"
	KindHost        Kind = "host"
	KindApplication Kind = "application"
)

// ResourceBase carries the fields shared by every provisionable resource.
// Concrete resources embed it by value; there is no builder hierarchy, just
// plain structs plus capability interfaces.
type ResourceBase struct {
	// RepoID is the registry-unique identifier for this resource.
	RepoID string
	// ForeignKey is the protocol-visible identifier: fully qualified domain
	// name, contact id, or host name.
	ForeignKey string

	CreationClientID       string
	CurrentSponsorClientID string
	LastEPPUpdateClientID  string

	CreationTime      time.Time
	LastEPPUpdateTime *time.Time
	LastTransferTime  *time.Time

	// DeletionTime is EndOfTime while the resource is active. Soft deletion
	// moves it into the (possibly near) future; the resource drops out of
	// visibility once the clock passes it.
	DeletionTime time.Time

	Statuses StatusSet

	// AuthInfo is the shared secret a gaining registrar presents to prove it
	// may act on the resource (most notably to request a transfer).
	AuthInfo string

	// TransferData is nil when the resource has never been transferred and
	// holds the latest transfer record otherwise.
	TransferData *TransferData
}

// Visible reports whether the resource exists at the given instant.
func (b *ResourceBase) Visible(at time.Time) bool {
	return at.Before(b.DeletionTime)
}

// PendingTransfer reports whether a non-terminal transfer is recorded.
func (b *ResourceBase) PendingTransfer() bool {
	return b.TransferData != nil && b.TransferData.Status == TransferPending
}

func (b *ResourceBase) cloneBase() ResourceBase {
	out := *b
	out.Statuses = b.Statuses.Clone()
	if b.TransferData != nil {
		out.TransferData = b.TransferData.Clone()
	}
	if b.LastEPPUpdateTime != nil {
		t := *b.LastEPPUpdateTime
		out.LastEPPUpdateTime = &t
	}
	if b.LastTransferTime != nil {
		t := *b.LastTransferTime
		out.LastTransferTime = &t
	}
	return out
}

// Resource is implemented by every provisionable resource type.
type Resource interface {
	Base() *ResourceBase
	ResourceKind() Kind
	// Clone returns a deep copy; projections operate on copies so the stored
	// record is never mutated in place.
	Clone() Resource
}

// Capability interfaces. Flows are registered against these rather than
// against concrete types, so a handler that only needs "something checkable"
// stays generic across domains, contacts, and hosts.
type (
	// Checkable resources support bulk availability checks.
	Checkable interface {
		Resource
		isCheckable()
	}
	// Transferable resources support the transfer sub-verbs. Hosts are not
	// directly transferable; they ride along with their superordinate domain.
	Transferable interface {
		Resource
		isTransferable()
	}
	// Deletable resources support explicit deletion.
	Deletable interface {
		Resource
		isDeletable()
	}
	// Updatable resources support status and attribute updates.
	Updatable interface {
		Resource
		isUpdatable()
	}
)
