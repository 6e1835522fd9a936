package model

import "time"

// Host is a nameserver. A host whose name falls under a domain in this
// registry is subordinate to that domain and follows it through transfers.
type Host struct {
	ResourceBase

	Addresses []string

	// SuperordinateDomain is the foreign key of the domain this host sits
	// under, or "" for an external host.
	SuperordinateDomain string

	// LastSuperordinateChange is when the host last moved between domains.
	// Used to decide whether a superordinate's transfer counts for this host.
	LastSuperordinateChange *time.Time
}

func (h *Host) Base() *ResourceBase { return &h.ResourceBase }
func (h *Host) ResourceKind() Kind  { return KindHost }

func (h *Host) Clone() Resource {
	out := *h
	out.ResourceBase = h.ResourceBase.cloneBase()
	out.Addresses = append([]string(nil), h.Addresses...)
	if h.LastSuperordinateChange != nil {
		t := *h.LastSuperordinateChange
		out.LastSuperordinateChange = &t
	}
	return &out
}

func (h *Host) isCheckable() {}
func (h *Host) isDeletable() {}
func (h *Host) isUpdatable() {}
