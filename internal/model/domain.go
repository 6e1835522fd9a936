package model

import "time"

// Domain is a registered domain name.
type Domain struct {
	ResourceBase

	// TLD is the top-level domain this name registered under.
	TLD string

	RegistrantContactID string
	// Contacts maps contact type (admin, tech, billing) to contact id.
	Contacts    map[string]string
	Nameservers []string

	// RegistrationExpirationTime is when the current registration period
	// ends; autorenew extends it via the batch biller.
	RegistrationExpirationTime time.Time

	// AutorenewRecurrenceID keys the open autorenew Recurrence entity.
	AutorenewRecurrenceID string

	// SubordinateHosts lists host names under this domain.
	SubordinateHosts []string
}

func (d *Domain) Base() *ResourceBase { return &d.ResourceBase }
func (d *Domain) ResourceKind() Kind  { return KindDomain }

func (d *Domain) Clone() Resource {
	out := *d
	out.ResourceBase = d.ResourceBase.cloneBase()
	out.Nameservers = append([]string(nil), d.Nameservers...)
	out.SubordinateHosts = append([]string(nil), d.SubordinateHosts...)
	if d.Contacts != nil {
		out.Contacts = make(map[string]string, len(d.Contacts))
		for k, v := range d.Contacts {
			out.Contacts[k] = v
		}
	}
	return &out
}

func (d *Domain) isCheckable()    {}
func (d *Domain) isTransferable() {}
func (d *Domain) isDeletable()    {}
func (d *Domain) isUpdatable()    {}

// ApplicationStatus is the launch-phase application lifecycle state.
type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationValidated ApplicationStatus = "validated"
	ApplicationAllocated ApplicationStatus = "allocated"
	ApplicationRejected  ApplicationStatus = "rejected"
)

// DomainApplication is a launch-phase application for a domain name. Multiple
// applications may exist for the same label during sunrise or landrush; at
// most one is ever allocated.
type DomainApplication struct {
	ResourceBase

	ApplicationID string
	TLD           string
	// LaunchPhase is the phase the application was filed in.
	LaunchPhase string
	Status      ApplicationStatus

	RegistrantContactID string
	Contacts            map[string]string
	Nameservers         []string
	PeriodYears         int
}

func (a *DomainApplication) Base() *ResourceBase { return &a.ResourceBase }
func (a *DomainApplication) ResourceKind() Kind  { return KindApplication }

func (a *DomainApplication) Clone() Resource {
	out := *a
	out.ResourceBase = a.ResourceBase.cloneBase()
	out.Nameservers = append([]string(nil), a.Nameservers...)
	if a.Contacts != nil {
		out.Contacts = make(map[string]string, len(a.Contacts))
		for k, v := range a.Contacts {
			out.Contacts[k] = v
		}
	}
	return &out
}

func (a *DomainApplication) isDeletable() {}
func (a *DomainApplication) isUpdatable() {}
