// Package epp models decoded protocol commands and responses. The XML wire
// codec lives upstream; this package only sees the decoded shape.
package epp

// ResourceType is the object class a command targets.
type ResourceType string

const (
	ResourceDomain  ResourceType = "domain"
	ResourceContact ResourceType = "contact"
	ResourceHost    ResourceType = "host"
)

// Verb is the protocol operation.
type Verb string

const (
	VerbHello    Verb = "hello"
	VerbLogin    Verb = "login"
	VerbLogout   Verb = "logout"
	VerbPoll     Verb = "poll"
	VerbCheck    Verb = "check"
	VerbCreate   Verb = "create"
	VerbDelete   Verb = "delete"
	VerbInfo     Verb = "info"
	VerbRenew    Verb = "renew"
	VerbUpdate   Verb = "update"
	VerbTransfer Verb = "transfer"
)

// TransferOp is the sub-verb on a transfer command.
type TransferOp string

const (
	TransferRequest TransferOp = "request"
	TransferApprove TransferOp = "approve"
	TransferReject  TransferOp = "reject"
	TransferCancel  TransferOp = "cancel"
	TransferQuery   TransferOp = "query"
)

// PollOp is the sub-verb on a poll command.
type PollOp string

const (
	PollAck     PollOp = "ack"
	PollRequest PollOp = "req"
)

// ExtensionKind identifies a protocol extension attached to a command.
type ExtensionKind string

const (
	// ExtRestore is the grace-period restore extension on a domain update.
	ExtRestore ExtensionKind = "rgp_restore"
	// ExtAllocate marks a domain create that allocates a validated
	// application.
	ExtAllocate ExtensionKind = "allocate"
	// ExtLaunchCreate carries the launch phase on a create.
	ExtLaunchCreate ExtensionKind = "launch_create"
	// ExtLaunchCheck selects availability vs. claims semantics on a check.
	ExtLaunchCheck ExtensionKind = "launch_check"
	// ExtApplicationID targets an existing launch application.
	ExtApplicationID ExtensionKind = "application_id"
	// ExtFee requests fee information on checks and transforms.
	ExtFee ExtensionKind = "fee"
)

// Launch phases carried by launch extensions.
const (
	PhaseSunrise  = "sunrise"
	PhaseLandrush = "landrush"
	PhaseClaims   = "claims"
	PhaseOpen     = "open"
)

// Restore, create, and check sub-fields of extensions.
const (
	RestoreOpRequest = "request"
	RestoreOpReport  = "report"

	LaunchCreateApplication  = "application"
	LaunchCreateRegistration = "registration"

	LaunchCheckAvailability = "avail"
	LaunchCheckClaims       = "claims"
)

// Extension is one active protocol extension on a command. Only the fields
// relevant to its kind are set.
type Extension struct {
	Kind ExtensionKind `json:"kind"`

	// RestoreOp is "request" or "report" for ExtRestore.
	RestoreOp string `json:"restoreOp,omitempty"`
	// Phase is the launch phase for launch extensions.
	Phase string `json:"phase,omitempty"`
	// CheckType is "avail" or "claims" for ExtLaunchCheck.
	CheckType string `json:"checkType,omitempty"`
	// CreateType is "application" or "registration" for ExtLaunchCreate.
	CreateType string `json:"createType,omitempty"`
	// ApplicationID targets an application for ExtApplicationID.
	ApplicationID string `json:"applicationId,omitempty"`
}

// Command is a decoded protocol command as handed over by the wire decoder.
type Command struct {
	// Hello is set for the keep-alive greeting, which has no inner command.
	Hello bool `json:"hello,omitempty"`

	Verb     Verb         `json:"verb,omitempty"`
	Resource ResourceType `json:"resource,omitempty"`

	TransferOp TransferOp `json:"transferOp,omitempty"`
	PollOp     PollOp     `json:"pollOp,omitempty"`

	// Targets holds the foreign keys the command names: one for single
	// resource commands, up to the check limit for checks.
	Targets []string `json:"targets,omitempty"`

	// MessageID acknowledges a poll message.
	MessageID string `json:"messageId,omitempty"`

	// AuthInfo is the shared secret presented for transfer requests and
	// info on foreign resources.
	AuthInfo string `json:"authInfo,omitempty"`

	// PeriodYears is the registration period for create, renew, and the
	// extension bundled with a transfer request.
	PeriodYears int `json:"periodYears,omitempty"`

	// CurrentExpiration guards renew against concurrent renewal.
	CurrentExpiration string `json:"currentExpiration,omitempty"`

	Login   *LoginFields   `json:"login,omitempty"`
	Domain  *DomainFields  `json:"domain,omitempty"`
	Contact *ContactFields `json:"contact,omitempty"`
	Host    *HostFields    `json:"host,omitempty"`
	Update  *UpdateFields  `json:"update,omitempty"`

	Extensions []Extension `json:"extensions,omitempty"`
}

// LoginFields carries credentials for a login command.
type LoginFields struct {
	ClientID string `json:"clientId"`
	Password string `json:"password"`
}

// DomainFields carries the payload of domain create/allocate commands.
type DomainFields struct {
	RegistrantContactID string            `json:"registrant,omitempty"`
	Contacts            map[string]string `json:"contacts,omitempty"`
	Nameservers         []string          `json:"nameservers,omitempty"`
}

// ContactFields carries the payload of contact create commands.
type ContactFields struct {
	Name  string `json:"name,omitempty"`
	Org   string `json:"org,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// HostFields carries the payload of host create commands.
type HostFields struct {
	Addresses []string `json:"addresses,omitempty"`
}

// UpdateFields carries the add/remove/change payload of update commands.
type UpdateFields struct {
	AddStatuses    []string `json:"addStatuses,omitempty"`
	RemoveStatuses []string `json:"removeStatuses,omitempty"`

	AddNameservers    []string `json:"addNameservers,omitempty"`
	RemoveNameservers []string `json:"removeNameservers,omitempty"`

	NewRegistrant string `json:"newRegistrant,omitempty"`
	NewAuthInfo   string `json:"newAuthInfo,omitempty"`

	AddAddresses    []string `json:"addAddresses,omitempty"`
	RemoveAddresses []string `json:"removeAddresses,omitempty"`

	NewEmail string `json:"newEmail,omitempty"`
}

// SingleExtension returns the first extension of the given kind, if present.
func (c *Command) SingleExtension(kind ExtensionKind) (*Extension, bool) {
	for i := range c.Extensions {
		if c.Extensions[i].Kind == kind {
			return &c.Extensions[i], true
		}
	}
	return nil, false
}

// Target returns the single foreign key a command names, or "".
func (c *Command) Target() string {
	if len(c.Targets) == 0 {
		return ""
	}
	return c.Targets[0]
}
