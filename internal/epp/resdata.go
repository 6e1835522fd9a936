package epp

import "time"

// CheckResult is one entry of a check response.
type CheckResult struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	// Reason explains unavailability ("in use", "reserved").
	Reason string `json:"reason,omitempty"`
	// ClaimKey is set on claims checks for labels with trademark claims.
	ClaimKey string `json:"claimKey,omitempty"`
}

// InfoData is the generic payload of info responses.
type InfoData struct {
	ID                   string        `json:"id"`
	RepoID               string        `json:"repoId"`
	Statuses             []string      `json:"statuses"`
	SponsorClientID      string        `json:"sponsorClientId"`
	CreationClientID     string        `json:"creationClientId,omitempty"`
	LastUpdateClientID   string        `json:"lastUpdateClientId,omitempty"`
	CreationTime         time.Time     `json:"creationTime"`
	LastUpdateTime       *time.Time    `json:"lastUpdateTime,omitempty"`
	LastTransferTime     *time.Time    `json:"lastTransferTime,omitempty"`
	ExpirationTime       *time.Time    `json:"expirationTime,omitempty"`
	Nameservers          []string      `json:"nameservers,omitempty"`
	SubordinateHosts     []string      `json:"subordinateHosts,omitempty"`
	Registrant           string        `json:"registrant,omitempty"`
	Addresses            []string      `json:"addresses,omitempty"`
	Email                string        `json:"email,omitempty"`
	ApplicationID        string        `json:"applicationId,omitempty"`
	ApplicationStatus    string        `json:"applicationStatus,omitempty"`
	LaunchPhase          string        `json:"launchPhase,omitempty"`
	PendingTransferState *TransferInfo `json:"pendingTransfer,omitempty"`
}

// TransferInfo reports the state of a resource's latest transfer.
type TransferInfo struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	GainingClient  string     `json:"gainingClient"`
	LosingClient   string     `json:"losingClient"`
	RequestTime    time.Time  `json:"requestTime"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
}

// CreateData is the payload of create and allocate responses.
type CreateData struct {
	ID             string     `json:"id"`
	CreationTime   time.Time  `json:"creationTime"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	ApplicationID  string     `json:"applicationId,omitempty"`
}

// RenewData is the payload of renew responses.
type RenewData struct {
	ID             string    `json:"id"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// PollData is the payload of poll responses.
type PollData struct {
	MessageID  string     `json:"messageId,omitempty"`
	QueueCount int        `json:"queueCount"`
	Message    string     `json:"message,omitempty"`
	EventTime  *time.Time `json:"eventTime,omitempty"`
}

// HelloData advertises the server on a hello exchange.
type HelloData struct {
	ServerID   string    `json:"serverId"`
	ServerTime time.Time `json:"serverTime"`
}

// LoginData returns the session token on a successful login.
type LoginData struct {
	SessionToken string `json:"sessionToken"`
}
