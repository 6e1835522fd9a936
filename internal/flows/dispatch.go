package flows

import (
	"eppd/internal/epp"
	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
)

// matchResult is the outcome of one dispatch rule.
type matchResult int

const (
	// noMatch lets dispatch fall through to the next rule.
	noMatch matchResult = iota
	// matched resolves the command to the returned flow.
	matched
	// matchedUnimplemented claims the command shape but reports it as
	// unimplemented, short-circuiting later rules. A later rule must never
	// get a chance to misroute a command an earlier rule recognized.
	matchedUnimplemented
)

type dispatchRule struct {
	name  string
	match func(cmd *epp.Command) (Flow, matchResult)
}

// dispatchRules resolves commands in priority order. Rules earlier in the
// table see the command first; the first non-noMatch outcome wins.
var dispatchRules = []dispatchRule{
	{name: "hello", match: matchHello},
	{name: "session", match: matchSession},
	{name: "poll", match: matchPoll},
	{name: "domain_restore", match: matchDomainRestore},
	{name: "allocate", match: matchAllocate},
	{name: "application", match: matchApplication},
	{name: "domain_check", match: matchDomainCheck},
	{name: "resource_crud", match: matchResourceCRUD},
	{name: "transfer", match: matchTransfer},
}

// Dispatch resolves a decoded command to its flow. Resolution is a pure
// function of the command: the same command always yields the same flow.
func Dispatch(cmd *epp.Command) (Flow, error) {
	if !cmd.Hello && cmd.Verb == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "request carries no command")
	}
	for _, rule := range dispatchRules {
		flow, res := rule.match(cmd)
		switch res {
		case matched:
			return flow, nil
		case matchedUnimplemented:
			return nil, pkgerrors.Newf(pkgerrors.CodeUnimplemented, "unimplemented command form in %s", rule.name)
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeUnimplemented, "no flow found for command")
}

func matchHello(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Hello {
		return helloFlow{}, matched
	}
	return nil, noMatch
}

func matchSession(cmd *epp.Command) (Flow, matchResult) {
	switch cmd.Verb {
	case epp.VerbLogin:
		return loginFlow{}, matched
	case epp.VerbLogout:
		return logoutFlow{}, matched
	}
	return nil, noMatch
}

func matchPoll(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Verb != epp.VerbPoll {
		return nil, noMatch
	}
	switch cmd.PollOp {
	case epp.PollAck:
		return pollAckFlow{}, matched
	case epp.PollRequest:
		return pollRequestFlow{}, matched
	}
	return nil, matchedUnimplemented
}

// matchDomainRestore claims every domain update carrying a restore extension.
// Restore reports are recognized but not offered.
func matchDomainRestore(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Resource != epp.ResourceDomain || cmd.Verb != epp.VerbUpdate {
		return nil, noMatch
	}
	ext, ok := cmd.SingleExtension(epp.ExtRestore)
	if !ok {
		return nil, noMatch
	}
	if ext.RestoreOp == epp.RestoreOpRequest {
		return domainRestoreFlow{}, matched
	}
	return nil, matchedUnimplemented
}

func matchAllocate(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Resource != epp.ResourceDomain || cmd.Verb != epp.VerbCreate {
		return nil, noMatch
	}
	if _, ok := cmd.SingleExtension(epp.ExtAllocate); ok {
		return domainAllocateFlow{}, matched
	}
	return nil, noMatch
}

// matchApplication routes domain commands that address launch applications
// rather than live registrations.
func matchApplication(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Resource != epp.ResourceDomain {
		return nil, noMatch
	}
	if _, ok := cmd.SingleExtension(epp.ExtApplicationID); ok {
		switch cmd.Verb {
		case epp.VerbDelete:
			return applicationDeleteFlow{}, matched
		case epp.VerbInfo:
			return applicationInfoFlow{}, matched
		case epp.VerbUpdate:
			return applicationUpdateFlow{}, matched
		}
		return nil, matchedUnimplemented
	}
	if cmd.Verb != epp.VerbCreate {
		return nil, noMatch
	}
	if ext, ok := cmd.SingleExtension(epp.ExtLaunchCreate); ok {
		if ext.CreateType == epp.LaunchCreateApplication {
			return applicationCreateFlow{}, matched
		}
		if ext.CreateType == "" && (ext.Phase == epp.PhaseSunrise || ext.Phase == epp.PhaseLandrush) {
			return applicationCreateFlow{}, matched
		}
	}
	return nil, noMatch
}

// matchDomainCheck disambiguates availability checks from claims checks. A
// claims check outside the claims phase matches nothing here and, since the
// generic table below carries no domain check, ends up unimplemented.
func matchDomainCheck(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Resource != epp.ResourceDomain || cmd.Verb != epp.VerbCheck {
		return nil, noMatch
	}
	ext, ok := cmd.SingleExtension(epp.ExtLaunchCheck)
	if !ok || ext.CheckType == epp.LaunchCheckAvailability || ext.CheckType == "" {
		return domainCheckFlow{}, matched
	}
	if ext.CheckType == epp.LaunchCheckClaims && ext.Phase == epp.PhaseClaims {
		return claimsCheckFlow{}, matched
	}
	return nil, noMatch
}

func matchResourceCRUD(cmd *epp.Command) (Flow, matchResult) {
	switch cmd.Resource {
	case epp.ResourceContact:
		switch cmd.Verb {
		case epp.VerbCheck:
			return resourceCheckFlow{kind: model.KindContact}, matched
		case epp.VerbCreate:
			return contactCreateFlow{}, matched
		case epp.VerbDelete:
			return contactDeleteFlow{}, matched
		case epp.VerbInfo:
			return contactInfoFlow{}, matched
		case epp.VerbUpdate:
			return contactUpdateFlow{}, matched
		}
	case epp.ResourceDomain:
		switch cmd.Verb {
		case epp.VerbCreate:
			return domainCreateFlow{}, matched
		case epp.VerbDelete:
			return domainDeleteFlow{}, matched
		case epp.VerbInfo:
			return domainInfoFlow{}, matched
		case epp.VerbRenew:
			return domainRenewFlow{}, matched
		case epp.VerbUpdate:
			return domainUpdateFlow{}, matched
		}
	case epp.ResourceHost:
		switch cmd.Verb {
		case epp.VerbCheck:
			return resourceCheckFlow{kind: model.KindHost}, matched
		case epp.VerbCreate:
			return hostCreateFlow{}, matched
		case epp.VerbDelete:
			return hostDeleteFlow{}, matched
		case epp.VerbInfo:
			return hostInfoFlow{}, matched
		case epp.VerbUpdate:
			return hostUpdateFlow{}, matched
		}
	}
	return nil, noMatch
}

// matchTransfer routes the transfer sub-verbs for transferable kinds. Hosts
// are not transferable and fall through to the terminal unimplemented error.
func matchTransfer(cmd *epp.Command) (Flow, matchResult) {
	if cmd.Verb != epp.VerbTransfer {
		return nil, noMatch
	}
	var kind model.Kind
	switch cmd.Resource {
	case epp.ResourceDomain:
		kind = model.KindDomain
	case epp.ResourceContact:
		kind = model.KindContact
	default:
		return nil, noMatch
	}
	switch cmd.TransferOp {
	case epp.TransferRequest, epp.TransferApprove, epp.TransferReject,
		epp.TransferCancel, epp.TransferQuery:
		return transferFlow{kind: kind, op: cmd.TransferOp}, matched
	}
	return nil, matchedUnimplemented
}
