package model

import "sort"

// StatusValue is a protocol status flag on a resource.
type StatusValue string

const (
	StatusOK                        StatusValue = "ok"
	StatusLinked                    StatusValue = "linked"
	StatusPendingCreate             StatusValue = "pendingCreate"
	StatusPendingDelete             StatusValue = "pendingDelete"
	StatusPendingTransfer           StatusValue = "pendingTransfer"
	StatusClientHold                StatusValue = "clientHold"
	StatusServerHold                StatusValue = "serverHold"
	StatusClientUpdateProhibited    StatusValue = "clientUpdateProhibited"
	StatusServerUpdateProhibited    StatusValue = "serverUpdateProhibited"
	StatusClientDeleteProhibited    StatusValue = "clientDeleteProhibited"
	StatusServerDeleteProhibited    StatusValue = "serverDeleteProhibited"
	StatusClientTransferProhibited  StatusValue = "clientTransferProhibited"
	StatusServerTransferProhibited  StatusValue = "serverTransferProhibited"
	StatusClientRenewProhibited     StatusValue = "clientRenewProhibited"
	StatusServerRenewProhibited     StatusValue = "serverRenewProhibited"
	StatusPendingApplicationOutcome StatusValue = "pendingApplicationOutcome"
)

// StatusSet is a set of status values.
type StatusSet map[StatusValue]struct{}

// NewStatusSet builds a set from the given values.
func NewStatusSet(values ...StatusValue) StatusSet {
	s := make(StatusSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s StatusSet) Has(v StatusValue) bool {
	_, ok := s[v]
	return ok
}

func (s StatusSet) Add(values ...StatusValue) {
	for _, v := range values {
		s[v] = struct{}{}
	}
}

func (s StatusSet) Remove(values ...StatusValue) {
	for _, v := range values {
		delete(s, v)
	}
}

// Clone returns an independent copy. Clone of a nil set is an empty set.
func (s StatusSet) Clone() StatusSet {
	out := make(StatusSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// Sorted returns the values in lexical order for stable responses and logs.
func (s StatusSet) Sorted() []StatusValue {
	out := make([]StatusValue, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize enforces the implicit OK rule: OK is present iff no status other
// than LINKED is set. Every mutation path calls this before persisting.
func (s StatusSet) Normalize() {
	delete(s, StatusOK)
	for v := range s {
		if v != StatusLinked {
			return
		}
	}
	s[StatusOK] = struct{}{}
}
