package epp

import (
	"errors"

	pkgerrors "eppd/pkg/errors"
)

// ResultCode is a protocol result code (RFC 5730 result code space).
type ResultCode int

const (
	CodeSuccess                  ResultCode = 1000
	CodeSuccessActionPending     ResultCode = 1001
	CodeSuccessEndingSession     ResultCode = 1500
	CodeUnknownCommand           ResultCode = 2000
	CodeSyntaxError              ResultCode = 2001
	CodeUnimplementedCommand     ResultCode = 2101
	CodeAuthenticationFailed     ResultCode = 2200
	CodeAuthorizationFailed      ResultCode = 2201
	CodeObjectPendingTransfer    ResultCode = 2300
	CodeObjectNotPendingTransfer ResultCode = 2301
	CodeObjectExists             ResultCode = 2302
	CodeObjectDoesNotExist       ResultCode = 2303
	CodeStatusProhibitsOperation ResultCode = 2304
	CodeParameterPolicyError     ResultCode = 2306
	CodeCommandFailed            ResultCode = 2400
)

// Response is the outbound half of one command exchange; the wire encoder
// turns it into XML upstream of this core.
type Response struct {
	Code    ResultCode `json:"code"`
	Message string     `json:"message"`

	// ResData is the command-specific payload: info data, check results,
	// transfer state, poll message.
	ResData any `json:"resData,omitempty"`

	// Extensions carries response extensions such as fee data.
	Extensions []any `json:"extensions,omitempty"`
}

// Success builds a 1000 response with the given payload.
func Success(resData any) *Response {
	return &Response{Code: CodeSuccess, Message: "Command completed successfully", ResData: resData}
}

// SuccessPending builds a 1001 response for commands that leave an action
// pending, such as a transfer request.
func SuccessPending(resData any) *Response {
	return &Response{
		Code:    CodeSuccessActionPending,
		Message: "Command completed successfully; action pending",
		ResData: resData,
	}
}

// ErrorResponse translates a coded domain error into a protocol response.
// Validation-category errors map 1:1 to a result code; conflicts that
// exhausted their retries and unclassified failures surface as 2400.
func ErrorResponse(err error) *Response {
	var re *resultError
	if errors.As(err, &re) {
		return &Response{Code: re.code, Message: re.err.Error()}
	}
	return &Response{Code: codeFor(pkgerrors.CodeOf(err)), Message: err.Error()}
}

// WithResult pins the protocol result code for a domain error, for the cases
// where the error taxonomy is coarser than the code space (2300 vs. 2301 vs.
// 2306 are all preconditions).
func WithResult(err error, code ResultCode) error {
	if err == nil {
		return nil
	}
	return &resultError{err: err, code: code}
}

type resultError struct {
	err  error
	code ResultCode
}

func (e *resultError) Error() string { return e.err.Error() }
func (e *resultError) Unwrap() error { return e.err }

func codeFor(code pkgerrors.Code) ResultCode {
	switch code {
	case pkgerrors.CodeSyntax:
		return CodeSyntaxError
	case pkgerrors.CodeUnimplemented:
		return CodeUnimplementedCommand
	case pkgerrors.CodeAuthentication:
		return CodeAuthenticationFailed
	case pkgerrors.CodeAuthorization:
		return CodeAuthorizationFailed
	case pkgerrors.CodeNotFound:
		return CodeObjectDoesNotExist
	case pkgerrors.CodeAlreadyExists:
		return CodeObjectExists
	case pkgerrors.CodePrecondition:
		return CodeParameterPolicyError
	case pkgerrors.CodeConflict, pkgerrors.CodeFatalStorage, pkgerrors.CodeInternal:
		return CodeCommandFailed
	default:
		return CodeCommandFailed
	}
}
