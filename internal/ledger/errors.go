package ledger

import "net/http"

// Kind is the closed set of ledger failure categories.
type Kind string

const (
	KindUnavailable         Kind = "LEDGER_UNAVAILABLE"
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindInvalidArgument     Kind = "INVALID_ARGUMENT"
	KindContractRejected    Kind = "CONTRACT_REJECTED"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindSequenceConflict    Kind = "SEQUENCE_CONFLICT"
	KindGasEstimationFailed Kind = "GAS_ESTIMATION_FAILED"
	KindUnknown             Kind = "UNKNOWN"
)

// Error is a classified ledger failure. StatusCode is the HTTP status the
// failure should surface with; Message is safe to show to callers.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	// Reason is the revert reason extracted from the node's error, if any.
	Reason string
	cause  error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the raw ledger error.
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: status, Message: message, cause: cause}
}

func unavailable(message string, cause error) *Error {
	return newError(KindUnavailable, http.StatusServiceUnavailable, message, cause)
}
