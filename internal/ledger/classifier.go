package ledger

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// The node reports rejected transactions only as text, e.g.
//
//	VM Exception while processing transaction: revert Shipment not found
//	execution reverted: Only shipment participants can update
var revertReasonPattern = regexp.MustCompile(`revert(?:ed)?:? (.+?)(?:"|$)`)

const (
	revertMarker         = "revert"
	defaultRevertReason  = "transaction reverted by contract"
	unboundMessage       = "Smart contract not initialized. Please check the ledger contract address configuration"
	timeoutMessage       = "Ledger request timed out"
	canceledMessage      = "Ledger request canceled"
	breakerOpenMessage   = "Ledger node temporarily unavailable"
	readNotFoundMessage  = "Shipment not found with the given tracking ID"
	writeNotFoundMessage = "Shipment not found on blockchain. Please check the tracking ID."
)

// Classify maps a raw ledger error onto the closed Kind taxonomy. Rules are
// evaluated in order and the first match wins. An already classified *Error
// is returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, ErrUnavailable):
		return unavailable(unboundMessage, err)
	case errors.Is(err, context.DeadlineExceeded):
		return unavailable(timeoutMessage, err)
	case errors.Is(err, context.Canceled):
		return unavailable(canceledMessage, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return unavailable(breakerOpenMessage, err)
	}

	text := err.Error()

	switch {
	case strings.Contains(text, revertMarker):
		return classifyRevert(text, err)
	case strings.Contains(text, "insufficient funds"):
		return newError(KindInsufficientFunds, http.StatusBadRequest,
			"Insufficient funds to complete the transaction.", err)
	case strings.Contains(text, "nonce"):
		return newError(KindSequenceConflict, http.StatusBadRequest,
			"Transaction nonce error. Please try again.", err)
	case strings.Contains(text, "gas"):
		return newError(KindGasEstimationFailed, http.StatusBadRequest,
			"Gas estimation failed. The transaction may fail.", err)
	default:
		return newError(KindUnknown, http.StatusBadRequest, text, err)
	}
}

func classifyRevert(text string, cause error) *Error {
	reason := ExtractRevertReason(text)

	var e *Error
	switch {
	case strings.Contains(text, "Shipment not found"):
		e = newError(KindNotFound, http.StatusNotFound, writeNotFoundMessage, cause)
	case strings.Contains(text, "Only shipment participants"):
		e = newError(KindForbidden, http.StatusForbidden,
			"Only the sender or receiver can update this shipment.", cause)
	case strings.Contains(text, "Notes cannot be empty"):
		e = newError(KindInvalidArgument, http.StatusBadRequest, "Notes cannot be empty.", cause)
	default:
		e = newError(KindContractRejected, http.StatusBadRequest, reason, cause)
	}
	e.Reason = reason

	return e
}

// ExtractRevertReason returns the text following the revert marker up to the
// next quote or the end of text.
func ExtractRevertReason(text string) string {
	m := revertReasonPattern.FindStringSubmatch(text)
	if m == nil {
		return defaultRevertReason
	}

	reason := strings.TrimSpace(m[1])
	if reason == "" {
		return defaultRevertReason
	}

	return reason
}

// ClassifyRead classifies a failure of a read-only ledger call. Only a
// missing shipment and an unavailable ledger keep their own status; every
// other kind surfaces as a bad request carrying the revert reason.
func ClassifyRead(err error) *Error {
	e := Classify(err)
	if e == nil {
		return nil
	}

	read := *e
	switch read.Kind {
	case KindNotFound:
		read.Message = readNotFoundMessage
	case KindUnavailable, KindUnknown:
	default:
		read.StatusCode = http.StatusBadRequest
		if read.Reason != "" {
			read.Message = read.Reason
		}
	}

	return &read
}
