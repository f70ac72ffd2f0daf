// Package ledger defines the authoritative shipment ledger surface: the
// client contract, the records it returns and the classification of its
// failures.
package ledger

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned by a client that has no contract binding.
var ErrUnavailable = errors.New("ledger contract binding unavailable")

// Shipment status values as stored on the ledger.
const (
	StatusPending   = 0
	StatusInTransit = 1
	StatusDelivered = 2
)

// StatusUnknown is the name used for status values outside the known range.
const StatusUnknown = "Unknown"

var statusNames = [...]string{
	StatusPending:   "Pending",
	StatusInTransit: "InTransit",
	StatusDelivered: "Delivered",
}

// StatusName maps a numeric ledger status to its name. Values the table does
// not know map to StatusUnknown so newer contract versions do not break reads.
func StatusName(code int) string {
	if code < 0 || code >= len(statusNames) {
		return StatusUnknown
	}
	return statusNames[code]
}

// Record is a shipment as returned by the ledger. It lives for a single
// request only.
type Record struct {
	MedicineID *big.Int
	Sender     string
	Receiver   string
	TrackingID string
	StatusCode int
	Notes      string
}

// Receipt is the proof of acceptance of a ledger transaction.
type Receipt struct {
	TransactionHash string
	BlockNumber     uint64
	GasUsed         uint64
}

// Client is the only way the service talks to the ledger.
type Client interface {
	// SubmitStatusNote sends one state-changing transaction from the given
	// address and blocks until it is mined, rejected or ctx expires.
	SubmitStatusNote(ctx context.Context, trackingID, notes, from string) (*Receipt, error)
	// FetchDetails reads the shipment without mutating ledger state.
	FetchDetails(ctx context.Context, trackingID string) (*Record, error)
}
