// Package mirror defines the secondary shipment store. The mirror is a
// denormalized, possibly stale copy of ledger data plus the append-only
// annotation history. It is never consulted for status decisions.
package mirror

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no mirror record exists for a tracking id
	ErrNotFound = errors.New("shipment not found in mirror")
	// ErrAlreadyExists is returned when creating a record for a tracking id that is taken
	ErrAlreadyExists = errors.New("shipment already exists in mirror")
)

// StatusPending is the display status of a freshly created mirror record.
const StatusPending = "Pending"

// Annotation is one status note attached to a shipment. TransactionHash is
// set only when the note was accepted by the ledger.
type Annotation struct {
	Text            string    `json:"text" bson:"text"`
	Author          string    `json:"author" bson:"author"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	TransactionHash string    `json:"transactionHash,omitempty" bson:"transactionHash,omitempty"`
}

// Record is the mirrored view of one shipment. Notes are in append order.
type Record struct {
	ID         string       `json:"id"`
	TrackingID string       `json:"trackingId"`
	MedicineID string       `json:"medicineId"`
	Sender     string       `json:"sender"`
	Receiver   string       `json:"receiver"`
	Status     string       `json:"status"`
	Notes      []Annotation `json:"notes"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Store is the mirror persistence contract shared by the document and
// relational backends.
type Store interface {
	// AppendAnnotation appends to the record's notes and bumps UpdatedAt.
	// It returns ErrNotFound when the record does not exist.
	AppendAnnotation(ctx context.Context, trackingID string, annotation Annotation) error
	// Fetch returns ErrNotFound when the record does not exist.
	Fetch(ctx context.Context, trackingID string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	List(ctx context.Context) ([]Record, error)
	// ListUpdatedSince returns up to limit records updated at or after since,
	// most recently updated first.
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]Record, error)
}
