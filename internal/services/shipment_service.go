package services

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/internal/ledger"
	"example.com/backstage/services/shipment/internal/messaging"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/mirror"
	"example.com/backstage/services/shipment/internal/search"
	"example.com/backstage/services/shipment/internal/tracing"
	"example.com/backstage/services/shipment/internal/validation"
)

const (
	defaultMirrorTimeout = 3 * time.Second
	emptyLedgerNotes     = "No updates yet"
)

var (
	// ErrShipmentExists is returned when creating a mirror record for a taken tracking id
	ErrShipmentExists = errors.New("Shipment with this tracking ID already exists")
	// ErrMirrorUnavailable is returned by mirror-only operations when no mirror is configured
	ErrMirrorUnavailable = errors.New("Shipment database unavailable")
	// ErrSearchUnavailable is returned by SearchNotes when no search index is configured
	ErrSearchUnavailable = errors.New("Shipment note search unavailable")
	// ErrShipmentNotFound is returned when the mirror holds no record for a tracking id
	ErrShipmentNotFound = errors.New("Shipment not found in database")
)

// EventPublisher publishes accepted status notes
type EventPublisher interface {
	PublishStatusNoted(ctx context.Context, event messaging.StatusNotedEvent) error
}

// NoteSearcher runs full-text queries over indexed status notes
type NoteSearcher interface {
	SearchAnnotations(ctx context.Context, query string, size int) ([]search.AnnotationHit, error)
}

// Options holds the optional collaborators of ShipmentService. Nil fields
// disable the matching side effect.
type Options struct {
	Events        EventPublisher
	Search        NoteSearcher
	Metrics       *metrics.Metrics
	Tracer        tracing.Tracer
	MirrorTimeout time.Duration
}

// ShipmentService writes status notes to the ledger, mirrors accepted notes
// and merges ledger and mirror data for reads. The ledger is authoritative;
// mirror, event and search failures never change a ledger outcome.
type ShipmentService struct {
	ledger        ledger.Client
	mirror        mirror.Store
	events        EventPublisher
	search        NoteSearcher
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
	mirrorTimeout time.Duration
	now           func() time.Time
}

// NewShipmentService creates a new shipment service. store may be nil when
// the mirror could not be reached at startup.
func NewShipmentService(ledgerClient ledger.Client, store mirror.Store, opts Options) *ShipmentService {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = &tracing.NewRelicTracer{}
	}
	timeout := opts.MirrorTimeout
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}

	return &ShipmentService{
		ledger:        ledgerClient,
		mirror:        store,
		events:        opts.Events,
		search:        opts.Search,
		metrics:       opts.Metrics,
		tracer:        tracer,
		mirrorTimeout: timeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStatusRequest is the body of a status note write
type UpdateStatusRequest struct {
	TrackingID  string `json:"trackingId"`
	Notes       string `json:"notes"`
	FromAddress string `json:"fromAddress"`
}

// UpdateResult echoes the ledger receipt of an accepted status note
type UpdateResult struct {
	TrackingID      string    `json:"trackingId"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	GasUsed         uint64    `json:"gasUsed"`
	Notes           string    `json:"notes"`
	Timestamp       time.Time `json:"timestamp"`
}

// UpdateStatus validates the request, submits the note to the ledger and,
// once the ledger accepted it, appends it to the mirror and publishes a
// status noted event. The result depends only on the ledger receipt.
// Errors are *validation.ValidationError or *ledger.Error.
func (s *ShipmentService) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*UpdateResult, error) {
	if err := validation.ValidateUpdateRequest(req.TrackingID, req.Notes, req.FromAddress); err != nil {
		s.metrics.IncrementCounter(metrics.CounterValidationRejected)
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	s.tracer.AddAttribute(ctx, "tracking_id", req.TrackingID)

	log.Info().
		Str("tracking_id", req.TrackingID).
		Str("from", req.FromAddress).
		Msg("Submitting status note to ledger")

	seg := s.tracer.StartSegment(ctx, "ledger-submit-status-note")
	start := time.Now()
	receipt, err := s.ledger.SubmitStatusNote(ctx, req.TrackingID, notes, req.FromAddress)
	seg.End()
	s.metrics.ObserveOperation(metrics.OpLedgerSubmit, start, err)

	if err == nil && receipt == nil {
		err = errors.New("ledger returned no receipt")
	}
	if err != nil {
		classified := ledger.Classify(err)
		metrics.LedgerErrorsTotal.WithLabelValues("submit", string(classified.Kind)).Inc()
		s.tracer.RecordError(ctx, classified)

		log.Warn().
			Err(err).
			Str("tracking_id", req.TrackingID).
			Str("from", req.FromAddress).
			Str("kind", string(classified.Kind)).
			Msg("Ledger did not accept status note")
		return nil, classified
	}

	timestamp := s.now()

	log.Info().
		Str("tracking_id", req.TrackingID).
		Str("tx_hash", receipt.TransactionHash).
		Uint64("block_number", receipt.BlockNumber).
		Uint64("gas_used", receipt.GasUsed).
		Msg("Ledger accepted status note")
	s.metrics.IncrementCounter(metrics.CounterStatusNotes)

	s.reconcile(ctx, req.TrackingID, mirror.Annotation{
		Text:            notes,
		Author:          req.FromAddress,
		Timestamp:       timestamp,
		TransactionHash: receipt.TransactionHash,
	}, receipt.BlockNumber)

	return &UpdateResult{
		TrackingID:      req.TrackingID,
		TransactionHash: receipt.TransactionHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
		Notes:           notes,
		Timestamp:       timestamp,
	}, nil
}

// reconcile applies the best-effort side effects of an accepted note. It
// runs detached from caller cancellation, bounded by the mirror timeout, and
// never reports failure.
func (s *ShipmentService) reconcile(ctx context.Context, trackingID string, note mirror.Annotation, blockNumber uint64) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tracking_id", trackingID).Msg("Recovered while mirroring status note")
		}
	}()

	detached := context.WithoutCancel(ctx)

	s.appendToMirror(detached, trackingID, note)
	s.publishStatusNoted(detached, messaging.StatusNotedEvent{
		TrackingID:      trackingID,
		Notes:           note.Text,
		Author:          note.Author,
		TransactionHash: note.TransactionHash,
		BlockNumber:     blockNumber,
		Timestamp:       note.Timestamp,
	})
}

func (s *ShipmentService) appendToMirror(ctx context.Context, trackingID string, note mirror.Annotation) {
	if s.mirror == nil {
		log.Debug().Str("tracking_id", trackingID).Msg("Mirror not configured, annotation not stored")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()

	seg := s.tracer.StartSegment(ctx, "mirror-append-annotation")
	start := time.Now()
	err := s.mirror.AppendAnnotation(ctx, trackingID, note)
	seg.End()
	s.metrics.ObserveOperation(metrics.OpMirrorAppend, start, err)

	switch {
	case err == nil:
		log.Debug().Str("tracking_id", trackingID).Str("tx_hash", note.TransactionHash).Msg("Mirror updated with note")
	case errors.Is(err, mirror.ErrNotFound):
		s.metrics.IncrementCounter(metrics.CounterMirrorMissing)
		log.Info().Str("tracking_id", trackingID).Msg("No mirror record for shipment, annotation not stored")
	default:
		metrics.MirrorFailuresTotal.WithLabelValues("append").Inc()
		log.Warn().
			Err(err).
			Str("tracking_id", trackingID).
			Str("tx_hash", note.TransactionHash).
			Msg("Mirror update failed, ledger update succeeded")
	}
}

func (s *ShipmentService) publishStatusNoted(ctx context.Context, event messaging.StatusNotedEvent) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()

	start := time.Now()
	err := s.events.PublishStatusNoted(ctx, event)
	s.metrics.ObserveOperation(metrics.OpEventsPublish, start, err)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tracking_id", event.TrackingID).
			Str("tx_hash", event.TransactionHash).
			Msg("Failed to publish status noted event")
	}
}

// LedgerView is the authoritative part of ShipmentDetails
type LedgerView struct {
	MedicineID string `json:"medicineId"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Notes      string `json:"notes"`
}

// MirrorView is the mirrored part of ShipmentDetails
type MirrorView struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Notes     []mirror.Annotation `json:"notes"`
}

// ShipmentDetails merges the ledger record with the mirror record, if any
type ShipmentDetails struct {
	Blockchain LedgerView  `json:"blockchain"`
	Database   *MirrorView `json:"database"`
}

// GetDetails fetches the ledger record, which is required, and the mirror
// record, which is not. Errors are *validation.ValidationError or
// *ledger.Error.
func (s *ShipmentService) GetDetails(ctx context.Context, trackingID string) (*ShipmentDetails, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, &validation.ValidationError{Field: "trackingId", Reason: validation.ReasonRequired}
	}

	seg := s.tracer.StartSegment(ctx, "ledger-fetch-details")
	start := time.Now()
	record, err := s.ledger.FetchDetails(ctx, trackingID)
	seg.End()
	s.metrics.ObserveOperation(metrics.OpLedgerFetch, start, err)

	if err == nil && record == nil {
		err = errors.New("ledger returned no shipment record")
	}
	if err != nil {
		classified := ledger.ClassifyRead(err)
		metrics.LedgerErrorsTotal.WithLabelValues("fetch", string(classified.Kind)).Inc()
		s.tracer.RecordError(ctx, classified)

		log.Warn().Err(err).Str("tracking_id", trackingID).Str("kind", string(classified.Kind)).Msg("Ledger fetch failed")
		return nil, classified
	}

	return &ShipmentDetails{
		Blockchain: ledgerView(record),
		Database:   s.mirrorView(ctx, trackingID),
	}, nil
}

func ledgerView(record *ledger.Record) LedgerView {
	notes := record.Notes
	if notes == "" {
		notes = emptyLedgerNotes
	}

	return LedgerView{
		MedicineID: bigString(record.MedicineID),
		Sender:     record.Sender,
		Receiver:   record.Receiver,
		TrackingID: record.TrackingID,
		Status:     ledger.StatusName(record.StatusCode),
		StatusCode: record.StatusCode,
		Notes:      notes,
	}
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// mirrorView returns nil when the mirror is absent, missing the record or
// failing.
func (s *ShipmentService) mirrorView(ctx context.Context, trackingID string) *MirrorView {
	if s.mirror == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()

	seg := s.tracer.StartSegment(ctx, "mirror-fetch")
	start := time.Now()
	record, err := s.mirror.Fetch(ctx, trackingID)
	seg.End()

	switch {
	case errors.Is(err, mirror.ErrNotFound):
		s.metrics.ObserveOperation(metrics.OpMirrorFetch, start, nil)
		return nil
	case err != nil:
		s.metrics.ObserveOperation(metrics.OpMirrorFetch, start, err)
		metrics.MirrorFailuresTotal.WithLabelValues("fetch").Inc()
		log.Warn().Err(err).Str("tracking_id", trackingID).Msg("Mirror query failed")
		return nil
	}
	s.metrics.ObserveOperation(metrics.OpMirrorFetch, start, nil)

	notes := record.Notes
	if notes == nil {
		notes = []mirror.Annotation{}
	}
	return &MirrorView{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
		Notes:     notes,
	}
}

// CreateShipmentRequest is the body of a mirror record creation. medicineId
// accepts a JSON number or a numeric string.
type CreateShipmentRequest struct {
	MedicineID json.Number `json:"medicineId" validate:"required"`
	Sender     string      `json:"sender" validate:"required"`
	Receiver   string      `json:"receiver" validate:"required"`
	TrackingID string      `json:"trackingId" validate:"required"`
}

// CreateShipment creates a Pending mirror record. The ledger is not touched.
func (s *ShipmentService) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*mirror.Record, error) {
	if err := validation.ValidateStruct(req); err != nil {
		s.metrics.IncrementCounter(metrics.CounterValidationRejected)
		return nil, err
	}
	if s.mirror == nil {
		return nil, ErrMirrorUnavailable
	}

	record := &mirror.Record{
		TrackingID: req.TrackingID,
		MedicineID: req.MedicineID.String(),
		Sender:     req.Sender,
		Receiver:   req.Receiver,
		Status:     mirror.StatusPending,
	}

	if err := s.mirror.Create(ctx, record); err != nil {
		if errors.Is(err, mirror.ErrAlreadyExists) {
			return nil, ErrShipmentExists
		}
		return nil, errors.Wrap(err, "failed to create shipment")
	}

	log.Info().Str("tracking_id", record.TrackingID).Msg("Shipment created")
	return record, nil
}

// ListShipments returns every mirror record
func (s *ShipmentService) ListShipments(ctx context.Context) ([]mirror.Record, error) {
	if s.mirror == nil {
		return nil, ErrMirrorUnavailable
	}

	records, err := s.mirror.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list shipments")
	}
	return records, nil
}

// GetShipment returns the mirror record for a tracking id
func (s *ShipmentService) GetShipment(ctx context.Context, trackingID string) (*mirror.Record, error) {
	if s.mirror == nil {
		return nil, ErrMirrorUnavailable
	}

	record, err := s.mirror.Fetch(ctx, trackingID)
	if errors.Is(err, mirror.ErrNotFound) {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch shipment")
	}
	return record, nil
}

// SearchNotes searches indexed status notes
func (s *ShipmentService) SearchNotes(ctx context.Context, query string, size int) ([]search.AnnotationHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &validation.ValidationError{Field: "q", Reason: validation.ReasonRequired}
	}
	if s.search == nil {
		return nil, ErrSearchUnavailable
	}

	hits, err := s.search.SearchAnnotations(ctx, query, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search status notes")
	}
	return hits, nil
}
