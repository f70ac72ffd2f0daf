package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/internal/messaging"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/mirror"
	"example.com/backstage/services/shipment/internal/search"
)

// AnnotationIndex stores status notes for full-text search
type AnnotationIndex interface {
	IndexAnnotation(ctx context.Context, doc search.AnnotationDocument) error
}

// AnnotationIndexer keeps the search index in step with accepted status
// notes, from events and from periodic mirror scans.
type AnnotationIndexer struct {
	store   mirror.Store
	index   AnnotationIndex
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAnnotationIndexer creates a new indexer. store may be nil, in which
// case ReindexRecent is a no-op.
func NewAnnotationIndexer(store mirror.Store, index AnnotationIndex, m *metrics.Metrics) *AnnotationIndexer {
	return &AnnotationIndexer{
		store:   store,
		index:   index,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleStatusNoted indexes the note carried by a status noted message. It
// satisfies messaging.Handler.
func (i *AnnotationIndexer) HandleStatusNoted(ctx context.Context, body []byte) error {
	event, err := messaging.DecodeStatusNoted(body)
	if err != nil {
		// a malformed body will never index; drop it instead of redelivering
		log.Error().Err(err).Msg("Discarding undecodable status noted message")
		return nil
	}

	doc := search.AnnotationDocument{
		TrackingID:      event.TrackingID,
		Text:            event.Notes,
		Author:          event.Author,
		Timestamp:       event.Timestamp,
		TransactionHash: event.TransactionHash,
	}

	if err := i.indexOne(ctx, doc); err != nil {
		return err
	}

	log.Debug().Str("tracking_id", event.TrackingID).Str("tx_hash", event.TransactionHash).Msg("Indexed status note")
	return nil
}

// ReindexRecent indexes every note of the mirror records updated within
// window, at most batch records per run. Documents are keyed so that
// reindexing a note overwrites it. It returns the number of notes indexed
// and the first indexing error, after attempting every note.
func (i *AnnotationIndexer) ReindexRecent(ctx context.Context, window time.Duration, batch int) (int, error) {
	if i.store == nil {
		return 0, nil
	}

	since := i.now().Add(-window)
	records, err := i.store.ListUpdatedSince(ctx, since, batch)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list recently updated shipments")
	}

	indexed := 0
	var firstErr error
	for _, record := range records {
		for _, note := range record.Notes {
			doc := search.AnnotationDocument{
				TrackingID:      record.TrackingID,
				Text:            note.Text,
				Author:          note.Author,
				Timestamp:       note.Timestamp,
				TransactionHash: note.TransactionHash,
			}

			if err := i.indexOne(ctx, doc); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			indexed++
		}
	}

	log.Info().
		Int("records", len(records)).
		Int("indexed", indexed).
		Time("since", since).
		Msg("Reindexed recent status notes")

	return indexed, firstErr
}

func (i *AnnotationIndexer) indexOne(ctx context.Context, doc search.AnnotationDocument) error {
	start := time.Now()
	err := i.index.IndexAnnotation(ctx, doc)
	i.metrics.ObserveOperation(metrics.OpIndexNote, start, err)
	if err != nil {
		return errors.Wrapf(err, "failed to index note %s", doc.DocumentID())
	}
	return nil
}
