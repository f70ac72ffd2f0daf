// Package mongostore keeps the shipment mirror in a MongoDB collection, one
// document per tracking id with the annotation history embedded.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/mirror"
)

type shipmentDocument struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty"`
	TrackingID string              `bson:"trackingId"`
	MedicineID string              `bson:"medicineId"`
	Sender     string              `bson:"sender"`
	Receiver   string              `bson:"receiver"`
	Status     string              `bson:"status"`
	Notes      []mirror.Annotation `bson:"notes"`
	CreatedAt  time.Time           `bson:"createdAt"`
	UpdatedAt  time.Time           `bson:"updatedAt"`
}

func (d shipmentDocument) record() mirror.Record {
	notes := d.Notes
	if notes == nil {
		notes = []mirror.Annotation{}
	}
	return mirror.Record{
		ID:         d.ID.Hex(),
		TrackingID: d.TrackingID,
		MedicineID: d.MedicineID,
		Sender:     d.Sender,
		Receiver:   d.Receiver,
		Status:     d.Status,
		Notes:      notes,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// Store implements mirror.Store on a mongo collection
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// New creates a Store over coll
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll, now: func() time.Time { return time.Now().UTC() }}
}

// Connect opens and pings a mongo client
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("Connected to MongoDB mirror")

	return client, nil
}

// EnsureIndexes creates the unique tracking id index and the updatedAt
// index used by the reindex job.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "trackingId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("trackingId_unique"),
		},
		{
			Keys:    bson.D{{Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("updatedAt_desc"),
		},
	})
	return errors.Wrap(err, "failed to create mirror indexes")
}

func (s *Store) AppendAnnotation(ctx context.Context, trackingID string, annotation mirror.Annotation) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{
			"$push": bson.M{"notes": annotation},
			"$set":  bson.M{"updatedAt": s.now()},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append annotation to %s", trackingID)
	}
	if res.MatchedCount == 0 {
		return mirror.ErrNotFound
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, trackingID string) (*mirror.Record, error) {
	var doc shipmentDocument
	err := s.coll.FindOne(ctx, bson.M{"trackingId": trackingID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, mirror.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch mirror record %s", trackingID)
	}

	record := doc.record()
	return &record, nil
}

func (s *Store) Create(ctx context.Context, record *mirror.Record) error {
	now := s.now()
	doc := shipmentDocument{
		TrackingID: record.TrackingID,
		MedicineID: record.MedicineID,
		Sender:     record.Sender,
		Receiver:   record.Receiver,
		Status:     record.Status,
		Notes:      record.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if doc.Notes == nil {
		doc.Notes = []mirror.Annotation{}
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return mirror.ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrapf(err, "failed to create mirror record %s", record.TrackingID)
	}

	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		record.ID = id.Hex()
	}
	record.Notes = doc.Notes
	record.CreatedAt = now
	record.UpdatedAt = now

	return nil
}

func (s *Store) List(ctx context.Context) ([]mirror.Record, error) {
	return s.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (s *Store) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]mirror.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{"updatedAt": bson.M{"$gte": since}}, opts)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]mirror.Record, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query mirror records")
	}
	defer cursor.Close(ctx)

	var docs []shipmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode mirror records")
	}

	records := make([]mirror.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.record())
	}
	return records, nil
}
