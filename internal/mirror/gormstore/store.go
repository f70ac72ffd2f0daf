// Package gormstore keeps the shipment mirror in a relational database
// through gorm. Annotations live in their own table ordered by insertion id.
package gormstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/shipment/internal/mirror"
)

// ShipmentRecord is the relational mirror row
type ShipmentRecord struct {
	ID         uint   `gorm:"primaryKey"`
	TrackingID string `gorm:"uniqueIndex;size:128;not null"`
	MedicineID string `gorm:"size:78"`
	Sender     string `gorm:"size:42"`
	Receiver   string `gorm:"size:42"`
	Status     string `gorm:"size:32"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"index"`
	Notes      []ShipmentNote `gorm:"foreignKey:ShipmentID;constraint:OnDelete:CASCADE"`
}

func (ShipmentRecord) TableName() string {
	return "shipments"
}

// ShipmentNote is one annotation row
type ShipmentNote struct {
	ID              uint   `gorm:"primaryKey"`
	ShipmentID      uint   `gorm:"index;not null"`
	Text            string `gorm:"type:text;not null"`
	Author          string `gorm:"size:42"`
	Timestamp       time.Time
	TransactionHash string `gorm:"size:66"`
}

func (ShipmentNote) TableName() string {
	return "shipment_notes"
}

// AutoMigrate creates or updates the mirror tables
func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&ShipmentRecord{}, &ShipmentNote{}), "failed to migrate mirror tables")
}

// Store implements mirror.Store on gorm
type Store struct {
	db *gorm.DB
}

// New creates a Store. db should be opened with TranslateError so duplicate
// tracking ids surface as mirror.ErrAlreadyExists.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AppendAnnotation(ctx context.Context, trackingID string, annotation mirror.Annotation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ShipmentRecord
		// lock the row so concurrent appends bump updated_at in commit order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("tracking_id = ?", trackingID).Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return mirror.ErrNotFound
			}
			return errors.Wrapf(err, "failed to look up mirror record %s", trackingID)
		}

		note := ShipmentNote{
			ShipmentID:      row.ID,
			Text:            annotation.Text,
			Author:          annotation.Author,
			Timestamp:       annotation.Timestamp,
			TransactionHash: annotation.TransactionHash,
		}
		if err := tx.Create(&note).Error; err != nil {
			return errors.Wrapf(err, "failed to append annotation to %s", trackingID)
		}

		if err := tx.Model(&ShipmentRecord{ID: row.ID}).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return errors.Wrapf(err, "failed to touch mirror record %s", trackingID)
		}

		return nil
	})
}

func (s *Store) Fetch(ctx context.Context, trackingID string) (*mirror.Record, error) {
	var row ShipmentRecord
	err := s.withNotes(ctx).Where("tracking_id = ?", trackingID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, mirror.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch mirror record %s", trackingID)
	}

	record := toRecord(row)
	return &record, nil
}

func (s *Store) Create(ctx context.Context, record *mirror.Record) error {
	row := ShipmentRecord{
		TrackingID: record.TrackingID,
		MedicineID: record.MedicineID,
		Sender:     record.Sender,
		Receiver:   record.Receiver,
		Status:     record.Status,
	}
	for _, n := range record.Notes {
		row.Notes = append(row.Notes, toNote(n))
	}

	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return mirror.ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrapf(err, "failed to create mirror record %s", record.TrackingID)
	}

	*record = toRecord(row)
	return nil
}

func (s *Store) List(ctx context.Context) ([]mirror.Record, error) {
	var rows []ShipmentRecord
	if err := s.withNotes(ctx).Order("created_at desc").Order("id desc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list mirror records")
	}
	return toRecords(rows), nil
}

func (s *Store) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]mirror.Record, error) {
	query := s.withNotes(ctx).Where("updated_at >= ?", since).Order("updated_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []ShipmentRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list recently updated mirror records")
	}
	return toRecords(rows), nil
}

func (s *Store) withNotes(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Notes", func(db *gorm.DB) *gorm.DB {
		return db.Order("shipment_notes.id asc")
	})
}

func toNote(a mirror.Annotation) ShipmentNote {
	return ShipmentNote{
		Text:            a.Text,
		Author:          a.Author,
		Timestamp:       a.Timestamp,
		TransactionHash: a.TransactionHash,
	}
}

func toRecord(row ShipmentRecord) mirror.Record {
	notes := make([]mirror.Annotation, 0, len(row.Notes))
	for _, n := range row.Notes {
		notes = append(notes, mirror.Annotation{
			Text:            n.Text,
			Author:          n.Author,
			Timestamp:       n.Timestamp,
			TransactionHash: n.TransactionHash,
		})
	}

	return mirror.Record{
		ID:         strconv.FormatUint(uint64(row.ID), 10),
		TrackingID: row.TrackingID,
		MedicineID: row.MedicineID,
		Sender:     row.Sender,
		Receiver:   row.Receiver,
		Status:     row.Status,
		Notes:      notes,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func toRecords(rows []ShipmentRecord) []mirror.Record {
	records := make([]mirror.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records
}
