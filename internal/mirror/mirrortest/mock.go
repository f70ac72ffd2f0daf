// Package mirrortest provides a testify mock of mirror.Store.
package mirrortest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/backstage/services/shipment/internal/mirror"
)

// MockStore is a mock mirror.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendAnnotation(ctx context.Context, trackingID string, annotation mirror.Annotation) error {
	args := m.Called(ctx, trackingID, annotation)
	return args.Error(0)
}

func (m *MockStore) Fetch(ctx context.Context, trackingID string) (*mirror.Record, error) {
	args := m.Called(ctx, trackingID)
	record, _ := args.Get(0).(*mirror.Record)
	return record, args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, record *mirror.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) List(ctx context.Context) ([]mirror.Record, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]mirror.Record)
	return records, args.Error(1)
}

func (m *MockStore) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]mirror.Record, error) {
	args := m.Called(ctx, since, limit)
	records, _ := args.Get(0).([]mirror.Record)
	return records, args.Error(1)
}
