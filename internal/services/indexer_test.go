package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/shipment/internal/messaging"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/mirror"
	"example.com/backstage/services/shipment/internal/mirror/mirrortest"
	"example.com/backstage/services/shipment/internal/search"
)

type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) IndexAnnotation(ctx context.Context, doc search.AnnotationDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func TestHandleStatusNoted(t *testing.T) {
	index := new(MockIndex)
	indexer := NewAnnotationIndexer(nil, index, metrics.NewMetrics())

	event := messaging.StatusNotedEvent{
		TrackingID:      testTrackingID,
		Notes:           "Package left warehouse",
		Author:          testSender,
		TransactionHash: "0xabc",
		BlockNumber:     42,
		Timestamp:       fixedNow,
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	index.On("IndexAnnotation", mock.Anything, search.AnnotationDocument{
		TrackingID:      testTrackingID,
		Text:            "Package left warehouse",
		Author:          testSender,
		Timestamp:       fixedNow,
		TransactionHash: "0xabc",
	}).Return(nil)

	require.NoError(t, indexer.HandleStatusNoted(context.Background(), body))
	index.AssertExpectations(t)
}

func TestHandleStatusNotedErrors(t *testing.T) {
	index := new(MockIndex)
	indexer := NewAnnotationIndexer(nil, index, nil)

	// undecodable bodies are dropped
	assert.NoError(t, indexer.HandleStatusNoted(context.Background(), []byte("not json")))
	index.AssertNotCalled(t, "IndexAnnotation", mock.Anything, mock.Anything)

	// index failures are returned so the message is redelivered
	index.On("IndexAnnotation", mock.Anything, mock.Anything).Return(errors.New("cluster red"))
	body, err := json.Marshal(messaging.StatusNotedEvent{TrackingID: testTrackingID, TransactionHash: "0x1"})
	require.NoError(t, err)
	assert.Error(t, indexer.HandleStatusNoted(context.Background(), body))
}

func TestReindexRecent(t *testing.T) {
	store := new(mirrortest.MockStore)
	index := new(MockIndex)
	indexer := NewAnnotationIndexer(store, index, metrics.NewMetrics())
	indexer.now = func() time.Time { return fixedNow }

	records := []mirror.Record{
		{
			TrackingID: "TRACK001",
			Notes: []mirror.Annotation{
				{Text: "Left warehouse", Author: testSender, Timestamp: fixedNow, TransactionHash: "0x01"},
				{Text: "Arrived hub", Author: testSender, Timestamp: fixedNow, TransactionHash: "0x02"},
			},
		},
		{TrackingID: "TRACK002"},
		{
			TrackingID: "TRACK003",
			Notes:      []mirror.Annotation{{Text: "Delivered", Author: testSender, Timestamp: fixedNow, TransactionHash: "0x03"}},
		},
	}
	store.On("ListUpdatedSince", mock.Anything, fixedNow.Add(-time.Hour), 50).Return(records, nil)

	index.On("IndexAnnotation", mock.Anything, mock.MatchedBy(func(d search.AnnotationDocument) bool {
		return d.TransactionHash == "0x02"
	})).Return(errors.New("rejected"))
	index.On("IndexAnnotation", mock.Anything, mock.Anything).Return(nil)

	indexed, err := indexer.ReindexRecent(context.Background(), time.Hour, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x02")
	assert.Equal(t, 2, indexed)
	index.AssertNumberOfCalls(t, "IndexAnnotation", 3)
}

func TestReindexRecentListFailure(t *testing.T) {
	store := new(mirrortest.MockStore)
	store.On("ListUpdatedSince", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("mirror down"))

	indexer := NewAnnotationIndexer(store, new(MockIndex), nil)

	indexed, err := indexer.ReindexRecent(context.Background(), time.Hour, 10)
	assert.Error(t, err)
	assert.Zero(t, indexed)
}

func TestReindexRecentWithoutMirror(t *testing.T) {
	indexed, err := NewAnnotationIndexer(nil, new(MockIndex), nil).ReindexRecent(context.Background(), time.Hour, 10)
	assert.NoError(t, err)
	assert.Zero(t, indexed)
}
