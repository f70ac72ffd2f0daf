// Package ledgertest provides a testify mock of ledger.Client.
package ledgertest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"example.com/backstage/services/shipment/internal/ledger"
)

// MockClient is a mock ledger.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SubmitStatusNote(ctx context.Context, trackingID, notes, from string) (*ledger.Receipt, error) {
	args := m.Called(ctx, trackingID, notes, from)
	receipt, _ := args.Get(0).(*ledger.Receipt)
	return receipt, args.Error(1)
}

func (m *MockClient) FetchDetails(ctx context.Context, trackingID string) (*ledger.Record, error) {
	args := m.Called(ctx, trackingID)
	record, _ := args.Get(0).(*ledger.Record)
	return record, args.Error(1)
}
