package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/mintpass/service/db"
	natspkg "github.com/brojonat/mintpass/service/nats"
)

// MockStore mocks the receipt store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) RecordMint(ctx context.Context, params db.RecordMintParams) (*db.MintReceipt, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.MintReceipt), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreMintReceipt(t *testing.T) {
	in := testInput()
	store := new(MockStore)
	store.On("RecordMint", mock.Anything, mock.MatchedBy(func(p db.RecordMintParams) bool {
		return p.RequestID == in.RequestID &&
			p.OwnerAddress == in.OwnerAddress &&
			p.Signature == in.Signature &&
			p.Amount == in.Amount &&
			p.Memo != nil && *p.Memo == "mintpass:mint:"+in.RequestID
	})).Return(receiptFor(in), nil)

	activities := NewActivities(store, nil, discardLogger())
	result, err := activities.StoreMintReceipt(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, in.RequestID, result.Receipt.RequestID)
	store.AssertExpectations(t)
}

func TestStoreMintReceipt_Error(t *testing.T) {
	store := new(MockStore)
	store.On("RecordMint", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	activities := NewActivities(store, nil, discardLogger())
	_, err := activities.StoreMintReceipt(context.Background(), testInput())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublishMintEvent(t *testing.T) {
	publisher := natspkg.NewMockPublisher()
	activities := NewActivities(new(MockStore), publisher, discardLogger())

	receipt := receiptFor(testInput())
	require.NoError(t, activities.PublishMintEvent(context.Background(), receipt))

	events := publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, receipt.RequestID, events[0].RequestID)
	assert.Equal(t, receipt.Signature, events[0].Signature)
	assert.Equal(t, receipt.Amount, events[0].Amount)
	assert.Equal(t, receipt.OwnerAddress, events[0].OwnerAddress)
}

func TestPublishMintEvent_Error(t *testing.T) {
	publisher := natspkg.NewMockPublisher()
	publisher.SetPublishError(errors.New("no responders"))
	activities := NewActivities(new(MockStore), publisher, discardLogger())

	err := activities.PublishMintEvent(context.Background(), receiptFor(testInput()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}

func TestPublishMintEvent_NoPublisher(t *testing.T) {
	activities := NewActivities(new(MockStore), nil, discardLogger())
	assert.NoError(t, activities.PublishMintEvent(context.Background(), receiptFor(testInput())))
}
