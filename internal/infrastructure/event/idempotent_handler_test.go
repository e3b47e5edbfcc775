package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/cache"
)

type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventHandler) EventTypes() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

func newStore(t *testing.T) shared.IdempotencyStore {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIdempotentHandler_DuplicatesAreSkipped(t *testing.T) {
	store := newStore(t)
	inner := new(MockEventHandler)
	event := newTestEvent(refund.EventTypeRefundApproved)
	inner.On("Handle", mock.Anything, event).Return(nil).Once()

	handler := NewIdempotentHandler("mailer", inner, store, zap.NewNop())

	for range 3 {
		require.NoError(t, handler.Handle(context.Background(), event))
	}

	inner.AssertExpectations(t)
	stats := handler.GetMetrics().Stats()
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(2), stats.EventsDuplicate)
}

func TestIdempotentHandler_ConsumersAreIndependent(t *testing.T) {
	store := newStore(t)
	event := newTestEvent(refund.EventTypeRefundCompletedMoney)
	first := new(MockEventHandler)
	second := new(MockEventHandler)
	first.On("Handle", mock.Anything, event).Return(nil).Once()
	second.On("Handle", mock.Anything, event).Return(nil).Once()

	log := NewIdempotentHandler("log", first, store, nil)
	amqp := NewIdempotentHandler("amqp", second, store, nil)

	require.NoError(t, log.Handle(context.Background(), event))
	require.NoError(t, amqp.Handle(context.Background(), event))

	first.AssertExpectations(t)
	second.AssertExpectations(t)
	assert.Equal(t, "amqp:"+event.EventID().String(), amqp.Key(event))
}

func TestIdempotentHandler_HandlerError(t *testing.T) {
	store := newStore(t)
	inner := new(MockEventHandler)
	event := newTestEvent(refund.EventTypeRefundRejected)
	boom := errors.New("broker unreachable")
	inner.On("Handle", mock.Anything, event).Return(boom)

	handler := NewIdempotentHandler("amqp", inner, store, zap.NewNop())

	assert.ErrorIs(t, handler.Handle(context.Background(), event), boom)
	assert.Equal(t, int64(1), handler.GetMetrics().EventsFailed.Load())
	assert.Zero(t, handler.GetMetrics().EventsProcessed.Load())
}

func TestIdempotentHandler_StoreErrorStillHandles(t *testing.T) {
	store := new(MockIdempotencyStore)
	inner := new(MockEventHandler)
	event := newTestEvent(refund.EventTypeRefundRequested)
	store.On("MarkProcessed", mock.Anything, "log:"+event.EventID().String(), 24*time.Hour).
		Return(false, errors.New("redis: connection refused"))
	inner.On("Handle", mock.Anything, event).Return(nil)

	handler := NewIdempotentHandler("log", inner, store, zap.NewNop())

	require.NoError(t, handler.Handle(context.Background(), event))
	store.AssertExpectations(t)
	inner.AssertExpectations(t)
}

func TestIdempotentHandler_Disabled(t *testing.T) {
	store := newStore(t)
	inner := new(MockEventHandler)
	event := newTestEvent(refund.EventTypeRefundApproved)
	inner.On("Handle", mock.Anything, event).Return(nil).Times(2)
	inner.On("EventTypes").Return(refund.NotificationEventTypes)

	handler := NewIdempotentHandler("log", inner, store, zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}),
	)

	require.NoError(t, handler.Handle(context.Background(), event))
	require.NoError(t, handler.Handle(context.Background(), event))
	assert.Equal(t, refund.NotificationEventTypes, handler.EventTypes())
	inner.AssertExpectations(t)
}

func TestIdempotentHandler_ConcurrentDuplicates(t *testing.T) {
	store := newStore(t)
	inner := new(MockEventHandler)
	event := newTestEvent(refund.EventTypeRefundCompletedCreditNote)
	inner.On("Handle", mock.Anything, event).Return(nil).Once()

	metrics := &IdempotencyMetrics{}
	handler := NewIdempotentHandler("log", inner, store, zap.NewNop(), WithIdempotencyMetrics(metrics))

	const workers = 50
	errs := make(chan error, workers)
	for range workers {
		go func() { errs <- handler.Handle(context.Background(), event) }()
	}
	for range workers {
		assert.NoError(t, <-errs)
	}

	inner.AssertExpectations(t)
	assert.Equal(t, int64(1), metrics.EventsProcessed.Load())
	assert.Equal(t, int64(workers-1), metrics.EventsDuplicate.Load())
}
