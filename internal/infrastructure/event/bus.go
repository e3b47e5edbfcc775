package event

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/erp/settlement/internal/domain/shared"
)

// BusOption configures an InMemoryEventBus
type BusOption func(*InMemoryEventBus)

// WithAsyncDispatch makes Publish return immediately while the bus is
// running. Handlers then run on background goroutines, at most
// maxConcurrent at a time, and Stop waits for them to drain.
func WithAsyncDispatch(maxConcurrent int) BusOption {
	return func(b *InMemoryEventBus) {
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		b.async = true
		b.slots = make(chan struct{}, maxConcurrent)
	}
}

// InMemoryEventBus implements EventBus with in-memory pub/sub.
// Handler errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	running  atomic.Bool
	async    bool
	slots    chan struct{}
	inflight conc.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger, opts ...BusOption) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &InMemoryEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers events to every matching handler. In async mode the
// delivery outlives the caller's context cancellation.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	if !b.async || !b.running.Load() {
		b.deliver(ctx, events)
		return nil
	}

	detached := context.WithoutCancel(ctx)
	b.inflight.Go(func() {
		b.slots <- struct{}{}
		defer func() { <-b.slots }()
		b.deliver(detached, events)
	})
	return nil
}

func (b *InMemoryEventBus) deliver(ctx context.Context, events []shared.DomainEvent) {
	for _, event := range events {
		for _, handler := range b.registry.GetHandlers(event.EventType()) {
			if err := b.dispatchToHandler(ctx, handler, event); err != nil {
				b.logger.Error("handler failed to process event",
					zap.String("event_type", event.EventType()),
					zap.String("event_id", event.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
}

// Subscribe registers a handler for specific event types
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("handler subscribed",
		zap.Strings("event_types", eventTypes),
	)
}

// Unsubscribe removes a handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
	b.logger.Debug("handler unsubscribed")
}

// Start starts the event bus
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("event bus started", zap.Bool("async", b.async))
	return nil
}

// Stop stops accepting async work and waits for in-flight deliveries or
// for ctx to expire, whichever comes first.
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.running.Store(false)

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stopped before in-flight events drained")
		return ctx.Err()
	}
}

// dispatchToHandler runs one handler, turning a panic into a logged event
func (b *InMemoryEventBus) dispatchToHandler(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) error {
	var err error
	if recovered := panics.Try(func() { err = handler.Handle(ctx, event) }); recovered != nil {
		b.logger.Error("handler panicked",
			zap.String("event_type", event.EventType()),
			zap.String("panic", recovered.String()),
		)
		return nil
	}
	return err
}

// Ensure InMemoryEventBus implements EventBus
var _ shared.EventBus = (*InMemoryEventBus)(nil)
