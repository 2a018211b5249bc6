package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fmgram/pkg/fmgram"
)

// EventBus fans events out to bounded per-subscription queues, each drained
// by its own workers.
type EventBus struct {
	mu            sync.RWMutex
	nextID        atomic.Int64
	closed        bool
	subscriptions map[int64]*busSubscription

	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	onAsyncError          func(context.Context, string, error)
}

// NewEventBus creates an event bus whose subscriptions fall back to the given defaults.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscriptions:         make(map[int64]*busSubscription),
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		onAsyncError:          onAsyncError,
	}
}

// Publish validates event and enqueues it on every matching subscription.
// Drops and closed subscriptions are reported asynchronously; only blocking
// enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *fmgram.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var publishErr error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, fmgram.ErrEventDropped), errors.Is(err, fmgram.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			publishErr = errors.Join(publishErr, err)
		}
	}
	if publishErr != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, publishErr)
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest fmgram.InterestSet,
	spec fmgram.SubscriptionSpec,
	handler fmgram.EventHandler,
) (fmgram.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: %w: nil handler", spec.Name, fmgram.ErrInvalidSubscription)
	}

	subID := b.nextID.Add(1)
	spec = b.normalizeSpec(spec, subID)
	if !validBackpressure(spec.Backpressure) {
		return nil, fmt.Errorf(
			"subscribe %s: %w: unknown backpressure %q",
			spec.Name,
			fmgram.ErrInvalidSubscription,
			spec.Backpressure,
		)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(subID, interest, spec, handler, b)
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops all subscriptions and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	clear(b.subscriptions)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = errors.Join(closeErr, sub.shutdown(ctx))
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) snapshotSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

func (b *EventBus) normalizeSpec(spec fmgram.SubscriptionSpec, subID int64) fmgram.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = fmgram.BackpressureDropNewest
	}

	return spec
}

func validBackpressure(policy fmgram.BackpressurePolicy) bool {
	switch policy {
	case fmgram.BackpressureDropNewest, fmgram.BackpressureDropOldest, fmgram.BackpressureBlock:
		return true
	default:
		return false
	}
}

func (b *EventBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	delete(b.subscriptions, subID)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns the queue and workers of one subscriber. Workers stop
// on context cancellation; the queue channel is never closed.
type busSubscription struct {
	id       int64
	interest fmgram.InterestSet
	spec     fmgram.SubscriptionSpec
	handler  fmgram.EventHandler
	queue    chan *fmgram.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	bus      *EventBus
}

func newBusSubscription(
	subID int64,
	interest fmgram.InterestSet,
	spec fmgram.SubscriptionSpec,
	handler fmgram.EventHandler,
	bus *EventBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       subID,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		queue:    make(chan *fmgram.Event, spec.Buffer),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}
	sub.startWorkers()

	return sub
}

func cloneInterestSet(interest fmgram.InterestSet) fmgram.InterestSet {
	cloned := interest
	cloned.Kinds = cloneSlice(interest.Kinds)
	cloned.Sources = cloneSlice(interest.Sources)
	cloned.CommandNames = cloneSlice(interest.CommandNames)

	return cloned
}

func cloneSlice[T any](items []T) []T {
	if len(items) == 0 {
		return nil
	}

	return append([]T(nil), items...)
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *fmgram.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, fmgram.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case fmgram.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, fmgram.ErrSubscriptionClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	case fmgram.BackpressureDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
		}
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, fmgram.ErrEventDropped)
}

func (s *busSubscription) startWorkers() {
	var workers sync.WaitGroup
	for workerID := range s.spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.runWorker(workerID)
		}()
	}

	go func() {
		workers.Wait()
		close(s.done)
	}()
}

// runWorker drains the queue until the subscription is closed, reporting
// handler failures to the async error sink.
func (s *busSubscription) runWorker(workerID int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handleEvent(workerID, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *busSubscription) handleEvent(workerID int, event *fmgram.Event) error {
	handlerCtx, cancel := context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.ID, err)
	}

	return nil
}

func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// shutdown stops workers and waits for them until ctx expires.
func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
