package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"npa-monitor/pkg/npa"
)

// EventBus fans events out to bounded per-subscription queues drained by
// worker goroutines.
type EventBus struct {
	mu            sync.RWMutex
	nextID        atomic.Int64
	closed        bool
	subscriptions map[int64]*busSubscription

	defaults     npa.SubscriptionSpec
	onAsyncError func(context.Context, string, error)
}

// NewEventBus creates a bus. The defaults apply to subscriptions that leave
// buffer, workers or handler timeout unset.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscriptions: make(map[int64]*busSubscription),
		defaults: npa.SubscriptionSpec{
			Buffer:         defaultBuffer,
			Workers:        defaultWorkers,
			HandlerTimeout: defaultHandlerTimeout,
			Backpressure:   npa.BackpressureDropNewest,
		},
		onAsyncError: onAsyncError,
	}
}

// Publish validates event and enqueues it on every matching subscription.
// Drops caused by backpressure are reported asynchronously, not returned.
func (b *EventBus) Publish(ctx context.Context, event *npa.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish event %s: bus closed", event.Kind)
	}
	targets := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.interest.Matches(event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var publishErr error
	for _, sub := range targets {
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, npa.ErrEventDropped), errors.Is(err, npa.ErrSubscriptionClosed):
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

// Subscribe starts workers for handler and registers the subscription.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest npa.InterestSet,
	spec npa.SubscriptionSpec,
	handler npa.EventHandler,
) (npa.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	switch spec.Backpressure {
	case "", npa.BackpressureDropNewest, npa.BackpressureDropOldest, npa.BackpressureBlock:
	default:
		return nil, fmt.Errorf("subscribe %s: %w: backpressure %q", spec.Name, npa.ErrInvalidSubscription, spec.Backpressure)
	}

	id := b.nextID.Add(1)
	sub := newBusSubscription(id, interest, b.withDefaults(spec, id), handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	b.subscriptions[id] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
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
	b.subscriptions = make(map[int64]*busSubscription)
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

func (b *EventBus) withDefaults(spec npa.SubscriptionSpec, id int64) npa.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = b.defaults.Backpressure
	}

	return spec
}

func (b *EventBus) unsubscribe(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[id]
	delete(b.subscriptions, id)
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

// busSubscription owns one queue and its workers. Workers stop on context
// cancellation; the queue channel is never closed.
type busSubscription struct {
	id       int64
	interest npa.InterestSet
	spec     npa.SubscriptionSpec
	handler  npa.EventHandler
	queue    chan *npa.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	bus      *EventBus
}

func newBusSubscription(
	id int64,
	interest npa.InterestSet,
	spec npa.SubscriptionSpec,
	handler npa.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       id,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		queue:    make(chan *npa.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}

	var workers sync.WaitGroup
	for workerID := 0; workerID < spec.Workers; workerID++ {
		workers.Add(1)
		go func(workerID int) {
			defer workers.Done()
			sub.drain(workerID)
		}(workerID)
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

func cloneInterestSet(interest npa.InterestSet) npa.InterestSet {
	cloned := interest
	cloned.Kinds = append([]npa.EventKind(nil), interest.Kinds...)
	cloned.CommandNames = append([]string(nil), interest.CommandNames...)
	cloned.CallbackPrefixes = append([]string(nil), interest.CallbackPrefixes...)

	return cloned
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close removes the subscription from its bus and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *npa.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, npa.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case npa.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	case npa.BackpressureDropOldest:
		if s.tryEnqueue(event) {
			return nil
		}
		select {
		case <-s.queue:
		default:
		}
	case npa.BackpressureDropNewest:
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, npa.ErrInvalidSubscription)
	}

	if s.tryEnqueue(event) {
		return nil
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, npa.ErrEventDropped)
}

func (s *busSubscription) tryEnqueue(event *npa.Event) bool {
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

func (s *busSubscription) drain(workerID int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handle(workerID, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handle runs the handler under the subscription timeout with panic recovery.
func (s *busSubscription) handle(workerID int, event *npa.Event) error {
	ctx := s.ctx
	cancel := func() {}
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

func (s *busSubscription) stop() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	s.stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
