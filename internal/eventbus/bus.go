// Package eventbus is the in-process pub/sub spine of the kernel. Dispatch
// is synchronous on the publisher's goroutine: handlers run in subscription
// order, failures are retried per policy, and an exhausted handler never
// aborts delivery to the remaining subscribers.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is what a handler receives.
type Event struct {
	Name          string
	Payload       map[string]any
	Headers       map[string]string
	CorrelationID string
	PublishedAt   time.Time
}

// Handler processes one event. A non-nil error triggers the subscription's
// retry policy.
type Handler func(ctx context.Context, evt Event) error

// Filter decides whether a subscription sees an event. False means skip
// (not a failure).
type Filter func(evt Event) bool

// RetryPolicy controls redelivery after a handler error.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryPolicy retries three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID        string
	EventName string

	handler Handler
	filter  Filter
	once    bool
	retry   RetryPolicy

	mu     sync.Mutex
	active bool
}

// Bus is the in-process event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription // by event name, in subscription order
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithFilter attaches a predicate; events it rejects are skipped silently.
func WithFilter(f Filter) SubscribeOption {
	return func(s *Subscription) { s.filter = f }
}

// Once auto-unsubscribes after the first successful handling.
func Once() SubscribeOption {
	return func(s *Subscription) { s.once = true }
}

// WithRetryPolicy overrides the default redelivery policy.
func WithRetryPolicy(p RetryPolicy) SubscribeOption {
	return func(s *Subscription) { s.retry = p }
}

// Subscribe registers a handler for an event name.
func (b *Bus) Subscribe(name string, handler Handler, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		EventName: name,
		handler:   handler,
		retry:     DefaultRetryPolicy(),
		active:    true,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the handle. An in-flight delivery to its handler
// completes, but the handler is not invoked again — not even later in the
// same publish iteration.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.EventName] = removeSub(b.subs[sub.EventName], sub.ID)
}

// UnsubscribeAll removes every subscription for the event name.
func (b *Bus) UnsubscribeAll(name string) {
	b.mu.Lock()
	subs := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
}

// SubscriberCount returns the number of live subscriptions for an event.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// PublishOption configures one publish call.
type PublishOption func(*Event)

// WithHeaders attaches transport headers to the event.
func WithHeaders(h map[string]string) PublishOption {
	return func(e *Event) { e.Headers = h }
}

// WithCorrelationID threads a correlation ID through the event.
func WithCorrelationID(id string) PublishOption {
	return func(e *Event) { e.CorrelationID = id }
}

// Publish delivers the event synchronously to all current subscribers in
// subscription order and returns the count of successful deliveries.
// Handler errors are retried per the subscription's policy; exhausted
// deliveries are logged and counted as failed without affecting the rest.
func (b *Bus) Publish(ctx context.Context, name string, payload map[string]any, opts ...PublishOption) int {
	evt := Event{
		Name:        name,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&evt)
	}

	// Snapshot so subscriptions added or removed mid-iteration do not
	// affect this publish.
	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.subs[name]))
	copy(snapshot, b.subs[name])
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range snapshot {
		sub.mu.Lock()
		alive := sub.active
		sub.mu.Unlock()
		if !alive {
			continue
		}
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}

		if err := deliverWithRetry(ctx, sub, evt); err != nil {
			log.Error().
				Str("event", name).
				Str("subscription", sub.ID).
				Err(err).
				Msg("delivery failed after retries")
			continue
		}

		delivered++
		if sub.once {
			b.Unsubscribe(sub)
		}
	}
	return delivered
}

// deliverWithRetry invokes the handler under the subscription's retry
// policy: min(initial * multiplier^attempt, max) between attempts, with
// multiplicative jitter in [0.5, 1.5) when enabled.
func deliverWithRetry(ctx context.Context, sub *Subscription, evt Event) error {
	policy := sub.retry
	if policy.MaxAttempts <= 1 {
		return sub.handler(ctx, evt)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.Multiplier = policy.BackoffMultiplier
	if policy.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempts := 0
	operation := func() error {
		attempts++
		return sub.handler(ctx, evt)
	}
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts-1)), ctx))
}

func removeSub(subs []*Subscription, id string) []*Subscription {
	for i, s := range subs {
		if s.ID == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
