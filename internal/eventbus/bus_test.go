package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func noRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := New()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bus.Subscribe("entity.created", func(ctx context.Context, evt Event) error {
			order = append(order, i)
			return nil
		}, WithRetryPolicy(noRetry()))
	}

	n := bus.Publish(context.Background(), "entity.created", map[string]any{"entity_id": "x"})
	if n != 3 {
		t.Fatalf("delivered = %d, want 3", n)
	}
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("invocation order = %v", order)
		}
	}
}

func TestPublishToOtherNameSkips(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe("entity.created", func(ctx context.Context, evt Event) error {
		called = true
		return nil
	})
	if n := bus.Publish(context.Background(), "entity.deleted", nil); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
	if called {
		t.Error("handler for different event name invoked")
	}
}

func TestFilterSkipsWithoutFailure(t *testing.T) {
	bus := New()
	var got []string
	bus.Subscribe("task.created", func(ctx context.Context, evt Event) error {
		got = append(got, evt.Payload["id"].(string))
		return nil
	}, WithFilter(func(evt Event) bool {
		return evt.Payload["id"] == "keep"
	}))

	bus.Publish(context.Background(), "task.created", map[string]any{"id": "drop"})
	n := bus.Publish(context.Background(), "task.created", map[string]any{"id": "keep"})

	if n != 1 || len(got) != 1 || got[0] != "keep" {
		t.Errorf("filter misbehaved: delivered=%d got=%v", n, got)
	}
}

func TestOnceAutoUnsubscribes(t *testing.T) {
	bus := New()
	count := 0
	bus.Subscribe("sync.tick", func(ctx context.Context, evt Event) error {
		count++
		return nil
	}, Once())

	bus.Publish(context.Background(), "sync.tick", nil)
	bus.Publish(context.Background(), "sync.tick", nil)

	if count != 1 {
		t.Errorf("once handler invoked %d times", count)
	}
	if bus.SubscriberCount("sync.tick") != 0 {
		t.Error("once subscription still registered")
	}
}

func TestOnceStaysSubscribedAfterFailure(t *testing.T) {
	bus := New()
	attempts := 0
	bus.Subscribe("sync.tick", func(ctx context.Context, evt Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("boom")
		}
		return nil
	}, Once(), WithRetryPolicy(noRetry()))

	bus.Publish(context.Background(), "sync.tick", nil)
	if bus.SubscriberCount("sync.tick") != 1 {
		t.Fatal("failed once-delivery should keep the subscription")
	}
	bus.Publish(context.Background(), "sync.tick", nil)
	if bus.SubscriberCount("sync.tick") != 0 {
		t.Error("once subscription not removed after success")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	bus := New()
	attempts := 0
	bus.Subscribe("event.received", func(ctx context.Context, evt Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRetryPolicy(RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}))

	n := bus.Publish(context.Background(), "event.received", nil)
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustionDoesNotBlockOthers(t *testing.T) {
	bus := New()
	bus.Subscribe("event.received", func(ctx context.Context, evt Event) error {
		return errors.New("always fails")
	}, WithRetryPolicy(RetryPolicy{
		MaxAttempts:       2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}))
	healthy := false
	bus.Subscribe("event.received", func(ctx context.Context, evt Event) error {
		healthy = true
		return nil
	}, WithRetryPolicy(noRetry()))

	n := bus.Publish(context.Background(), "event.received", nil)
	if n != 1 {
		t.Errorf("delivered = %d, want 1 (healthy subscriber only)", n)
	}
	if !healthy {
		t.Error("failure in one subscriber starved another")
	}
}

func TestUnsubscribeMidPublishNotReinvoked(t *testing.T) {
	bus := New()
	var second *Subscription
	secondCalls := int32(0)

	bus.Subscribe("x", func(ctx context.Context, evt Event) error {
		bus.Unsubscribe(second)
		return nil
	}, WithRetryPolicy(noRetry()))
	second = bus.Subscribe("x", func(ctx context.Context, evt Event) error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	}, WithRetryPolicy(noRetry()))

	bus.Publish(context.Background(), "x", nil)
	if atomic.LoadInt32(&secondCalls) != 0 {
		t.Error("subscription cancelled mid-publish was still invoked")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	bus := New()
	bus.Subscribe("y", func(ctx context.Context, evt Event) error { return nil })
	bus.Subscribe("y", func(ctx context.Context, evt Event) error { return nil })

	bus.UnsubscribeAll("y")
	if bus.SubscriberCount("y") != 0 {
		t.Error("subscriptions remain after UnsubscribeAll")
	}
	if n := bus.Publish(context.Background(), "y", nil); n != 0 {
		t.Errorf("delivered = %d after UnsubscribeAll", n)
	}
}

func TestCorrelationIDAndHeaders(t *testing.T) {
	bus := New()
	var got Event
	bus.Subscribe("z", func(ctx context.Context, evt Event) error {
		got = evt
		return nil
	}, WithRetryPolicy(noRetry()))

	bus.Publish(context.Background(), "z", map[string]any{"k": "v"},
		WithCorrelationID("corr-1"), WithHeaders(map[string]string{"source": "test"}))

	if got.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q", got.CorrelationID)
	}
	if got.Headers["source"] != "test" {
		t.Errorf("headers = %v", got.Headers)
	}
}
