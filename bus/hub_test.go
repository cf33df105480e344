package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshkit/logger"
)

func newTestHub(t *testing.T, opts ...HubOption) *Hub {
	t.Helper()
	h := NewHub(append([]HubOption{WithLogger(logger.Nop())}, opts...)...)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h
}

// collector records delivered events.
type collector struct {
	mu     sync.Mutex
	events []RefreshEvent
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 1024)}
}

func (c *collector) handle(_ context.Context, ev RefreshEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []RefreshEvent {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RefreshEvent(nil), c.events...)
}

func TestHub_DeliversToMatchingApplication(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	orders := newCollector()
	users := newCollector()
	h.Subscribe("orders", orders.handle)
	h.Subscribe("users", users.handle)

	if err := h.Publish(ctx, RefreshEvent{Application: "orders", Version: 3}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := orders.wait(t, 1)
	if got[0].Version != 3 {
		t.Errorf("expected version 3, got %d", got[0].Version)
	}

	select {
	case <-users.got:
		t.Error("users subscriber should not receive orders events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FanOutToAllSubscribers(t *testing.T) {
	h := newTestHub(t)
	cs := []*collector{newCollector(), newCollector(), newCollector()}
	for _, c := range cs {
		h.Subscribe("orders", c.handle)
	}
	if n := h.SubscriberCount("orders"); n != 3 {
		t.Fatalf("expected 3 subscribers, got %d", n)
	}

	_ = h.Publish(context.Background(), RefreshEvent{Application: "orders", Version: 1})
	for _, c := range cs {
		c.wait(t, 1)
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	h := newTestHub(t)
	c := newCollector()
	h.Subscribe("orders", c.handle)

	for v := uint64(1); v <= 20; v++ {
		_ = h.Publish(context.Background(), RefreshEvent{Application: "orders", Version: v})
	}
	got := c.wait(t, 20)
	for i, ev := range got {
		if ev.Version != uint64(i+1) {
			t.Fatalf("event %d: expected version %d, got %d", i, i+1, ev.Version)
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := newTestHub(t)
	c := newCollector()
	unsubscribe := h.Subscribe("orders", c.handle)
	unsubscribe()
	unsubscribe()

	if n := h.SubscriberCount("orders"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
	_ = h.Publish(context.Background(), RefreshEvent{Application: "orders", Version: 1})
	select {
	case <-c.got:
		t.Error("unsubscribed handler received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	h := newTestHub(t, WithBufferSize(1))

	release := make(chan struct{})
	var slowCalls atomic.Int32
	h.Subscribe("orders", func(context.Context, RefreshEvent) {
		slowCalls.Add(1)
		<-release
	})
	fast := newCollector()
	h.Subscribe("orders", fast.handle)

	for v := uint64(1); v <= 5; v++ {
		_ = h.Publish(context.Background(), RefreshEvent{Application: "orders", Version: v})
		fast.wait(t, 1)
	}
	close(release)

	// The slow handler holds one event and has one queued; the rest drop.
	deadline := time.Now().Add(time.Second)
	for slowCalls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := slowCalls.Load(); n < 1 || n > 2 {
		t.Errorf("expected the slow subscriber to see 1-2 events, got %d", n)
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	h := NewHub(WithLogger(logger.Nop()))
	_ = h.Start(context.Background())
	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := h.Publish(context.Background(), RefreshEvent{Application: "orders"}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Subscribing to a stopped hub is a no-op.
	h.Subscribe("orders", func(context.Context, RefreshEvent) {})()
}

func TestHub_QueuesBeforeStart(t *testing.T) {
	h := NewHub(WithLogger(logger.Nop()))
	c := newCollector()
	h.Subscribe("orders", c.handle)

	if err := h.Publish(context.Background(), RefreshEvent{Application: "orders", Version: 9}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	_ = h.Start(context.Background())
	defer func() { _ = h.Stop(context.Background()) }()

	if got := c.wait(t, 1); got[0].Version != 9 {
		t.Errorf("expected version 9, got %d", got[0].Version)
	}
}
