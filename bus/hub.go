package bus

import (
	"context"
	"sync"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
)

const (
	defaultBufferSize = 256
	hubName           = "bus"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(log *logger.Logger) HubOption {
	return func(h *Hub) { h.log = log.WithComponent(hubName) }
}

// WithMetrics records published, delivered and dropped events.
func WithMetrics(m *observability.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// subscriber owns a queue drained by its own delivery goroutine.
type subscriber struct {
	id      uint64
	app     string
	handler Handler
	events  chan RefreshEvent
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub is an in-process Bus. A run loop takes events off the broadcast
// queue and hands each one to the matching subscribers' queues. A full
// queue drops the event for that subscriber only.
type Hub struct {
	bufferSize int
	log        *logger.Logger
	metrics    *observability.Metrics

	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool

	broadcast chan RefreshEvent
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	loop      *component.Background
	delivery  sync.WaitGroup
}

var (
	_ Bus                 = (*Hub)(nil)
	_ component.Component = (*Hub)(nil)
)

// NewHub creates a hub. Events published before Start are queued.
func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		bufferSize: defaultBufferSize,
		log:        logger.GetGlobalLogger().WithComponent(hubName),
		subs:       make(map[string]map[uint64]*subscriber),
		broadcast:  make(chan RefreshEvent, defaultBufferSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.loop = component.NewBackground(hubName, h.run)
	return h
}

// Publish queues ev for fan-out. It blocks only while the broadcast queue
// is full, and returns ErrClosed once the hub is stopped.
func (h *Hub) Publish(ctx context.Context, ev RefreshEvent) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.broadcast <- ev:
		h.metrics.RecordRefreshEvent(ctx, ev.Application, DirectionPublished)
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for app.
func (h *Hub) Subscribe(app string, handler Handler) func() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	sub := &subscriber{
		id:      h.nextID,
		app:     app,
		handler: handler,
		events:  make(chan RefreshEvent, h.bufferSize),
	}
	if h.subs[app] == nil {
		h.subs[app] = make(map[uint64]*subscriber)
	}
	h.subs[app][sub.id] = sub
	h.delivery.Add(1)
	h.mu.Unlock()

	go h.deliver(sub)

	h.log.Debug("Subscriber registered", logger.Fields(logger.FieldApplication, app, "subscriber_id", sub.id))
	return func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.app]; ok {
		if _, ok := set[sub.id]; ok {
			delete(set, sub.id)
			if len(set) == 0 {
				delete(h.subs, sub.app)
			}
			sub.close()
		}
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions for app.
func (h *Hub) SubscriberCount(app string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[app])
}

func (h *Hub) deliver(sub *subscriber) {
	defer h.delivery.Done()
	for ev := range sub.events {
		sub.handler(h.ctx, ev)
		h.metrics.RecordRefreshEvent(h.ctx, ev.Application, DirectionDelivered)
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// fanOut runs on the loop goroutine. Sends happen under the read lock so
// a concurrent unsubscribe cannot close a queue mid-send.
func (h *Hub) fanOut(ev RefreshEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	matched := 0
	for _, sub := range h.subs[ev.Application] {
		select {
		case sub.events <- ev:
			matched++
		default:
			h.log.Warn("Subscriber queue full, dropping refresh event", logger.Fields(
				logger.FieldApplication, ev.Application,
				logger.FieldVersion, ev.Version,
				"subscriber_id", sub.id,
			))
			h.metrics.RecordRefreshEvent(h.ctx, ev.Application, DirectionDropped)
		}
	}
	h.log.Debug("Refresh event fanned out", logger.Fields(
		logger.FieldApplication, ev.Application,
		logger.FieldVersion, ev.Version,
		"match_count", matched,
	))
}

// Name implements component.Component.
func (h *Hub) Name() string { return hubName }

// Start launches the fan-out loop.
func (h *Hub) Start(ctx context.Context) error { return h.loop.Start(ctx) }

// Stop halts the loop, closes every subscription and waits for in-flight
// handlers. Events still queued are discarded.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.done)
		for app, set := range h.subs {
			for _, sub := range set {
				sub.close()
			}
			delete(h.subs, app)
		}
	}
	h.mu.Unlock()

	err := h.loop.Stop(ctx)
	h.cancel()

	waited := make(chan struct{})
	go func() {
		h.delivery.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Health reports the loop state.
func (h *Hub) Health(ctx context.Context) component.Health {
	return h.loop.Health(ctx)
}
