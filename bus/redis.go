package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/redis"
)

// ChannelPrefix prefixes every Redis channel the bus uses.
const ChannelPrefix = "meshkit:refresh:"

const subscribeTimeout = 5 * time.Second

// Channel returns the Redis channel for app.
func Channel(app string) string { return ChannelPrefix + app }

// RedisBus is a Bus over Redis pub/sub. Each subscription holds its own
// connection. Publishing from one process reaches subscribers in all.
type RedisBus struct {
	client      *redis.Client
	log         *logger.Logger
	metrics     *observability.Metrics
	resubscribe time.Duration

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

// redisSub is one application subscription. ps is nil while a
// resubscribe is pending.
type redisSub struct {
	app    string
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ps *goredis.PubSub
}

// attach installs ps unless the subscription was closed meanwhile.
func (s *redisSub) attach(ps *goredis.PubSub) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		_ = ps.Close()
		return false
	}
	s.ps = ps
	return true
}

func (s *redisSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if s.ps != nil {
		_ = s.ps.Close()
		s.ps = nil
	}
}

var (
	_ Bus                 = (*RedisBus)(nil)
	_ component.Component = (*RedisBus)(nil)
)

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithResubscribeDelay sets the pause between subscribe attempts.
func WithResubscribeDelay(d time.Duration) RedisOption {
	return func(b *RedisBus) {
		if d > 0 {
			b.resubscribe = d
		}
	}
}

// NewRedisBus creates a bus over client.
func NewRedisBus(client *redis.Client, log *logger.Logger, metrics *observability.Metrics, opts ...RedisOption) *RedisBus {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	b := &RedisBus{
		client:      client,
		log:         log.WithComponent("bus.redis"),
		metrics:     metrics,
		resubscribe: defaultReconnectDelay,
		subs:        make(map[*redisSub]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends ev as JSON on the application's channel.
func (b *RedisBus) Publish(ctx context.Context, ev RefreshEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode refresh event: %w", err)
	}
	receivers, err := b.client.Publish(ctx, Channel(ev.Application), payload)
	if err != nil {
		return fmt.Errorf("publish refresh event for %s: %w", ev.Application, err)
	}
	b.metrics.RecordRefreshEvent(ctx, ev.Application, DirectionPublished)
	b.log.Debug("Refresh event published", logger.Fields(
		logger.FieldApplication, ev.Application,
		logger.FieldVersion, ev.Version,
		"receivers", receivers,
	))
	return nil
}

// Subscribe opens a subscription on the application's channel. The first
// attempt runs inline so events published after Subscribe returns are
// seen. If it fails, or the subscription later drops, it is retried every
// resubscribe delay until unsubscribed.
func (b *RedisBus) Subscribe(app string, h Handler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{app: app, ctx: ctx, cancel: cancel}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return func() {}
	}
	b.subs[sub] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	ps := b.open(sub)
	go b.follow(sub, ps, h)
	return func() { b.unsubscribe(sub) }
}

// open subscribes once and returns nil on failure.
func (b *RedisBus) open(sub *redisSub) *goredis.PubSub {
	ctx, cancel := context.WithTimeout(sub.ctx, subscribeTimeout)
	ps, err := b.client.Subscribe(ctx, Channel(sub.app))
	cancel()
	if err != nil {
		if sub.ctx.Err() == nil {
			b.log.Warn("Refresh subscription failed, retrying", logger.MergeFields(
				logger.ErrorFields("subscribe", err),
				logger.Fields(logger.FieldApplication, sub.app),
			))
		}
		return nil
	}
	if !sub.attach(ps) {
		return nil
	}
	return ps
}

func (b *RedisBus) follow(sub *redisSub, ps *goredis.PubSub, h Handler) {
	defer b.wg.Done()
	for {
		if ps != nil {
			b.receive(ps, h)
			if sub.ctx.Err() != nil {
				return
			}
			b.log.Warn("Refresh subscription dropped, resubscribing",
				logger.Fields(logger.FieldApplication, sub.app))
		}
		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(b.resubscribe):
		}
		ps = b.open(sub)
	}
}

func (b *RedisBus) receive(ps *goredis.PubSub, h Handler) {
	ctx := context.Background()
	for msg := range ps.Channel() {
		var ev RefreshEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.log.Warn("Discarding malformed refresh event", logger.MergeFields(
				logger.ErrorFields("decode", err),
				logger.Fields("channel", msg.Channel),
			))
			continue
		}
		h(ctx, ev)
		b.metrics.RecordRefreshEvent(ctx, ev.Application, DirectionDelivered)
	}
}

func (b *RedisBus) unsubscribe(sub *redisSub) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Name implements component.Component.
func (b *RedisBus) Name() string { return hubName }

// Start verifies the server is reachable.
func (b *RedisBus) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis bus start: %w", err)
	}
	return nil
}

// Stop closes every subscription and waits for the receivers to drain.
// The client itself belongs to the caller.
func (b *RedisBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*redisSub]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health pings Redis.
func (b *RedisBus) Health(ctx context.Context) component.Health {
	if err := b.client.Ping(ctx); err != nil {
		return component.Health{Name: hubName, Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: hubName, Status: component.StatusHealthy}
}
