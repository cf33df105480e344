package discovery

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/registry"
)

// Snapshot is one fetched view of a service. It is never modified after
// publication; Instances must be treated as read-only.
type Snapshot struct {
	Service   string
	Instances []registry.Instance
	// Version counts successful fetches for the service.
	Version uint64
	// SourceVersion is the source's change counter read just before the
	// fetch. It stays 0 for unversioned sources.
	SourceVersion uint64
	FetchedAt     time.Time
}

// Len returns the number of instances.
func (s *Snapshot) Len() int { return len(s.Instances) }

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.FetchedAt) }

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the cache logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache is a per-consumer discovery cache.
type Cache struct {
	source    Source
	versioned VersionedSource
	cfg       Config
	now       func() time.Time
	log       *logger.Logger

	mu      sync.RWMutex
	entries map[string]*atomic.Pointer[Snapshot]

	flight  singleflight.Group
	pending sync.Map

	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	ticker   *component.Background
}

var _ component.Component = (*Cache)(nil)

// NewCache creates a cache over source. Zero config fields take defaults.
func NewCache(source Source, cfg Config, opts ...Option) *Cache {
	cfg.ApplyDefaults()
	c := &Cache{
		source:  source,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.GetGlobalLogger(),
		entries: make(map[string]*atomic.Pointer[Snapshot]),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.versioned, _ = source.(VersionedSource)
	c.log = c.log.WithComponent("discovery")
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	c.ticker = component.NewBackground("discovery-refresh", c.Run)
	return c
}

// Get returns the cached snapshot for service. The first call for a
// service fetches synchronously; concurrent first calls share one fetch.
// A snapshot older than StaleAfter is returned as-is while a background
// refresh runs.
func (c *Cache) Get(ctx context.Context, service string) (*Snapshot, error) {
	if snap := c.load(service); snap != nil {
		if snap.Age(c.now()) > c.cfg.StaleAfter {
			c.refreshAsync(service)
		}
		return snap, nil
	}

	ch := c.flight.DoChan(service, func() (any, error) {
		if snap := c.load(service); snap != nil {
			return snap, nil
		}
		return c.fetch(context.WithoutCancel(ctx), service)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh fetches service from the source and publishes a new snapshot.
// On failure the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context, service string) error {
	_, err, _ := c.flight.Do(service, func() (any, error) {
		return c.fetch(ctx, service)
	})
	return err
}

// Invalidate drops the cached snapshot for service.
func (c *Cache) Invalidate(service string) {
	c.mu.Lock()
	delete(c.entries, service)
	c.mu.Unlock()
}

// Services returns the sorted names of cached services.
func (c *Cache) Services() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	c.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Run refreshes every cached service each RefreshInterval until ctx is
// done. With a VersionedSource it also refreshes whenever the change
// counter moves.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	var versionC <-chan time.Time
	if c.versioned != nil {
		poll := time.NewTicker(c.cfg.VersionPoll)
		defer poll.Stop()
		versionC = poll.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshAll(ctx)
		case <-versionC:
			c.refreshChanged(ctx)
		}
	}
}

func (c *Cache) Name() string { return "discovery" }

// Start warms the configured services and launches the periodic refresh.
// Warm-up failures are logged. A stopped cache can be started again.
func (c *Cache) Start(ctx context.Context) error {
	c.bgMu.Lock()
	if c.bgCtx.Err() != nil {
		c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	}
	c.bgMu.Unlock()
	for _, service := range c.cfg.Services {
		if _, err := c.Get(ctx, service); err != nil {
			c.log.Warn("discovery warm-up failed", logger.MergeFields(
				logger.Fields(logger.FieldService, service), logger.ErrorFields("warmup", err)))
		}
	}
	return c.ticker.Start(ctx)
}

// Stop halts the periodic refresh and waits for background refreshes.
func (c *Cache) Stop(ctx context.Context) error {
	c.bgMu.Lock()
	c.bgCancel()
	c.bgMu.Unlock()
	err := c.ticker.Stop(ctx)
	c.bgWG.Wait()
	return err
}

func (c *Cache) Health(ctx context.Context) component.Health {
	h := c.ticker.Health(ctx)
	h.Name = c.Name()
	return h
}

func (c *Cache) refreshAll(ctx context.Context) {
	for _, service := range c.Services() {
		if ctx.Err() != nil {
			return
		}
		_ = c.Refresh(ctx, service)
	}
}

// refreshChanged refreshes the cached services whose snapshot predates
// the source's current change counter.
func (c *Cache) refreshChanged(ctx context.Context) {
	vctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	current, err := c.versioned.Version(vctx)
	cancel()
	if err != nil {
		c.log.Debug("discovery version check failed", logger.ErrorFields("version", err))
		return
	}
	for _, service := range c.Services() {
		if ctx.Err() != nil {
			return
		}
		if snap := c.load(service); snap != nil && snap.SourceVersion != current {
			_ = c.Refresh(ctx, service)
		}
	}
}

func (c *Cache) refreshAsync(service string) {
	c.bgMu.Lock()
	bg := c.bgCtx
	if bg.Err() != nil {
		c.bgMu.Unlock()
		return
	}
	if _, busy := c.pending.LoadOrStore(service, struct{}{}); busy {
		c.bgMu.Unlock()
		return
	}
	c.bgWG.Add(1)
	c.bgMu.Unlock()
	go func() {
		defer c.bgWG.Done()
		defer c.pending.Delete(service)
		_ = c.Refresh(bg, service)
	}()
}

func (c *Cache) fetch(ctx context.Context, service string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, observability.SpanDiscoveryFetch,
		trace.WithAttributes(attribute.String(observability.AttrService, service)))

	// Read the counter first so a change racing the fetch shows up as a
	// mismatch on the next check.
	var sourceVersion uint64
	if c.versioned != nil {
		if v, verr := c.versioned.Version(ctx); verr == nil {
			sourceVersion = v
		}
	}
	instances, err := c.source.Instances(ctx, service)
	observability.EndSpan(span, err)
	if err != nil {
		fields := logger.MergeFields(logger.Fields(logger.FieldService, service), logger.ErrorFields("refresh", err))
		if prev := c.load(service); prev != nil {
			fields["snapshot_version"] = prev.Version
		}
		c.log.Warn("discovery refresh failed, keeping previous snapshot", fields)
		return nil, err
	}

	ptr := c.pointer(service)
	var version uint64 = 1
	if prev := ptr.Load(); prev != nil {
		version = prev.Version + 1
	}
	snap := &Snapshot{
		Service:       service,
		Instances:     slices.Clip(slices.Clone(instances)),
		Version:       version,
		SourceVersion: sourceVersion,
		FetchedAt:     c.now(),
	}
	if snap.Instances == nil {
		snap.Instances = []registry.Instance{}
	}
	ptr.Store(snap)
	c.log.Debug("discovery snapshot published", logger.Fields(
		logger.FieldService, service, logger.FieldVersion, version, "instances", len(snap.Instances)))
	return snap, nil
}

func (c *Cache) load(service string) *Snapshot {
	c.mu.RLock()
	ptr := c.entries[service]
	c.mu.RUnlock()
	if ptr == nil {
		return nil
	}
	return ptr.Load()
}

func (c *Cache) pointer(service string) *atomic.Pointer[Snapshot] {
	c.mu.RLock()
	ptr := c.entries[service]
	c.mu.RUnlock()
	if ptr != nil {
		return ptr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ptr = c.entries[service]; ptr == nil {
		ptr = new(atomic.Pointer[Snapshot])
		c.entries[service] = ptr
	}
	return ptr
}
