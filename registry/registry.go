package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
)

type serviceEntry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	// removed is set when the entry has been dropped from the map; writers
	// holding a stale pointer retry against the map.
	removed bool
}

// ServiceSummary is one row of the registry overview.
type ServiceSummary struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Up        int    `json:"up"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics records membership changes and evictions.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is the in-memory service registry.
type Registry struct {
	cfg      Config
	mu       sync.RWMutex
	services map[string]*serviceEntry
	version  atomic.Uint64

	now     func() time.Time
	log     *logger.Logger
	metrics *observability.Metrics
	sweeper *component.Background
}

var _ component.Component = (*Registry)(nil)

// New creates a registry. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Registry {
	cfg.ApplyDefaults()
	r := &Registry{
		cfg:      cfg,
		services: make(map[string]*serviceEntry),
		now:      time.Now,
		log:      logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("registry")
	r.sweeper = component.NewBackground("registry-sweeper", r.Run)
	return r
}

// Version returns the membership change counter.
func (r *Registry) Version() uint64 { return r.version.Load() }

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Register inserts or overwrites the instance keyed by (service, id) and
// stamps LastRenewedAt. An empty status means UP.
func (r *Registry) Register(ctx context.Context, inst Instance) (Instance, error) {
	if err := inst.Validate(); err != nil {
		return Instance{}, err
	}
	if inst.Status == "" {
		inst.Status = StatusUp
	}
	inst = inst.clone()

	for {
		entry := r.entry(inst.ServiceName, true)
		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}
		now := r.now()
		prev, existed := entry.instances[inst.InstanceID]
		expired := existed && prev.LastRenewedAt.Before(now.Add(-r.cfg.Expiry))
		inst.RegisteredAt = now
		if existed && !expired {
			inst.RegisteredAt = prev.RegisteredAt
		}
		inst.LastRenewedAt = now
		stored := inst
		entry.instances[inst.InstanceID] = &stored
		entry.mu.Unlock()

		if !existed || expired || !prev.sameEndpoint(inst) {
			r.changed(ctx, inst.ServiceName, "register")
			r.log.Info("instance registered", logger.MergeFields(
				logger.InstanceFields(inst.ServiceName, inst.InstanceID),
				logger.Fields("addr", inst.Addr(), "replaced", existed)))
		}
		return inst.clone(), nil
	}
}

// Renew stamps LastRenewedAt. It fails with INSTANCE_NOT_FOUND when the
// instance was never registered or has been evicted.
func (r *Registry) Renew(ctx context.Context, service, id string) error {
	entry := r.entry(service, false)
	if entry == nil {
		return errors.InstanceNotFound(service, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	inst, ok := entry.instances[id]
	if !ok || entry.removed {
		return errors.InstanceNotFound(service, id)
	}
	now := r.now()
	// An expired lease awaiting the sweep counts as evicted.
	if inst.LastRenewedAt.Before(now.Add(-r.cfg.Expiry)) {
		return errors.InstanceNotFound(service, id)
	}
	inst.LastRenewedAt = now
	return nil
}

// Deregister removes the instance. Absent instances are a no-op.
func (r *Registry) Deregister(ctx context.Context, service, id string) error {
	entry := r.entry(service, false)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	_, ok := entry.instances[id]
	delete(entry.instances, id)
	empty := len(entry.instances) == 0
	entry.mu.Unlock()

	if ok {
		r.changed(ctx, service, "deregister")
		r.log.Info("instance deregistered", logger.InstanceFields(service, id))
	}
	if empty {
		r.prune(service)
	}
	return nil
}

// SetStatus overrides the advertised status without touching the lease.
func (r *Registry) SetStatus(ctx context.Context, service, id string, status Status) error {
	if !status.Valid() {
		return errors.InvalidInput("status", "must be UP or DOWN")
	}
	entry := r.entry(service, false)
	if entry == nil {
		return errors.InstanceNotFound(service, id)
	}
	entry.mu.Lock()
	inst, ok := entry.instances[id]
	if !ok || entry.removed {
		entry.mu.Unlock()
		return errors.InstanceNotFound(service, id)
	}
	changed := inst.Status != status
	inst.Status = status
	entry.mu.Unlock()

	if changed {
		r.changed(ctx, service, "status")
		r.log.Info("instance status changed", logger.MergeFields(
			logger.InstanceFields(service, id), logger.Fields(logger.FieldStatus, string(status))))
	}
	return nil
}

// List returns the UP instances of service whose lease is current, sorted
// by instance id. It returns an empty slice for unknown services.
func (r *Registry) List(ctx context.Context, service string) ([]Instance, error) {
	out := []Instance{}
	entry := r.entry(service, false)
	if entry == nil {
		return out, nil
	}
	cutoff := r.now().Add(-r.cfg.Expiry)
	entry.mu.Lock()
	for _, inst := range entry.instances {
		if inst.Status == StatusUp && !inst.LastRenewedAt.Before(cutoff) {
			out = append(out, inst.clone())
		}
	}
	entry.mu.Unlock()

	slices.SortFunc(out, func(a, b Instance) int { return strings.Compare(a.InstanceID, b.InstanceID) })
	return out, nil
}

// Get returns one instance regardless of status.
func (r *Registry) Get(ctx context.Context, service, id string) (Instance, error) {
	entry := r.entry(service, false)
	if entry == nil {
		return Instance{}, errors.InstanceNotFound(service, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	inst, ok := entry.instances[id]
	if !ok {
		return Instance{}, errors.InstanceNotFound(service, id)
	}
	return inst.clone(), nil
}

// Services returns the sorted names of services with at least one instance.
func (r *Registry) Services(ctx context.Context) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Summary returns instance counts per service, sorted by name.
func (r *Registry) Summary(ctx context.Context) []ServiceSummary {
	names := r.Services(ctx)
	out := make([]ServiceSummary, 0, len(names))
	for _, name := range names {
		entry := r.entry(name, false)
		if entry == nil {
			continue
		}
		s := ServiceSummary{Name: name}
		entry.mu.Lock()
		s.Instances = len(entry.instances)
		for _, inst := range entry.instances {
			if inst.Status == StatusUp {
				s.Up++
			}
		}
		entry.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// Evict removes every instance whose last renewal is older than the
// expiry threshold at now, and returns how many were removed.
func (r *Registry) Evict(now time.Time) int {
	cutoff := now.Add(-r.cfg.Expiry)
	ctx := context.Background()

	r.mu.RLock()
	entries := make(map[string]*serviceEntry, len(r.services))
	for name, e := range r.services {
		entries[name] = e
	}
	r.mu.RUnlock()

	evicted := 0
	for service, entry := range entries {
		var ids []string
		entry.mu.Lock()
		for id, inst := range entry.instances {
			if inst.LastRenewedAt.Before(cutoff) {
				delete(entry.instances, id)
				ids = append(ids, id)
			}
		}
		empty := len(entry.instances) == 0
		entry.mu.Unlock()

		for _, id := range ids {
			evicted++
			r.changed(ctx, service, "evict")
			r.metrics.RecordEviction(ctx, service)
			r.log.Warn("instance evicted", logger.InstanceFields(service, id))
		}
		if empty {
			r.prune(service)
		}
	}
	return evicted
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(r.now()); n > 0 {
				r.log.Info("eviction sweep", logger.Fields("evicted", n, logger.FieldVersion, r.Version()))
			}
		}
	}
}

func (r *Registry) Name() string { return "registry" }

// Start launches the eviction sweep.
func (r *Registry) Start(ctx context.Context) error { return r.sweeper.Start(ctx) }

// Stop halts the eviction sweep and waits for it.
func (r *Registry) Stop(ctx context.Context) error { return r.sweeper.Stop(ctx) }

func (r *Registry) Health(ctx context.Context) component.Health {
	h := r.sweeper.Health(ctx)
	h.Name = r.Name()
	return h
}

func (r *Registry) entry(service string, create bool) *serviceEntry {
	r.mu.RLock()
	e := r.services[service]
	r.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.services[service]; e == nil {
		e = &serviceEntry{instances: make(map[string]*Instance)}
		r.services[service] = e
	}
	return e
}

// prune drops an empty service entry.
func (r *Registry) prune(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.services[service]
	if e == nil {
		return
	}
	e.mu.Lock()
	if len(e.instances) == 0 {
		e.removed = true
		delete(r.services, service)
	}
	e.mu.Unlock()
}

func (r *Registry) changed(ctx context.Context, service, op string) {
	r.version.Add(1)
	r.metrics.RecordRegistryChange(ctx, service, op)
}
