package configstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/validation"
)

type key struct {
	application string
	profile     string
	label       string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log.WithComponent("configstore") }
}

// WithMetrics records publishes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store holds the latest Snapshot per (application, profile, label) and
// announces refreshes on a bus.
type Store struct {
	bus     bus.Bus
	now     func() time.Time
	log     *logger.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[key]*Snapshot
	latest  map[string]uint64
}

// New creates an empty store publishing refreshes on b.
func New(b bus.Bus, opts ...Option) *Store {
	s := &Store{
		bus:     b,
		now:     time.Now,
		log:     logger.GetGlobalLogger().WithComponent("configstore"),
		entries: make(map[key]*Snapshot),
		latest:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus returns the bus refreshes are published on.
func (s *Store) Bus() bus.Bus { return s.bus }

// Publish stores props as the next version for the key. Nested maps are
// flattened to dotted keys. Snapshots returned earlier are not modified.
func (s *Store) Publish(ctx context.Context, application, profile, label string, props map[string]any) (*Snapshot, error) {
	profile, label = normalize(profile, label)
	if err := validateKey(application, profile, label); err != nil {
		return nil, err
	}
	flat := flatten(props)
	etag, err := computeETag(flat)
	if err != nil {
		return nil, errors.InvalidInput("properties", err.Error())
	}

	k := key{application, profile, label}
	s.mu.Lock()
	var version uint64 = 1
	if prev, ok := s.entries[k]; ok {
		version = prev.Version + 1
	}
	snap := &Snapshot{
		Application: application,
		Profile:     profile,
		Label:       label,
		Version:     version,
		ETag:        etag,
		PublishedAt: s.now(),
		properties:  flat,
	}
	s.entries[k] = snap
	if version > s.latest[application] {
		s.latest[application] = version
	}
	s.mu.Unlock()

	s.metrics.RecordConfigPublish(ctx, application)
	s.log.Info("Config published", logger.MergeFields(
		logger.ConfigFields(application, profile, label),
		logger.Fields(logger.FieldVersion, version, "properties", len(flat)),
	))
	return snap, nil
}

// Resolve returns the best match for the key, trying (profile, label),
// (profile, main), (default, label) and (default, main) in that order.
func (s *Store) Resolve(ctx context.Context, application, profile, label string) (*Snapshot, error) {
	profile, label = normalize(profile, label)
	ctx, span := observability.StartSpan(ctx, observability.SpanConfigResolve,
		trace.WithAttributes(attribute.String(observability.AttrApplication, application)))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range candidates(application, profile, label) {
		if snap, ok := s.entries[k]; ok {
			observability.EndSpan(span, nil)
			return snap, nil
		}
	}
	err := errors.ConfigNotFound(application, profile, label)
	observability.EndSpan(span, err)
	s.log.Debug("Config not found", logger.MergeFields(
		logger.ConfigFields(application, profile, label),
		observability.LogFields(ctx),
	))
	return nil, err
}

// TriggerRefresh publishes a RefreshEvent carrying the highest version
// published for application. An application with nothing published yet
// still gets an event, with version 0.
func (s *Store) TriggerRefresh(ctx context.Context, application string) (bus.RefreshEvent, error) {
	if err := validation.Var("application", application, "required"); err != nil {
		return bus.RefreshEvent{}, err
	}
	s.mu.RLock()
	version := s.latest[application]
	s.mu.RUnlock()

	ev := bus.RefreshEvent{Application: application, Version: version, PublishedAt: s.now()}
	if err := s.bus.Publish(ctx, ev); err != nil {
		return bus.RefreshEvent{}, errors.ServiceUnavailable("refresh bus").WithCause(err)
	}
	s.log.Info("Refresh triggered", logger.Fields(logger.FieldApplication, application, logger.FieldVersion, version))
	return ev, nil
}

// Applications returns the names with at least one snapshot, sorted.
func (s *Store) Applications() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.latest))
}

func normalize(profile, label string) (string, string) {
	if profile == "" {
		profile = DefaultProfile
	}
	if label == "" {
		label = DefaultLabel
	}
	return profile, label
}

func validateKey(application, profile, label string) error {
	for _, f := range []struct{ name, value string }{
		{"application", application},
		{"profile", profile},
		{"label", label},
	} {
		if err := validation.Var(f.name, f.value, "required,excludesall=/"); err != nil {
			return err
		}
	}
	return nil
}

func candidates(application, profile, label string) []key {
	out := make([]key, 0, 4)
	seen := make(map[key]bool, 4)
	for _, k := range []key{
		{application, profile, label},
		{application, profile, DefaultLabel},
		{application, DefaultProfile, label},
		{application, DefaultProfile, DefaultLabel},
	} {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
