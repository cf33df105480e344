package discovery

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/kbukum/meshkit/registry"
)

// Source returns the current UP instances of a service.
type Source interface {
	Instances(ctx context.Context, service string) ([]registry.Instance, error)
}

// VersionedSource is a Source with a membership change counter. The
// cache polls Version and refreshes as soon as the counter moves, without
// waiting for snapshots to go stale.
type VersionedSource interface {
	Source
	Version(ctx context.Context) (uint64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, service string) ([]registry.Instance, error)

func (f SourceFunc) Instances(ctx context.Context, service string) ([]registry.Instance, error) {
	return f(ctx, service)
}

// RegistrySource reads from an in-process registry.
type RegistrySource struct {
	reg *registry.Registry
}

// NewRegistrySource wraps reg.
func NewRegistrySource(reg *registry.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) Instances(ctx context.Context, service string) ([]registry.Instance, error) {
	return s.reg.List(ctx, service)
}

// Version returns the registry change counter.
func (s *RegistrySource) Version(context.Context) (uint64, error) {
	return s.reg.Version(), nil
}

// StaticSource serves fixed instance lists.
type StaticSource struct {
	mu       sync.RWMutex
	services map[string][]registry.Instance
}

// NewStaticSource creates a source from service name to instances.
func NewStaticSource(services map[string][]registry.Instance) *StaticSource {
	s := &StaticSource{services: make(map[string][]registry.Instance)}
	for name, list := range services {
		s.Set(name, list)
	}
	return s
}

// Set replaces the instances of service.
func (s *StaticSource) Set(service string, instances []registry.Instance) {
	list := slices.Clone(instances)
	for i := range list {
		list[i].ServiceName = service
		if list[i].Status == "" {
			list[i].Status = registry.StatusUp
		}
	}
	slices.SortFunc(list, func(a, b registry.Instance) int { return strings.Compare(a.InstanceID, b.InstanceID) })
	s.mu.Lock()
	s.services[service] = list
	s.mu.Unlock()
}

func (s *StaticSource) Instances(_ context.Context, service string) ([]registry.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.Instance, 0, len(s.services[service]))
	for _, inst := range s.services[service] {
		if inst.Status == registry.StatusUp {
			out = append(out, inst)
		}
	}
	return out, nil
}

var (
	_ VersionedSource = (*RegistrySource)(nil)
	_ Source = (*StaticSource)(nil)
	_ Source = SourceFunc(nil)
)
