// Package balancer picks one instance of a service from the discovery
// cache using per-service round-robin.
package balancer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/registry"
)

// Snapshotter is the part of discovery.Cache the balancer reads.
type Snapshotter interface {
	Get(ctx context.Context, service string) (*discovery.Snapshot, error)
}

// Filter reports whether an instance may be picked.
type Filter func(inst registry.Instance) bool

// PickOption adjusts a single Pick.
type PickOption func(*pickOptions)

type pickOptions struct {
	filter Filter
}

// WithFilter skips instances rejected by f.
func WithFilter(f Filter) PickOption {
	return func(o *pickOptions) { o.filter = f }
}

// RoundRobin spreads picks evenly over the instances of each service.
type RoundRobin struct {
	snapshots Snapshotter
	counters  sync.Map // service -> *atomic.Uint64
}

// New creates a round-robin balancer over snapshots.
func New(snapshots Snapshotter) *RoundRobin {
	return &RoundRobin{snapshots: snapshots}
}

// Pick returns the next instance of service. It fails with
// NO_INSTANCE_AVAILABLE when the snapshot (after filtering) is empty.
func (b *RoundRobin) Pick(ctx context.Context, service string, opts ...PickOption) (registry.Instance, error) {
	var o pickOptions
	for _, opt := range opts {
		opt(&o)
	}

	snap, err := b.snapshots.Get(ctx, service)
	if err != nil {
		return registry.Instance{}, err
	}
	candidates := snap.Instances
	if o.filter != nil {
		candidates = make([]registry.Instance, 0, len(snap.Instances))
		for _, inst := range snap.Instances {
			if o.filter(inst) {
				candidates = append(candidates, inst)
			}
		}
	}
	if len(candidates) == 0 {
		return registry.Instance{}, errors.NoInstanceAvailable(service)
	}

	n := b.counter(service).Add(1) - 1
	return candidates[n%uint64(len(candidates))], nil
}

func (b *RoundRobin) counter(service string) *atomic.Uint64 {
	if c, ok := b.counters.Load(service); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := b.counters.LoadOrStore(service, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}
