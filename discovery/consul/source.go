// Package consul reads service membership from HashiCorp Consul.
package consul

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

// Source implements discovery.Source over the Consul health API. Only
// instances whose checks are all passing are returned.
type Source struct {
	client *api.Client
	cfg    Config
	log    *logger.Logger
}

// New creates a Source from cfg.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Token = cfg.Token
	apiCfg.Datacenter = cfg.Datacenter
	apiCfg.Namespace = cfg.Namespace
	if cfg.TLS != nil {
		apiCfg.TLSConfig = api.TLSConfig{
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Source{client: client, cfg: cfg, log: log.WithComponent("consul")}, nil
}

// Instances returns the passing instances of service, sorted by id.
func (s *Source) Instances(ctx context.Context, service string) ([]registry.Instance, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := s.client.Health().Service(service, s.cfg.Tag, true, opts)
	if err != nil {
		return nil, errors.Downstream("consul", fmt.Errorf("health query %q: %w", service, err))
	}
	return toInstances(entries), nil
}

// Watch emits the instance list each time Consul reports a membership
// change, using blocking queries. The channel closes when ctx is done.
func (s *Source) Watch(ctx context.Context, service string) <-chan []registry.Instance {
	ch := make(chan []registry.Instance, 1)
	go func() {
		defer close(ch)
		var lastIndex uint64
		for ctx.Err() == nil {
			opts := (&api.QueryOptions{WaitIndex: lastIndex, WaitTime: s.cfg.WaitTime}).WithContext(ctx)
			entries, meta, err := s.client.Health().Service(service, s.cfg.Tag, true, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("consul watch error", logger.MergeFields(
					logger.Fields(logger.FieldService, service), logger.ErrorFields("watch", err)))
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			// A reset index means the agent restarted; start over.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
			} else {
				lastIndex = meta.LastIndex
			}
			select {
			case ch <- toInstances(entries):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func toInstances(entries []*api.ServiceEntry) []registry.Instance {
	out := make([]registry.Instance, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		host := e.Service.Address
		if host == "" && e.Node != nil {
			host = e.Node.Address
		}
		out = append(out, registry.Instance{
			ServiceName: e.Service.Service,
			InstanceID:  e.Service.ID,
			Host:        host,
			Port:        e.Service.Port,
			Status:      registry.StatusUp,
			Metadata:    e.Service.Meta,
		})
	}
	slices.SortFunc(out, func(a, b registry.Instance) int { return strings.Compare(a.InstanceID, b.InstanceID) })
	return out
}
