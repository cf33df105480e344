// Package agent keeps one service instance registered: it registers on
// Start, renews on an interval, re-registers after an eviction and
// deregisters on Stop.
package agent

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

// Registrar is the registry surface the agent needs. *client.Client
// satisfies it; Local adapts an in-process *registry.Registry.
type Registrar interface {
	Register(ctx context.Context, inst registry.Instance) error
	Renew(ctx context.Context, service, id string) error
	Deregister(ctx context.Context, service, id string) error
}

// Local adapts an in-process registry.
func Local(reg *registry.Registry) Registrar {
	return localRegistrar{reg}
}

type localRegistrar struct{ reg *registry.Registry }

func (l localRegistrar) Register(ctx context.Context, inst registry.Instance) error {
	_, err := l.reg.Register(ctx, inst)
	return err
}

func (l localRegistrar) Renew(ctx context.Context, service, id string) error {
	return l.reg.Renew(ctx, service, id)
}

func (l localRegistrar) Deregister(ctx context.Context, service, id string) error {
	return l.reg.Deregister(ctx, service, id)
}

// Config describes the advertised instance and the heartbeat cadence.
type Config struct {
	Service    string            `yaml:"service" mapstructure:"service"`
	InstanceID string            `yaml:"instance_id" mapstructure:"instance_id"`
	Host       string            `yaml:"host" mapstructure:"host"`
	Port       int               `yaml:"port" mapstructure:"port"`
	Metadata   map[string]string `yaml:"metadata" mapstructure:"metadata"`

	// Interval between renewals. Keep it well under the registry expiry.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// Timeout bounds every registry call.
	Timeout time.Duration          `yaml:"timeout" mapstructure:"timeout"`
	Retry   resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// ApplyDefaults sets default values for unset fields. A missing instance
// id becomes a random UUID.
func (c *Config) ApplyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	c.Retry.ApplyDefaults()
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Interval <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("agent interval and timeout must be positive")
	}
	return c.instance().Validate()
}

func (c *Config) instance() registry.Instance {
	return registry.Instance{
		ServiceName: c.Service,
		InstanceID:  c.InstanceID,
		Host:        c.Host,
		Port:        c.Port,
		Status:      registry.StatusUp,
		Metadata:    maps.Clone(c.Metadata),
	}
}

// Agent is a component owning one registration.
type Agent struct {
	cfg  Config
	reg  Registrar
	log  *logger.Logger
	loop *component.Background

	registered atomic.Bool
	renewals   atomic.Int64
	lastErr    atomic.Pointer[error]
}

var _ component.Component = (*Agent)(nil)

// New creates an agent. log may be nil.
func New(reg Registrar, cfg Config, log *logger.Logger) (*Agent, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	a := &Agent{
		cfg: cfg,
		reg: reg,
		log: log.WithComponent("registry-agent").WithFields(logger.InstanceFields(cfg.Service, cfg.InstanceID)),
	}
	a.loop = component.NewBackground("registry-agent", a.run)
	return a, nil
}

// Instance returns the advertised instance.
func (a *Agent) Instance() registry.Instance { return a.cfg.instance() }

// Registered reports whether the last registry call left the instance
// registered.
func (a *Agent) Registered() bool { return a.registered.Load() }

// Renewals returns the number of successful renewals.
func (a *Agent) Renewals() int64 { return a.renewals.Load() }

func (a *Agent) Name() string { return "registry-agent" }

// Start registers, retrying per cfg.Retry, then starts the heartbeat. A
// registration that still fails is logged and retried on every tick
// rather than failing startup.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		a.log.Warn("Initial registration failed, will retry", logger.ErrorFields("register", err))
	}
	return a.loop.Start(ctx)
}

// Stop halts the heartbeat and deregisters. Deregistration errors are
// logged; the registry evicts the instance anyway once its lease expires.
func (a *Agent) Stop(ctx context.Context) error {
	err := a.loop.Stop(ctx)
	if !a.registered.Swap(false) {
		return err
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timeout)
	defer cancel()
	if derr := a.reg.Deregister(callCtx, a.cfg.Service, a.cfg.InstanceID); derr != nil {
		a.log.Warn("Deregistration failed", logger.ErrorFields("deregister", derr))
	} else {
		a.log.Info("Instance deregistered")
	}
	return err
}

func (a *Agent) Health(ctx context.Context) component.Health {
	h := a.loop.Health(ctx)
	h.Name = a.Name()
	if h.Status != component.StatusHealthy {
		return h
	}
	if !a.registered.Load() {
		msg := "not registered"
		if errp := a.lastErr.Load(); errp != nil {
			msg = (*errp).Error()
		}
		return component.Health{Name: a.Name(), Status: component.StatusDegraded, Message: msg}
	}
	return h
}

func (a *Agent) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.heartbeat(ctx)
		}
	}
}

// heartbeat renews, falling back to a fresh registration when the
// registry no longer knows the instance.
func (a *Agent) heartbeat(ctx context.Context) {
	if !a.registered.Load() {
		if err := a.register(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("Registration failed", logger.ErrorFields("register", err))
		}
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	err := a.reg.Renew(callCtx, a.cfg.Service, a.cfg.InstanceID)
	cancel()
	switch {
	case err == nil:
		a.renewals.Add(1)
		a.lastErr.Store(nil)
	case errors.IsInstanceNotFound(err):
		a.log.Info("Lease lost, registering again")
		a.registered.Store(false)
		if err := a.register(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("Re-registration failed", logger.ErrorFields("register", err))
		}
	case ctx.Err() == nil:
		a.lastErr.Store(&err)
		a.log.Warn("Renewal failed", logger.ErrorFields("renew", err))
	}
}

func (a *Agent) register(ctx context.Context) error {
	retry := a.cfg.Retry
	retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		a.log.Debug("Retrying registration", logger.MergeFields(
			logger.ErrorFields("register", err),
			logger.Fields("attempt", attempt, "backoff_ms", backoff.Milliseconds()),
		))
	}
	err := resilience.RetryFunc(ctx, retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		return a.reg.Register(callCtx, a.cfg.instance())
	})
	if err != nil {
		a.lastErr.Store(&err)
		return err
	}
	a.lastErr.Store(nil)
	a.registered.Store(true)
	a.log.Info("Instance registered", logger.Fields("addr", a.cfg.instance().Addr()))
	return nil
}
