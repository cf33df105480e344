package configclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/configstore"
	"github.com/kbukum/meshkit/logger"
)

// Config configures a Client.
type Config struct {
	Application string `yaml:"application" mapstructure:"application"`
	Profile     string `yaml:"profile" mapstructure:"profile"`
	Label       string `yaml:"label" mapstructure:"label"`

	// PollInterval re-resolves even without refresh events.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// ResolveTimeout bounds a single resolve.
	ResolveTimeout time.Duration `yaml:"resolve_timeout" mapstructure:"resolve_timeout"`
	// FailFast makes Start fail when the first resolve fails.
	FailFast bool `yaml:"fail_fast" mapstructure:"fail_fast"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Profile == "" {
		c.Profile = configstore.DefaultProfile
	}
	if c.Label == "" {
		c.Label = configstore.DefaultLabel
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = 5 * time.Second
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Application == "" {
		return fmt.Errorf("configclient.application is required")
	}
	if c.PollInterval < 0 || c.ResolveTimeout <= 0 {
		return fmt.Errorf("configclient intervals must be positive")
	}
	return nil
}

// ChangeFunc observes a swap. old is nil on the first successful resolve.
type ChangeFunc func(old, current *configstore.Snapshot)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log.WithComponent("configclient") }
}

// Client keeps the latest snapshot for one (application, profile, label)
// and swaps it when the store announces a refresh or the poll interval
// elapses. Readers holding an older snapshot keep using it unchanged.
type Client struct {
	cfg Config
	src Source
	bus bus.Bus
	log *logger.Logger

	current atomic.Pointer[configstore.Snapshot]
	lastErr atomic.Pointer[error]

	mu          sync.Mutex
	listeners   []ChangeFunc
	unsubscribe func()

	// refreshMu orders swaps so listeners see them in sequence.
	refreshMu sync.Mutex
	trigger   chan struct{}
	loop      *component.Background
}

var _ component.Component = (*Client)(nil)

// New creates a client. b may be nil, leaving polling as the only
// refresh path.
func New(src Source, b bus.Bus, cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		src:     src,
		bus:     b,
		log:     logger.GetGlobalLogger().WithComponent("configclient"),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithFields(logger.ConfigFields(cfg.Application, cfg.Profile, cfg.Label))
	c.loop = component.NewBackground("configclient", c.run)
	return c, nil
}

// Current returns the cached snapshot, or nil before the first successful
// resolve.
func (c *Client) Current() *configstore.Snapshot {
	return c.current.Load()
}

// OnChange registers fn to run after each swap.
func (c *Client) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Refresh re-resolves now and reports whether the snapshot changed. On
// failure the cached snapshot stays in place.
func (c *Client) Refresh(ctx context.Context) (bool, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	defer cancel()
	next, err := c.src.Resolve(ctx, c.cfg.Application, c.cfg.Profile, c.cfg.Label)
	if err != nil {
		c.lastErr.Store(&err)
		return false, err
	}
	c.lastErr.Store(nil)

	old := c.current.Load()
	if !changed(old, next) {
		return false, nil
	}
	c.current.Store(next)

	c.log.Info("Config snapshot swapped", logger.Fields(
		logger.FieldVersion, next.Version,
		"etag", next.ETag,
		"resolved_profile", next.Profile,
		"resolved_label", next.Label,
	))

	c.mu.Lock()
	listeners := append([]ChangeFunc(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(old, next)
	}
	return true, nil
}

func changed(old, next *configstore.Snapshot) bool {
	if old == nil {
		return true
	}
	return old.Version != next.Version ||
		old.ETag != next.ETag ||
		old.Profile != next.Profile ||
		old.Label != next.Label
}

// Name implements component.Component.
func (c *Client) Name() string { return "configclient" }

// Start resolves once, subscribes to refresh events and starts the poll
// loop. Without FailFast a failed first resolve is logged and retried by
// the loop.
func (c *Client) Start(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		if c.cfg.FailFast {
			return fmt.Errorf("configclient initial resolve: %w", err)
		}
		c.log.Warn("Initial config resolve failed", logger.ErrorFields("resolve", err))
	}

	if c.bus != nil {
		unsubscribe := c.bus.Subscribe(c.cfg.Application, func(_ context.Context, ev bus.RefreshEvent) {
			c.log.Debug("Refresh event received", logger.Fields(logger.FieldVersion, ev.Version))
			c.requestRefresh()
		})
		c.mu.Lock()
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
	}
	return c.loop.Start(ctx)
}

// requestRefresh coalesces bursts of events into one pending refresh.
func (c *Client) requestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Client) run(ctx context.Context) {
	var tick <-chan time.Time
	if c.cfg.PollInterval > 0 {
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			c.refreshInBackground(ctx, "event")
		case <-tick:
			c.refreshInBackground(ctx, "poll")
		}
	}
}

func (c *Client) refreshInBackground(ctx context.Context, reason string) {
	if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("Config refresh failed, keeping current snapshot", logger.MergeFields(
			logger.ErrorFields("refresh", err),
			logger.Fields("reason", reason),
		))
	}
}

// Stop unsubscribes and stops the poll loop.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	return c.loop.Stop(ctx)
}

// Health is degraded when no snapshot has been resolved yet or the last
// refresh failed.
func (c *Client) Health(ctx context.Context) component.Health {
	h := c.loop.Health(ctx)
	h.Name = c.Name()
	if h.Status != component.StatusHealthy {
		return h
	}
	if c.Current() == nil {
		return component.Health{Name: c.Name(), Status: component.StatusDegraded, Message: "no snapshot resolved"}
	}
	if errp := c.lastErr.Load(); errp != nil {
		return component.Health{Name: c.Name(), Status: component.StatusDegraded, Message: (*errp).Error()}
	}
	return h
}
