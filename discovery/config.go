package discovery

import (
	"fmt"
	"time"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultStaleAfter      = 30 * time.Second
	DefaultFetchTimeout    = 5 * time.Second
	DefaultVersionPoll     = 2 * time.Second
)

// Config holds the cache timing.
type Config struct {
	// RefreshInterval is how often every known service is re-fetched.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	// StaleAfter is the snapshot age that triggers a background refresh on read.
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	// FetchTimeout bounds a single Source call.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	// VersionPoll is how often a VersionedSource's change counter is
	// checked. Unversioned sources ignore it.
	VersionPoll time.Duration `yaml:"version_poll" mapstructure:"version_poll"`
	// Services are fetched on Start so the first calls hit a warm cache.
	Services []string `yaml:"services" mapstructure:"services"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.VersionPoll <= 0 {
		c.VersionPoll = DefaultVersionPoll
	}
}

// Validate checks the timing values.
func (c *Config) Validate() error {
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("discovery.refresh_interval must be positive (got: %s)", c.RefreshInterval)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("discovery.stale_after must be positive (got: %s)", c.StaleAfter)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("discovery.fetch_timeout must be positive (got: %s)", c.FetchTimeout)
	}
	if c.VersionPoll <= 0 {
		return fmt.Errorf("discovery.version_poll must be positive (got: %s)", c.VersionPoll)
	}
	return nil
}
