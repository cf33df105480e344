package registry

import (
	"fmt"
	"time"
)

const (
	DefaultExpiry        = 90 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// Config holds registry timing.
type Config struct {
	// Expiry is how long an instance stays listed without a renewal.
	Expiry time.Duration `yaml:"expiry" mapstructure:"expiry"`
	// SweepInterval is the eviction sweep period.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// ApplyDefaults sets 90s expiry and a 30s sweep for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks the registry timing.
func (c *Config) Validate() error {
	if c.Expiry <= 0 {
		return fmt.Errorf("registry.expiry must be positive (got: %s)", c.Expiry)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("registry.sweep_interval must be positive (got: %s)", c.SweepInterval)
	}
	return nil
}
