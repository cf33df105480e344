package httpclient

import (
	"fmt"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config configures the HTTP client.
type Config struct {
	// Service names the remote side in error messages.
	Service string `yaml:"service" mapstructure:"service"`
	// BaseURL is prepended to relative request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Timeout bounds non-streaming requests. Streams rely on ctx.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Headers are applied to every request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Service == "" {
		c.Service = "remote"
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be positive")
	}
	return nil
}
