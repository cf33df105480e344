package consul

import (
	"fmt"
	"time"
)

// Config holds Consul connection settings.
type Config struct {
	// Address is the Consul agent address (default: localhost:8500).
	Address string `yaml:"address" mapstructure:"address"`
	// Scheme is the URI scheme (http/https).
	Scheme string `yaml:"scheme" mapstructure:"scheme"`
	// Datacenter to query. Empty uses the agent's datacenter.
	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`
	// Token is the ACL token.
	Token string `yaml:"token" mapstructure:"token"`
	// Namespace for Consul Enterprise.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	// Tag restricts results to services carrying it.
	Tag string `yaml:"tag" mapstructure:"tag"`
	// WaitTime bounds a blocking query in Watch.
	WaitTime time.Duration `yaml:"wait_time" mapstructure:"wait_time"`
	// TLS configuration.
	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig holds TLS configuration for Consul connections.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file" mapstructure:"ca_file"`
	CertFile           string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile            string `yaml:"key_file" mapstructure:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("consul.scheme must be http or https (got: %q)", c.Scheme)
	}
	return nil
}
