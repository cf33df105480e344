package main

import (
	"fmt"
	"slices"

	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/redis"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/server"
)

const (
	BusMemory = "memory"
	BusRedis  = "redis"
)

// Config is the meshd configuration, loaded from config.yml and MESHD_*
// environment variables.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Registry      registry.Config      `yaml:"registry" mapstructure:"registry"`
	ConfigStore   ConfigStoreConfig    `yaml:"configstore" mapstructure:"configstore"`
	Bus           BusConfig            `yaml:"bus" mapstructure:"bus"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ConfigStoreConfig points at the optional seed directory.
type ConfigStoreConfig struct {
	SeedDir string `yaml:"seed_dir" mapstructure:"seed_dir"`
}

// BusConfig selects the refresh bus transport.
type BusConfig struct {
	Provider string       `yaml:"provider" mapstructure:"provider"`
	Redis    redis.Config `yaml:"redis" mapstructure:"redis"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "meshd"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Registry.ApplyDefaults()
	c.Observability.ApplyDefaults()
	if c.Bus.Provider == "" {
		c.Bus.Provider = BusMemory
	}
	if c.Bus.Provider == BusRedis {
		c.Bus.Redis.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	providers := []string{BusMemory, BusRedis}
	if !slices.Contains(providers, c.Bus.Provider) {
		return fmt.Errorf("bus.provider must be one of %v (got: %s)", providers, c.Bus.Provider)
	}
	if c.Bus.Provider == BusRedis {
		if err := c.Bus.Redis.Validate(); err != nil {
			return fmt.Errorf("bus.redis: %w", err)
		}
	}
	return nil
}
