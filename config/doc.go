// Package config loads process configuration for meshkit binaries.
//
// Values come from a YAML file (explicit path or searched under ./cmd/<name>,
// ./config and the working directory), an optional .env file, and
// environment variables. Environment variables win. A variable is matched
// to a nested key by prefix, so MESHD_REGISTRY_SWEEP_INTERVAL sets
// registry.sweep_interval when the prefix is MESHD.
//
//	var cfg Config
//	err := config.LoadConfig("meshd", &cfg, config.WithEnvPrefix("MESHD"))
package config
