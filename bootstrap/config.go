package bootstrap

import (
	"github.com/kbukum/meshkit/config"
)

// Config is satisfied by any struct embedding config.ServiceConfig that
// also overrides ApplyDefaults and Validate for its own sections.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
