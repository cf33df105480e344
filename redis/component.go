package redis

import (
	"context"
	"fmt"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
)

// Component owns a Client for the component registry. The client exists
// from construction so dependents can be wired before Start; Start
// verifies connectivity and Stop closes the pool.
type Component struct {
	client *Client
	log    *logger.Logger
}

var _ component.Component = (*Component)(nil)

// NewComponent creates the client without dialing.
func NewComponent(cfg Config, log *logger.Logger) (*Component, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("redis")
	client, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Component{client: client, log: log}, nil
}

// Client returns the underlying *Client.
func (c *Component) Client() *Client {
	return c.client
}

// Name returns the component name.
func (c *Component) Name() string { return "redis" }

// Start verifies connectivity.
func (c *Component) Start(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis start ping: %w", err)
	}
	c.log.Info("Redis component started", logger.Fields("addr", c.client.Addr()))
	return nil
}

// Stop closes the connection pool.
func (c *Component) Stop(_ context.Context) error {
	c.log.Info("Redis component stopping")
	return c.client.Close()
}

// Health pings the server.
func (c *Component) Health(ctx context.Context) component.Health {
	if err := c.client.Ping(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
