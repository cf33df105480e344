// Package client talks to a registry server over its REST API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/registry"
)

// Client is a registry REST client. It satisfies discovery.VersionedSource.
type Client struct {
	http *httpclient.Client
}

// New creates a client for the registry at cfg.BaseURL.
func New(cfg httpclient.Config) (*Client, error) {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient creates a client over hc.
func NewWithHTTPClient(cfg httpclient.Config, hc *http.Client) (*Client, error) {
	if cfg.Service == "" {
		cfg.Service = "registry"
	}
	c, err := httpclient.NewWithHTTPClient(cfg, hc)
	if err != nil {
		return nil, err
	}
	return &Client{http: c}, nil
}

// Register registers or overwrites inst.
func (c *Client) Register(ctx context.Context, inst registry.Instance) error {
	_, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   instancePath(inst.ServiceName, inst.InstanceID),
		Body: registry.RegisterRequest{
			Host:     inst.Host,
			Port:     inst.Port,
			Status:   inst.Status,
			Metadata: inst.Metadata,
		},
	})
	return err
}

// Renew sends a heartbeat. An unknown instance yields INSTANCE_NOT_FOUND.
func (c *Client) Renew(ctx context.Context, service, id string) error {
	_, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   instancePath(service, id),
	})
	return err
}

// Deregister removes the instance.
func (c *Client) Deregister(ctx context.Context, service, id string) error {
	_, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   instancePath(service, id),
	})
	return err
}

// SetStatus overrides the advertised status.
func (c *Client) SetStatus(ctx context.Context, service, id string, status registry.Status) error {
	_, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   instancePath(service, id) + "/status/" + url.PathEscape(string(status)),
	})
	return err
}

// Instances lists the UP instances of service.
func (c *Client) Instances(ctx context.Context, service string) ([]registry.Instance, error) {
	var out []registry.Instance
	if _, err := c.http.DoJSON(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/registry/" + url.PathEscape(service),
	}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []registry.Instance{}
	}
	return out, nil
}

// Summary returns the per-service instance counts.
func (c *Client) Summary(ctx context.Context) ([]registry.ServiceSummary, error) {
	var out []registry.ServiceSummary
	if _, err := c.http.DoJSON(ctx, httpclient.Request{Method: http.MethodGet, Path: "/registry"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Version returns the registry change counter from the overview response.
func (c *Client) Version(ctx context.Context) (uint64, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: "/registry"})
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(resp.Headers.Get(registry.VersionHeader), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("registry version header: %w", err)
	}
	return v, nil
}

func instancePath(service, id string) string {
	return "/registry/" + url.PathEscape(service) + "/" + url.PathEscape(id)
}
