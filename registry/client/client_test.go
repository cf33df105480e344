package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

var _ discovery.VersionedSource = (*Client)(nil)

func newTestServer(t *testing.T) (*registry.Registry, *Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	engine := gin.New()
	registry.NewHandler(reg).Mount(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	c, err := NewWithHTTPClient(httpclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, srv.Client())
	if err != nil {
		t.Fatalf("NewWithHTTPClient failed: %v", err)
	}
	return reg, c
}

func TestClient_Lifecycle(t *testing.T) {
	reg, c := newTestServer(t)
	ctx := context.Background()

	if err := c.Renew(ctx, "users", "u-1"); !errors.IsInstanceNotFound(err) {
		t.Fatalf("expected INSTANCE_NOT_FOUND before register, got %v", err)
	}

	inst := registry.Instance{ServiceName: "users", InstanceID: "u-1", Host: "127.0.0.1", Port: 9000,
		Metadata: map[string]string{"zone": "eu"}}
	if err := c.Register(ctx, inst); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := c.Renew(ctx, "users", "u-1"); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}

	list, err := c.Instances(ctx, "users")
	if err != nil {
		t.Fatalf("Instances failed: %v", err)
	}
	if len(list) != 1 || list[0].Addr() != "127.0.0.1:9000" || list[0].Metadata["zone"] != "eu" {
		t.Fatalf("unexpected instances %+v", list)
	}

	summary, err := c.Summary(ctx)
	if err != nil || len(summary) != 1 || summary[0].Instances != 1 {
		t.Fatalf("unexpected summary %+v, %v", summary, err)
	}

	if err := c.SetStatus(ctx, "users", "u-1", registry.StatusDown); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if list, _ := c.Instances(ctx, "users"); len(list) != 0 {
		t.Errorf("DOWN instance must not be listed remotely")
	}

	if err := c.Deregister(ctx, "users", "u-1"); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if len(reg.Services(ctx)) != 0 {
		t.Errorf("expected registry to be empty, got %v", reg.Services(ctx))
	}
}

func TestClient_InstancesOfUnknownService(t *testing.T) {
	_, c := newTestServer(t)
	list, err := c.Instances(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", list)
	}
}

func TestClient_RegisterValidation(t *testing.T) {
	_, c := newTestServer(t)
	err := c.Register(context.Background(), registry.Instance{ServiceName: "users", InstanceID: "u-1", Host: "h"})
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c, err := New(httpclient.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Instances(context.Background(), "users")
	if !errors.IsDownstream(err) && !errors.IsCallTimeout(err) {
		t.Fatalf("expected DOWNSTREAM_ERROR or CALL_TIMEOUT, got %v", err)
	}
}

func TestClient_Version(t *testing.T) {
	reg, c := newTestServer(t)
	ctx := context.Background()

	v0, err := c.Version(ctx)
	if err != nil || v0 != reg.Version() {
		t.Fatalf("expected version %d, got %d, %v", reg.Version(), v0, err)
	}
	if err := c.Register(ctx, registry.Instance{ServiceName: "users", InstanceID: "u-1", Host: "h", Port: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	v1, err := c.Version(ctx)
	if err != nil || v1 <= v0 {
		t.Fatalf("expected version above %d after register, got %d, %v", v0, v1, err)
	}
}
