package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/configclient"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	regclient "github.com/kbukum/meshkit/registry/client"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestApp(t *testing.T, cfg *Config) *bootstrap.App[*Config] {
	t.Helper()
	app, err := bootstrap.NewApp(cfg, bootstrap.WithLogger(logger.Nop()), bootstrap.WithGracefulTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, setup(context.Background(), app))
	return app
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "meshd", cfg.Name)
	assert.Equal(t, BusMemory, cfg.Bus.Provider)
	assert.Equal(t, 8761, cfg.Server.Port)
	assert.Equal(t, registry.DefaultExpiry, cfg.Registry.Expiry)
	assert.Empty(t, cfg.Bus.Redis.Addr, "redis defaults apply only to the redis provider")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown bus", func(c *Config) { c.Bus.Provider = "kafka" }},
		{"bad environment", func(c *Config) { c.Environment = "qa" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad sample rate", func(c *Config) { c.Observability.SampleRate = 2 }},
		{"redis without pool", func(c *Config) {
			c.Bus.Provider = BusRedis
			c.Bus.Redis.PoolSize = -1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: meshd
registry:
  expiry: 10s
  sweep_interval: 2s
configstore:
  seed_dir: /etc/meshd/seed
bus:
  provider: redis
  redis:
    addr: cache:6379
`), 0o600))

	var cfg Config
	require.NoError(t, config.LoadConfig("meshd", &cfg, config.WithConfigFile(path), config.WithEnvPrefix("MESHD_TEST")))
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Registry.Expiry)
	assert.Equal(t, 2*time.Second, cfg.Registry.SweepInterval)
	assert.Equal(t, "/etc/meshd/seed", cfg.ConfigStore.SeedDir)
	assert.Equal(t, BusRedis, cfg.Bus.Provider)
	assert.Equal(t, "cache:6379", cfg.Bus.Redis.Addr)
	assert.Equal(t, 10, cfg.Bus.Redis.PoolSize)
}

func TestSetup_ComponentsByProvider(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		app := newTestApp(t, &Config{})
		_, isHub := app.Components.Get("bus").(*bus.Hub)
		assert.True(t, isHub)
		assert.Nil(t, app.Components.Get("redis"))
		for _, name := range []string{"observability", "registry", "configstore-seed", "http-server"} {
			assert.NotNil(t, app.Components.Get(name), name)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mini := miniredis.RunT(t)
		cfg := &Config{}
		cfg.Bus.Provider = BusRedis
		cfg.Bus.Redis.Addr = mini.Addr()
		app := newTestApp(t, cfg)

		_, isRedis := app.Components.Get("bus").(*bus.RedisBus)
		assert.True(t, isRedis)
		assert.NotNil(t, app.Components.Get("redis"))
	})
}

// TestMeshd_EndToEnd boots the server and drives it through the registry
// client and a config client subscribed over SSE.
func TestMeshd_EndToEnd(t *testing.T) {
	seed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seed, "orders.yml"), []byte("db:\n  host: localhost\n"), 0o600))

	cfg := &Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.ConfigStore.SeedDir = seed
	app := newTestApp(t, cfg)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rc, err := regclient.New(httpclient.Config{BaseURL: base})
	require.NoError(t, err)
	require.NoError(t, rc.Register(ctx, registry.Instance{ServiceName: "orders", InstanceID: "o-1", Host: "10.0.0.5", Port: 8080}))
	list, err := rc.Instances(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "10.0.0.5:8080", list[0].Addr())

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	var snapshot struct {
		Mesh map[string]any `json:"mesh"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	_ = resp.Body.Close()
	assert.EqualValues(t, 1, snapshot.Mesh["services"])
	assert.EqualValues(t, 1, snapshot.Mesh["instances_up"])
	assert.EqualValues(t, 1, snapshot.Mesh["config_applications"])

	hc, err := httpclient.New(httpclient.Config{Service: "meshd", BaseURL: base})
	require.NoError(t, err)
	remote := bus.NewRemote(hc, bus.WithReconnectDelay(50*time.Millisecond))
	client, err := configclient.New(configclient.NewHTTPSource(hc), remote,
		configclient.Config{Application: "orders", PollInterval: time.Hour},
		configclient.WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	require.NotNil(t, client.Current())
	assert.Equal(t, "localhost", client.Current().String("db.host", ""))

	// The SSE subscription connects asynchronously; republish and refresh
	// until the client catches up.
	assert.Eventually(t, func() bool {
		if err := postJSON(base+"/config/orders/default/main", `{"db":{"host":"db.internal"}}`); err != nil {
			return false
		}
		if err := postJSON(base+"/config/orders/refresh", ""); err != nil {
			return false
		}
		time.Sleep(50 * time.Millisecond)
		return client.Current().String("db.host", "") == "db.internal"
	}, 5*time.Second, 100*time.Millisecond)
}

func postJSON(url, body string) error {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
