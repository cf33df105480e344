package invoke_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/meshkit/balancer"
	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/invoke"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

type member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func startBackend(t *testing.T, reg *registry.Registry, id string, handler http.HandlerFunc) *atomic.Int32 {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), registry.Instance{
		ServiceName: "members", InstanceID: id, Host: host, Port: port,
	})
	require.NoError(t, err)
	return &hits
}

func TestEndToEnd_FailingInstanceIsIsolated(t *testing.T) {
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	hitsA := startBackend(t, reg, "a", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	hitsB := startBackend(t, reg, "b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","name":"Ada"}`))
	})

	cache := discovery.NewCache(discovery.NewRegistrySource(reg), discovery.Config{}, discovery.WithLogger(logger.Nop()))
	inv := invoke.NewInvoker[invoke.HTTPRequest, *invoke.HTTPResponse](
		balancer.New(cache),
		invoke.NewHTTPTransport(nil, nil),
		invoke.WithPerInstanceBreakers(),
		invoke.WithBreakerConfig(resilience.CircuitBreakerConfig{ResetTimeout: time.Minute}),
		invoke.WithLogger(logger.Nop()),
	)
	fallback := func(_ context.Context, cause error) (*invoke.HTTPResponse, error) {
		return &invoke.HTTPResponse{StatusCode: http.StatusOK, Body: []byte(`{"id":"42","name":"cached"}`)}, nil
	}
	req := invoke.HTTPRequest{Path: "/members/42"}

	var fallbacks int
	for i := 0; i < 40; i++ {
		_, fell, err := invoke.Call(context.Background(), inv, "members", req, fallback)
		require.NoError(t, err)
		if fell {
			fallbacks++
		}
	}
	assert.Equal(t, resilience.StateOpen, inv.Breakers().Get("members/a").State())
	assert.Equal(t, resilience.StateClosed, inv.Breakers().Get("members/b").State())
	assert.Equal(t, int(hitsA.Load()), fallbacks, "every call that reached a fell back")

	tripped := hitsA.Load()
	for i := 0; i < 50; i++ {
		resp, fell, err := invoke.Call(context.Background(), inv, "members", req, fallback)
		require.NoError(t, err)
		require.False(t, fell)
		var m member
		require.NoError(t, resp.Decode(&m))
		assert.Equal(t, "Ada", m.Name)
	}
	assert.Equal(t, tripped, hitsA.Load(), "a must receive no calls after its breaker trips")
	assert.GreaterOrEqual(t, hitsB.Load(), int32(50))
}

func TestEndToEnd_NotFoundIsReturned(t *testing.T) {
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	startBackend(t, reg, "a", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	inv := invoke.NewInvoker[invoke.HTTPRequest, *invoke.HTTPResponse](
		balancer.New(discovery.NewCache(discovery.NewRegistrySource(reg), discovery.Config{}, discovery.WithLogger(logger.Nop()))),
		invoke.NewHTTPTransport(nil, nil),
		invoke.WithLogger(logger.Nop()),
	)

	for i := 0; i < 15; i++ {
		_, fell, err := inv.Call(context.Background(), "members", invoke.HTTPRequest{Path: "members/404"}, nil)
		assert.False(t, fell)
		assert.True(t, errors.IsNotFound(err), "got %v", err)
	}
	assert.Equal(t, resilience.StateClosed, inv.Breakers().Get("members").State())
}

func TestEndToEnd_UnreachableInstanceFallsBack(t *testing.T) {
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	_, err := reg.Register(context.Background(), registry.Instance{ServiceName: "members", InstanceID: "gone", Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	inv := invoke.NewInvoker[invoke.HTTPRequest, *invoke.HTTPResponse](
		balancer.New(discovery.NewCache(discovery.NewRegistrySource(reg), discovery.Config{}, discovery.WithLogger(logger.Nop()))),
		invoke.NewHTTPTransport(nil, nil),
		invoke.WithLogger(logger.Nop()),
	)
	var cause error
	_, fell, err := inv.Call(context.Background(), "members", invoke.HTTPRequest{Path: "/"}, func(_ context.Context, c error) (*invoke.HTTPResponse, error) {
		cause = c
		return &invoke.HTTPResponse{}, nil
	})
	require.NoError(t, err)
	assert.True(t, fell)
	assert.True(t, errors.IsDownstream(cause) || errors.IsCallTimeout(cause), "got %v", cause)
}
