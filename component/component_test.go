package component

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshkit/logger"
)

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   Health
	order    *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.order != nil {
		*m.order = append(*m.order, "start:"+m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.order != nil {
		*m.order = append(*m.order, "stop:"+m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health { return m.health }

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(logger.Nop())
	if err := r.Register(&mockComponent{name: "bus"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockComponent{name: "bus"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Get("bus") == nil || r.Get("missing") != nil {
		t.Error("unexpected Get results")
	}
}

func TestStartStopOrder(t *testing.T) {
	var order []string
	r := NewRegistry(logger.Nop())
	for _, name := range []string{"bus", "registry", "http"} {
		r.Register(&mockComponent{name: name, order: &order})
	}

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	want := "start:bus,start:registry,start:http,stop:http,stop:registry,stop:bus"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestStartAll_FailureStopsOnlyStarted(t *testing.T) {
	var order []string
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "bus", order: &order})
	r.Register(&mockComponent{name: "seed", order: &order, startErr: fmt.Errorf("bad dir")})
	r.Register(&mockComponent{name: "http", order: &order})

	err := r.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start seed") {
		t.Fatalf("expected seed start failure, got %v", err)
	}
	order = nil
	r.StopAll(context.Background())
	if got := strings.Join(order, ","); got != "stop:bus" {
		t.Errorf("expected only bus to stop, got %s", got)
	}
}

func TestStopAll_JoinsErrors(t *testing.T) {
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "a", stopErr: fmt.Errorf("a broke")})
	r.Register(&mockComponent{name: "b", stopErr: fmt.Errorf("b broke")})
	r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "a broke") || !strings.Contains(err.Error(), "b broke") {
		t.Errorf("expected both stop errors, got %v", err)
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "bus", health: Health{Name: "bus", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "http", health: Health{Name: "http", Status: StatusDegraded}})

	h := r.HealthAll(context.Background())
	if len(h) != 2 || h[1].Status != StatusDegraded {
		t.Errorf("unexpected health %v", h)
	}
}

func TestBackground_RunsUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	exited := make(chan struct{})
	b := NewBackground("sweeper", func(ctx context.Context) {
		defer close(exited)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ticks.Add(1)
			}
		}
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h := b.Health(context.Background()); h.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	deadline := time.Now().Add(time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-exited:
	default:
		t.Fatal("expected run loop to have exited when Stop returned")
	}
	if h := b.Health(context.Background()); h.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy after stop, got %s", h.Status)
	}
	if ticks.Load() == 0 {
		t.Error("expected the loop to tick at least once")
	}
}
