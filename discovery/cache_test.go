package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource counts calls and can block or fail on demand.
type fakeSource struct {
	calls atomic.Int32
	mu    sync.Mutex
	list  []registry.Instance
	err   error
	gate  chan struct{}
}

func (s *fakeSource) Instances(ctx context.Context, service string) ([]registry.Instance, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate, list, err := s.gate, s.list, s.err
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, err
}

func (s *fakeSource) set(list []registry.Instance, err error) {
	s.mu.Lock()
	s.list, s.err = list, err
	s.mu.Unlock()
}

func (s *fakeSource) block() chan struct{} {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return gate
}

func (s *fakeSource) unblock() {
	s.mu.Lock()
	s.gate = nil
	s.mu.Unlock()
}

func instances(ids ...string) []registry.Instance {
	out := make([]registry.Instance, len(ids))
	for i, id := range ids {
		out[i] = registry.Instance{ServiceName: "users", InstanceID: id, Host: "10.0.0.1", Port: 8000 + i, Status: registry.StatusUp}
	}
	return out
}

func newTestCache(src Source, clock *fakeClock) *Cache {
	return NewCache(src, Config{StaleAfter: 30 * time.Second, FetchTimeout: time.Second},
		WithClock(clock.Now), WithLogger(logger.Nop()))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCache_FirstGetFetches(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a", "b"), nil)
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})

	snap, err := c.Get(context.Background(), "users")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Service != "users" || snap.Len() != 2 || snap.Version != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	again, _ := c.Get(context.Background(), "users")
	if again != snap {
		t.Error("fresh snapshot must be served from cache")
	}
	if src.calls.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.calls.Load())
	}
}

func TestCache_ConcurrentFirstGetsCollapse(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a"), nil)
	gate := src.block()
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})

	var wg sync.WaitGroup
	results := make([]*Snapshot, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "users")
		}(i)
	}
	waitFor(t, func() bool { return src.calls.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	if src.calls.Load() != 1 {
		t.Errorf("expected a single fetch, got %d", src.calls.Load())
	}
	for i, r := range results {
		if r == nil || r != results[0] {
			t.Fatalf("result %d differs: %v", i, r)
		}
	}
}

func TestCache_FirstGetError(t *testing.T) {
	src := &fakeSource{}
	boom := stderrors.New("registry down")
	src.set(nil, boom)
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})

	if _, err := c.Get(context.Background(), "users"); !stderrors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(c.Services()) != 0 {
		t.Errorf("failed first fetch must not cache anything, got %v", c.Services())
	}
}

func TestCache_StaleServedWhileRefreshing(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a"), nil)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(src, clock)
	defer c.Stop(context.Background())

	first, _ := c.Get(context.Background(), "users")
	clock.Advance(time.Minute)
	src.set(instances("a", "b"), nil)
	gate := src.block()

	start := time.Now()
	stale, err := c.Get(context.Background(), "users")
	if err != nil || stale != first {
		t.Fatalf("expected the stale snapshot, got %v, %v", stale, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Get must not block on a background refresh")
	}
	waitFor(t, func() bool { return src.calls.Load() == 2 })

	// Further stale reads do not pile up refreshes.
	for i := 0; i < 10; i++ {
		c.Get(context.Background(), "users")
	}
	src.unblock()
	close(gate)

	waitFor(t, func() bool {
		snap, _ := c.Get(context.Background(), "users")
		return snap.Version == 2
	})
	snap, _ := c.Get(context.Background(), "users")
	if snap.Len() != 2 {
		t.Errorf("expected refreshed snapshot with 2 instances, got %d", snap.Len())
	}
	if first.Len() != 1 {
		t.Error("old snapshot must not change")
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected exactly one background refresh, got %d fetches", n)
	}
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a", "b"), nil)
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})

	before, _ := c.Get(context.Background(), "users")
	src.set(nil, stderrors.New("timeout"))
	if err := c.Refresh(context.Background(), "users"); err == nil {
		t.Fatal("expected refresh error")
	}
	after, err := c.Get(context.Background(), "users")
	if err != nil || after != before {
		t.Fatalf("expected unchanged snapshot, got %v, %v", after, err)
	}
}

func TestCache_FetchTimeout(t *testing.T) {
	src := &fakeSource{}
	src.block()
	c := NewCache(src, Config{FetchTimeout: 20 * time.Millisecond}, WithLogger(logger.Nop()))
	_, err := c.Get(context.Background(), "users")
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected fetch timeout, got %v", err)
	}
}

func TestCache_EmptyServiceIsCached(t *testing.T) {
	src := &fakeSource{}
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})
	snap, err := c.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Instances == nil || snap.Len() != 0 {
		t.Errorf("expected empty non-nil instances, got %#v", snap.Instances)
	}
}

func TestCache_InvalidateAndServices(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a"), nil)
	c := newTestCache(src, &fakeClock{now: time.Unix(1000, 0)})
	c.Get(context.Background(), "users")
	c.Get(context.Background(), "members")
	if fmt.Sprint(c.Services()) != "[members users]" {
		t.Errorf("unexpected services %v", c.Services())
	}
	c.Invalidate("users")
	if fmt.Sprint(c.Services()) != "[members]" {
		t.Errorf("unexpected services after invalidate %v", c.Services())
	}
	c.Get(context.Background(), "users")
	if src.calls.Load() != 3 {
		t.Errorf("invalidated service must be fetched again, calls %d", src.calls.Load())
	}
}

func TestCache_PeriodicRefresh(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a"), nil)
	c := NewCache(src, Config{RefreshInterval: 5 * time.Millisecond, Services: []string{"users"}},
		WithLogger(logger.Nop()))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(context.Background())
	if h := c.Health(context.Background()); h.Status != "healthy" {
		t.Errorf("unexpected health %+v", h)
	}

	if src.calls.Load() < 1 {
		t.Fatal("Start must warm configured services")
	}
	src.set(instances("a", "b"), nil)
	waitFor(t, func() bool {
		snap, _ := c.Get(context.Background(), "users")
		return snap.Len() == 2
	})
}

func TestCache_RestartAfterStop(t *testing.T) {
	src := &fakeSource{}
	src.set(instances("a"), nil)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(src, clock)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Get(ctx, "users")
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer c.Stop(ctx)

	src.set(instances("a", "b"), nil)
	clock.Advance(time.Minute)
	c.Get(ctx, "users")
	waitFor(t, func() bool {
		snap, _ := c.Get(ctx, "users")
		return snap.Len() == 2
	})
}

func TestRegistrySource(t *testing.T) {
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	reg.Register(context.Background(), registry.Instance{ServiceName: "users", InstanceID: "a", Host: "h", Port: 1})
	c := NewCache(NewRegistrySource(reg), Config{}, WithLogger(logger.Nop()))
	snap, err := c.Get(context.Background(), "users")
	if err != nil || snap.Len() != 1 || snap.Instances[0].InstanceID != "a" {
		t.Fatalf("unexpected snapshot %+v, %v", snap, err)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string][]registry.Instance{
		"users": {
			{InstanceID: "b", Host: "h", Port: 2},
			{InstanceID: "a", Host: "h", Port: 1},
			{InstanceID: "c", Host: "h", Port: 3, Status: registry.StatusDown},
		},
	})
	list, _ := src.Instances(context.Background(), "users")
	if len(list) != 2 || list[0].InstanceID != "a" || list[0].ServiceName != "users" {
		t.Errorf("unexpected static instances %+v", list)
	}
	if list, _ := src.Instances(context.Background(), "other"); list == nil || len(list) != 0 {
		t.Errorf("expected empty list for unknown service")
	}
}

func TestRegistrySource_VersionChangeRefreshes(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.Config{}, registry.WithLogger(logger.Nop()))
	reg.Register(ctx, registry.Instance{ServiceName: "users", InstanceID: "a", Host: "h", Port: 1})
	c := NewCache(NewRegistrySource(reg), Config{
		RefreshInterval: time.Hour,
		StaleAfter:      time.Hour,
		VersionPoll:     5 * time.Millisecond,
	}, WithLogger(logger.Nop()))
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(ctx)

	snap, _ := c.Get(ctx, "users")
	if snap.Len() != 1 || snap.SourceVersion != reg.Version() {
		t.Fatalf("unexpected first snapshot %+v", snap)
	}
	reg.Register(ctx, registry.Instance{ServiceName: "users", InstanceID: "b", Host: "h", Port: 2})
	waitFor(t, func() bool {
		snap, _ := c.Get(ctx, "users")
		return snap.Len() == 2
	})

	// An unchanged counter does not trigger fetches.
	before, _ := c.Get(ctx, "users")
	time.Sleep(30 * time.Millisecond)
	if after, _ := c.Get(ctx, "users"); after != before {
		t.Errorf("snapshot replaced without a membership change: %d -> %d", before.Version, after.Version)
	}
}
