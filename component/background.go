package component

import (
	"context"
	"sync"
)

// Background adapts a blocking run loop into a Component. Run receives a
// context that is cancelled by Stop; Stop waits for Run to return.
type Background struct {
	name string
	run  func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewBackground wraps run under name.
func NewBackground(name string, run func(ctx context.Context)) *Background {
	return &Background{name: name, run: run}
}

func (b *Background) Name() string { return b.name }

// Start launches the loop. Starting twice is a no-op.
func (b *Background) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	// The loop outlives the start context.
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it, or for ctx to expire.
func (b *Background) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.cancel()
	b.running = false
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Background) Health(_ context.Context) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return Health{Name: b.name, Status: StatusHealthy}
	}
	return Health{Name: b.name, Status: StatusUnhealthy, Message: "not running"}
}
