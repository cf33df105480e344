package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a single trial request.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultWindowSize           = 20
	DefaultMinVolume            = 10
	DefaultFailureRateThreshold = 0.5
	DefaultResetTimeout         = 5 * time.Second
	DefaultCallTimeout          = 5 * time.Second
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string `yaml:"name" mapstructure:"name"`
	// WindowSize is how many recent outcomes are kept.
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
	// MinVolume is the number of outcomes needed before the breaker may trip.
	MinVolume int `yaml:"min_volume" mapstructure:"min_volume"`
	// FailureRateThreshold trips the breaker when the window failure rate
	// is strictly above it.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	// CallTimeout bounds each call made through Execute.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	// IsIgnorable marks errors that are domain signals rather than
	// failures. Defaults to NOT_FOUND AppErrors.
	IsIgnorable func(error) bool `yaml:"-" mapstructure:"-"`
	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(name string, from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns the 20-call window, 10-call minimum,
// 50% threshold and 5s reset/call timeouts.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	cfg := CircuitBreakerConfig{Name: name}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *CircuitBreakerConfig) ApplyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinVolume <= 0 {
		c.MinVolume = DefaultMinVolume
	}
	if c.MinVolume > c.WindowSize {
		c.MinVolume = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.IsIgnorable == nil {
		c.IsIgnorable = DefaultIsIgnorable
	}
}

// Validate checks the thresholds.
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold >= 1 {
		return fmt.Errorf("breaker.failure_rate_threshold must be in (0,1) (got: %v)", c.FailureRateThreshold)
	}
	if c.MinVolume > c.WindowSize {
		return fmt.Errorf("breaker.min_volume (%d) exceeds window_size (%d)", c.MinVolume, c.WindowSize)
	}
	return nil
}

// DefaultIsIgnorable treats NOT_FOUND as a domain answer.
func DefaultIsIgnorable(err error) bool {
	return errors.IsNotFound(err)
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithLogger logs transitions.
func WithLogger(l *logger.Logger) Option {
	return func(cb *CircuitBreaker) { cb.log = l }
}

// WithMetrics counts transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(cb *CircuitBreaker) { cb.metrics = m }
}

// Counts is a point-in-time view of a breaker.
type Counts struct {
	State    State
	Calls    int
	Failures int
}

type transition struct {
	from, to State
}

// ticket identifies an admitted call. Outcomes from an older generation
// are dropped.
type ticket struct {
	generation uint64
	trial      bool
}

// CircuitBreaker implements a count-window circuit breaker.
//
// States:
//   - Closed: requests pass; outcomes fill the window
//   - Open: requests fail with CIRCUIT_OPEN until ResetTimeout elapses
//   - Half-Open: one trial request decides between closed and open
type CircuitBreaker struct {
	config  CircuitBreakerConfig
	now     func() time.Time
	log     *logger.Logger
	metrics *observability.Metrics

	mu               sync.Mutex
	state            State
	generation       uint64
	window           []bool // true = failure
	next             int
	count            int
	failures         int
	lastTransitionAt time.Time
	openUntil        time.Time
	trialInFlight    bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig, opts ...Option) *CircuitBreaker {
	config.ApplyDefaults()
	cb := &CircuitBreaker{
		config: config,
		now:    time.Now,
		log:    logger.GetGlobalLogger(),
		state:  StateClosed,
		window: make([]bool, config.WindowSize),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.log = cb.log.WithComponent("breaker")
	cb.lastTransitionAt = cb.now()
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig { return cb.config }

// Execute runs fn through the breaker under the call timeout. It returns
// CIRCUIT_OPEN without calling fn when the breaker rejects the call, and
// CALL_TIMEOUT when fn does not finish in time.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is Execute for functions that return a value. A result that
// arrives after the timeout is discarded.
func Run[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	t, err := cb.allow()
	if err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.Internal(fmt.Errorf("panic: %v", r))}
			}
		}()
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	var res result
	timedOut := false
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
		timedOut = true
	}

	if res.err != nil {
		switch {
		case ctx.Err() != nil:
			// The caller gave up; that says nothing about the downstream.
			cb.release(t)
			return zero, ctx.Err()
		case errors.IsCallTimeout(res.err):
		case timedOut || stderrors.Is(res.err, context.DeadlineExceeded):
			res.err = errors.CallTimeout(cb.config.Name, res.err)
		}
	}
	cb.record(t, res.err)
	if res.err != nil {
		return zero, res.err
	}
	return res.val, nil
}

// State returns the current state. An expired open state is still
// reported as open until the next request arrives.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Ready reports whether a request arriving now would be admitted.
func (cb *CircuitBreaker) Ready() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		return !cb.now().Before(cb.openUntil)
	case StateHalfOpen:
		return !cb.trialInFlight
	default:
		return true
	}
}

// Counts returns the window totals and the state.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{State: cb.state, Calls: cb.count, Failures: cb.failures}
}

// Reset forces the breaker closed with an empty window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr, ok := cb.toState(StateClosed)
	cb.resetWindow()
	cb.mu.Unlock()
	if ok {
		cb.notify(tr)
	}
}

func (cb *CircuitBreaker) allow() (ticket, error) {
	cb.mu.Lock()
	var trs []transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(trs...)
	}()

	switch cb.state {
	case StateClosed:
		return ticket{generation: cb.generation}, nil
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			return ticket{}, errors.CircuitOpen(cb.config.Name)
		}
		if tr, ok := cb.toState(StateHalfOpen); ok {
			trs = append(trs, tr)
		}
		fallthrough
	case StateHalfOpen:
		if cb.trialInFlight {
			return ticket{}, errors.CircuitOpen(cb.config.Name)
		}
		cb.trialInFlight = true
		return ticket{generation: cb.generation, trial: true}, nil
	}
	return ticket{}, errors.CircuitOpen(cb.config.Name)
}

// release frees a trial slot without recording an outcome.
func (cb *CircuitBreaker) release(t ticket) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if t.trial && t.generation == cb.generation {
		cb.trialInFlight = false
	}
}

func (cb *CircuitBreaker) record(t ticket, err error) {
	if err != nil && cb.config.IsIgnorable(err) {
		cb.release(t)
		return
	}

	cb.mu.Lock()
	var trs []transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(trs...)
	}()

	if t.generation != cb.generation {
		return
	}
	failed := err != nil

	switch cb.state {
	case StateHalfOpen:
		if !t.trial {
			return
		}
		cb.trialInFlight = false
		if failed {
			if tr, ok := cb.toState(StateOpen); ok {
				trs = append(trs, tr)
			}
			return
		}
		if tr, ok := cb.toState(StateClosed); ok {
			trs = append(trs, tr)
		}
	case StateClosed:
		cb.push(failed)
		if cb.count >= cb.config.MinVolume &&
			float64(cb.failures)/float64(cb.count) > cb.config.FailureRateThreshold {
			if tr, ok := cb.toState(StateOpen); ok {
				trs = append(trs, tr)
			}
		}
	}
}

func (cb *CircuitBreaker) push(failed bool) {
	if cb.count == len(cb.window) {
		if cb.window[cb.next] {
			cb.failures--
		}
	} else {
		cb.count++
	}
	cb.window[cb.next] = failed
	if failed {
		cb.failures++
	}
	cb.next = (cb.next + 1) % len(cb.window)
}

func (cb *CircuitBreaker) resetWindow() {
	clear(cb.window)
	cb.next, cb.count, cb.failures = 0, 0, 0
}

// toState must be called with mu held.
func (cb *CircuitBreaker) toState(to State) (transition, bool) {
	if cb.state == to {
		return transition{}, false
	}
	from := cb.state
	now := cb.now()
	cb.state = to
	cb.generation++
	cb.lastTransitionAt = now
	cb.trialInFlight = false

	switch to {
	case StateClosed:
		cb.resetWindow()
	case StateOpen:
		cb.openUntil = now.Add(cb.config.ResetTimeout)
	}
	return transition{from: from, to: to}, true
}

func (cb *CircuitBreaker) notify(trs ...transition) {
	for _, tr := range trs {
		cb.log.Warn("circuit breaker state change", logger.Fields(
			logger.FieldService, cb.config.Name,
			"from", tr.from.String(),
			logger.FieldState, tr.to.String(),
		))
		cb.metrics.RecordBreakerTransition(context.Background(), cb.config.Name, tr.from.String(), tr.to.String())
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(cb.config.Name, tr.from, tr.to)
		}
	}
}
