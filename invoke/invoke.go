// Package invoke makes breaker-protected calls to other services with a
// caller-supplied fallback.
//
// A call checks the breaker, picks an instance through the balancer, runs
// the transport under the breaker's call timeout and falls back when any
// of those steps fail. Ignorable errors (NOT_FOUND by default) are
// returned to the caller unchanged and never trigger the fallback.
package invoke

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/meshkit/balancer"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

// Call outcomes as recorded in metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeIgnored  = "ignored"
	OutcomeError    = "error"
)

// Transport performs one request against a chosen instance.
type Transport[Req, Resp any] interface {
	Do(ctx context.Context, inst registry.Instance, req Req) (Resp, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc[Req, Resp any] func(ctx context.Context, inst registry.Instance, req Req) (Resp, error)

func (f TransportFunc[Req, Resp]) Do(ctx context.Context, inst registry.Instance, req Req) (Resp, error) {
	return f(ctx, inst, req)
}

// Fallback produces a response when the call could not be made or failed.
// cause is the error that triggered it.
type Fallback[Resp any] func(ctx context.Context, cause error) (Resp, error)

// Picker selects an instance of a service.
type Picker interface {
	Pick(ctx context.Context, service string, opts ...balancer.PickOption) (registry.Instance, error)
}

// Option configures an Invoker.
type Option func(*options)

type options struct {
	breaker       resilience.CircuitBreakerConfig
	breakerOpts   []resilience.Option
	perInstance   bool
	maxConcurrent int
	log           *logger.Logger
	metrics       *observability.Metrics
}

// WithBreakerConfig sets the template for every breaker the invoker creates.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithBreakerOptions passes options to every breaker.
func WithBreakerOptions(opts ...resilience.Option) Option {
	return func(o *options) { o.breakerOpts = append(o.breakerOpts, opts...) }
}

// WithPerInstanceBreakers keys breakers by service/instanceId and makes
// the balancer skip instances whose breaker is open.
func WithPerInstanceBreakers() Option {
	return func(o *options) { o.perInstance = true }
}

// WithMaxConcurrent caps in-flight calls per service. Calls over the cap
// take the fallback without reaching the breaker.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithLogger sets the invoker logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records call outcomes and breaker transitions.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Invoker holds the breakers, balancer and transport for outbound calls.
type Invoker[Req, Resp any] struct {
	picker    Picker
	transport Transport[Req, Resp]
	breakers  *resilience.Group
	ignorable func(error) bool
	opts      options
	log       *logger.Logger

	mu        sync.Mutex
	bulkheads map[string]*resilience.Bulkhead
}

// NewInvoker creates an invoker.
func NewInvoker[Req, Resp any](picker Picker, transport Transport[Req, Resp], opts ...Option) *Invoker[Req, Resp] {
	o := options{log: logger.GetGlobalLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	o.breaker.ApplyDefaults()
	breakerOpts := append([]resilience.Option{
		resilience.WithLogger(o.log),
		resilience.WithMetrics(o.metrics),
	}, o.breakerOpts...)

	return &Invoker[Req, Resp]{
		picker:    picker,
		transport: transport,
		breakers:  resilience.NewGroup(o.breaker, breakerOpts...),
		ignorable: o.breaker.IsIgnorable,
		opts:      o,
		log:       o.log.WithComponent("invoke"),
		bulkheads: make(map[string]*resilience.Bulkhead),
	}
}

// Breakers exposes the breaker group, mainly for health and inspection.
func (inv *Invoker[Req, Resp]) Breakers() *resilience.Group { return inv.breakers }

// Call is shorthand for inv.Call.
func Call[Req, Resp any](ctx context.Context, inv *Invoker[Req, Resp], service string, req Req, fallback Fallback[Resp]) (Resp, bool, error) {
	return inv.Call(ctx, service, req, fallback)
}

// Call invokes service. usedFallback reports whether the response came
// from fallback. err is non-nil for ignorable errors, caller
// cancellation, a failing fallback, or a failure with no fallback.
func (inv *Invoker[Req, Resp]) Call(ctx context.Context, service string, req Req, fallback Fallback[Resp]) (resp Resp, usedFallback bool, err error) {
	var zero Resp
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanInvoke,
		trace.WithAttributes(attribute.String(observability.AttrService, service)))
	outcome := OutcomeSuccess
	defer func() {
		span.SetAttributes(attribute.Bool(observability.AttrUsedFallback, usedFallback))
		observability.EndSpan(span, err)
		inv.opts.metrics.RecordInvoke(ctx, service, outcome, time.Since(start))
	}()

	resp, err = inv.attempt(ctx, service, req)
	switch {
	case err == nil:
		return resp, false, nil
	case inv.ignorable(err):
		outcome = OutcomeIgnored
		return zero, false, err
	case ctx.Err() != nil:
		outcome = OutcomeError
		return zero, false, ctx.Err()
	case fallback == nil:
		outcome = OutcomeError
		return zero, false, err
	}

	outcome = OutcomeFallback
	fields := logger.MergeFields(logger.ErrorFields("invoke", err),
		logger.Fields(logger.FieldService, service), observability.LogFields(ctx))
	if errors.IsCircuitOpen(err) {
		inv.log.Debug("circuit open, using fallback", fields)
	} else {
		inv.log.Warn("call failed, using fallback", fields)
	}

	resp, ferr := fallback(ctx, err)
	if ferr != nil {
		outcome = OutcomeError
		return zero, true, ferr
	}
	return resp, true, nil
}

func (inv *Invoker[Req, Resp]) attempt(ctx context.Context, service string, req Req) (Resp, error) {
	if inv.opts.maxConcurrent <= 0 {
		return inv.guarded(ctx, service, req)
	}
	var resp Resp
	err := inv.bulkhead(service).Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = inv.guarded(ctx, service, req)
		return err
	})
	return resp, err
}

func (inv *Invoker[Req, Resp]) guarded(ctx context.Context, service string, req Req) (Resp, error) {
	if !inv.opts.perInstance {
		return resilience.Run(ctx, inv.breakers.Get(service), func(ctx context.Context) (Resp, error) {
			inst, err := inv.picker.Pick(ctx, service)
			if err != nil {
				var zero Resp
				return zero, err
			}
			return inv.do(ctx, inst, req)
		})
	}

	inst, err := inv.picker.Pick(ctx, service, balancer.WithFilter(func(inst registry.Instance) bool {
		cb, ok := inv.breakers.Lookup(inst.Key())
		return !ok || cb.Ready()
	}))
	if err != nil {
		var zero Resp
		return zero, err
	}
	return resilience.Run(ctx, inv.breakers.Get(inst.Key()), func(ctx context.Context) (Resp, error) {
		return inv.do(ctx, inst, req)
	})
}

func (inv *Invoker[Req, Resp]) do(ctx context.Context, inst registry.Instance, req Req) (Resp, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(observability.AttrInstanceID, inst.InstanceID))
	return inv.transport.Do(ctx, inst, req)
}

func (inv *Invoker[Req, Resp]) bulkhead(service string) *resilience.Bulkhead {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	b, ok := inv.bulkheads[service]
	if !ok {
		b = resilience.NewBulkhead(resilience.BulkheadConfig{Name: service, MaxConcurrent: inv.opts.maxConcurrent})
		inv.bulkheads[service] = b
	}
	return b
}
