// Package resilience protects callers from failing downstreams.
//
// CircuitBreaker keeps a count-based window of recent outcomes and opens
// once the failure rate crosses a threshold. While open, calls fail fast
// with CIRCUIT_OPEN; after the reset timeout a single trial decides
// whether to close again. Execute bounds each call with a hard timeout
// and reports CALL_TIMEOUT. Errors matching IsIgnorable (NOT_FOUND by
// default) are returned to the caller without being counted.
//
//	g := resilience.NewGroup(resilience.DefaultCircuitBreakerConfig(""))
//	err := g.Get("users").Execute(ctx, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	})
//
// Retry and Bulkhead cover re-attempts with backoff and concurrency caps.
package resilience
