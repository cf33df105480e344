// Package server hosts meshkit's REST surfaces on a single Gin engine
// served over HTTP/1.1 and cleartext HTTP/2 (h2c).
//
// Middleware (server/middleware): panic recovery, request id propagation
// and request logging. Operational endpoints (server/endpoint): /health,
// /info and /metrics.
package server
