// Package logger provides structured logging for meshkit processes
// using zerolog.
//
// Every component logs through a component-scoped child logger so that
// registry sweeps, breaker transitions and refresh events can be filtered
// by the "component" field.
//
//	logging:
//	  level: "info"
//	  format: "json"
//
//	log := logger.WithComponent("registry")
//	log.Info("instance evicted", logger.Fields("service", svc, "instance_id", id))
package logger
