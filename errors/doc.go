// Package errors provides unified error handling for meshkit services.
//
// Every failure that crosses a component boundary is an *AppError carrying
// a machine-readable code, the HTTP status used by the REST handlers, and
// a retryable flag. The mesh taxonomy:
//
//	INSTANCE_NOT_FOUND     registry renew on an unknown/evicted instance
//	NO_INSTANCE_AVAILABLE  empty discovery snapshot
//	CONFIG_NOT_FOUND       no config snapshot, defaults included
//	CALL_TIMEOUT           outbound call exceeded its budget
//	DOWNSTREAM_ERROR       non-timeout failure from the remote call
package errors
