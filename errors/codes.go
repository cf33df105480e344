package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Mesh errors raised by the registry, discovery, breaker and config store.
const (
	// ErrCodeInstanceNotFound indicates a renew or status change for an
	// instance the registry does not know (never registered or evicted).
	ErrCodeInstanceNotFound ErrorCode = "INSTANCE_NOT_FOUND"
	// ErrCodeNoInstanceAvailable indicates the discovery snapshot for a
	// service is empty.
	ErrCodeNoInstanceAvailable ErrorCode = "NO_INSTANCE_AVAILABLE"
	// ErrCodeConfigNotFound indicates no config snapshot matched, including defaults.
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	// ErrCodeCallTimeout indicates an outbound call exceeded its budget.
	ErrCodeCallTimeout ErrorCode = "CALL_TIMEOUT"
	// ErrCodeDownstream indicates a non-timeout failure from a remote call.
	ErrCodeDownstream ErrorCode = "DOWNSTREAM_ERROR"
	// ErrCodeCircuitOpen indicates the breaker rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// Connection/Availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates the service is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection to a service.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Validation errors
const (
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
)

// Internal errors
const (
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable:  true,
	ErrCodeConnectionFailed:    true,
	ErrCodeTimeout:             true,
	ErrCodeNoInstanceAvailable: true,
	ErrCodeCallTimeout:         true,
	ErrCodeDownstream:          true,
	ErrCodeCircuitOpen:         true,
	ErrCodeInternal:            false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
