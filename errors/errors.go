package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Mesh constructors ---

// InstanceNotFound reports a renew against an unknown or evicted instance.
// The caller is expected to register again.
func InstanceNotFound(service, instanceID string) *AppError {
	return &AppError{
		Code:       ErrCodeInstanceNotFound,
		Message:    fmt.Sprintf("Instance %s of service %s is not registered.", instanceID, service),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"service": service, "instance_id": instanceID},
	}
}

// NoInstanceAvailable reports an empty discovery snapshot.
func NoInstanceAvailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeNoInstanceAvailable,
		Message:    fmt.Sprintf("No instance of %s is available.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// ConfigNotFound reports that neither the exact key nor any default matched.
func ConfigNotFound(application, profile, label string) *AppError {
	return &AppError{
		Code:       ErrCodeConfigNotFound,
		Message:    fmt.Sprintf("No configuration found for %s/%s/%s.", application, profile, label),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"application": application, "profile": profile, "label": label},
	}
}

// CallTimeout reports that an outbound call exceeded its time budget.
func CallTimeout(service string, cause error) *AppError {
	return &AppError{
		Code:       ErrCodeCallTimeout,
		Message:    fmt.Sprintf("Call to %s timed out.", service),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}

// Downstream reports a non-timeout failure from a remote call.
func Downstream(service string, cause error) *AppError {
	return &AppError{
		Code:       ErrCodeDownstream,
		Message:    fmt.Sprintf("The %s service returned an error.", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}

// CircuitOpen reports a call rejected by an open or saturated breaker.
func CircuitOpen(name string) *AppError {
	return &AppError{
		Code:       ErrCodeCircuitOpen,
		Message:    fmt.Sprintf("Circuit %s is open.", name),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"circuit": name},
	}
}

// --- Common Error Constructors ---

// ServiceUnavailable creates a new AppError for a service that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a service.
func ConnectionFailed(service string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("Unable to connect to %s. Please verify the service is running.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// NotFound creates a new AppError for a resource that was not found.
// A NOT_FOUND from a downstream call is the domain signal the breaker ignores.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred. Please try again or contact support.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// --- Predicates ---

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsInstanceNotFound reports whether err signals a missing registry instance.
func IsInstanceNotFound(err error) bool { return HasCode(err, ErrCodeInstanceNotFound) }

// IsNoInstanceAvailable reports whether err signals an empty discovery snapshot.
func IsNoInstanceAvailable(err error) bool { return HasCode(err, ErrCodeNoInstanceAvailable) }

// IsConfigNotFound reports whether err signals a missing config snapshot.
func IsConfigNotFound(err error) bool { return HasCode(err, ErrCodeConfigNotFound) }

// IsCallTimeout reports whether err is a call timeout.
func IsCallTimeout(err error) bool { return HasCode(err, ErrCodeCallTimeout) }

// IsDownstream reports whether err is a downstream failure.
func IsDownstream(err error) bool { return HasCode(err, ErrCodeDownstream) }

// IsNotFound reports whether err is a generic NOT_FOUND.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsCircuitOpen reports whether a breaker rejected the call.
func IsCircuitOpen(err error) bool { return HasCode(err, ErrCodeCircuitOpen) }
