package logger

import (
	"time"
)

// Standard field keys.
const (
	FieldComponent   = "component"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"
	FieldRequestID   = "request_id"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldDuration    = "duration_ms"
	FieldService     = "service"
	FieldInstanceID  = "instance_id"
	FieldApplication = "application"
	FieldProfile     = "profile"
	FieldLabel       = "label"
	FieldVersion     = "version"
	FieldState       = "state"
	FieldStatus      = "status"
)

// Fields builds a map from alternating key-value pairs. Non-string keys
// and a trailing odd value are dropped.
//
//	logger.Info("done", logger.Fields("op", "save", "id", 42))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldError:     err.Error(),
	}
}

// DurationFields creates fields for a timed operation.
func DurationFields(op string, d time.Duration) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldDuration:  d.Milliseconds(),
	}
}

// InstanceFields tags a log line with a registry instance.
func InstanceFields(service, instanceID string) map[string]interface{} {
	return map[string]interface{}{
		FieldService:    service,
		FieldInstanceID: instanceID,
	}
}

// ConfigFields tags a log line with a config key.
func ConfigFields(application, profile, label string) map[string]interface{} {
	return map[string]interface{}{
		FieldApplication: application,
		FieldProfile:     profile,
		FieldLabel:       label,
	}
}

// MergeFields combines field maps; later maps win on key collisions.
func MergeFields(maps ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
