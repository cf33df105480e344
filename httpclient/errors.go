package httpclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kbukum/meshkit/errors"
)

// StatusError is the cause attached to classified HTTP failures.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ClassifyStatus converts a non-2xx response into an AppError. It returns
// nil for 2xx.
func ClassifyStatus(service, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	remote := decodeEnvelope(status, body)
	cause := &StatusError{StatusCode: status, Body: body}

	switch {
	case status >= 500:
		if remote != nil {
			return errors.Downstream(service, remote)
		}
		return errors.Downstream(service, cause)
	case remote != nil:
		return remote
	case status == http.StatusNotFound:
		return errors.NotFound(path, "").WithCause(cause)
	default:
		return errors.InvalidInput("", cause.Error()).WithCause(cause)
	}
}

// ClassifyTransport converts a failed round trip into CALL_TIMEOUT or
// DOWNSTREAM_ERROR.
func ClassifyTransport(ctx context.Context, service string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.CallTimeout(service, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.CallTimeout(service, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return errors.Downstream(service, errors.ConnectionFailed(service).WithCause(err))
}

func decodeEnvelope(status int, body []byte) *errors.AppError {
	if len(body) == 0 {
		return nil
	}
	var resp errors.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == "" {
		return nil
	}
	return errors.FromResponse(status, resp)
}
