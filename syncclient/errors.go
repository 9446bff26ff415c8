package syncclient

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransientError indicates a failure that may succeed if the request is retried: timeouts, refused connections, server
// errors and rate limiting.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure (http %d): %s", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure: %s", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError indicates that the requested resource doesn't exist.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// ProtocolError indicates a successful response whose body couldn't be understood. This usually means that the
// endpoint is pointed at something other than the inquiry API.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from %s (check the API base URL): %s", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RequestError indicates that the server rejected the request.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if err, or any error it wraps, is a TransientError.
func IsRetryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsNotFound returns true if err, or any error it wraps, is a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
