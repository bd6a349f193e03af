package transport

import (
	"errors"
	"fmt"
)

// ErrTransport marks failures where no usable response arrived: connection
// errors, timeouts, and retryable statuses once retries run out.
var ErrTransport = errors.New("transport failure")

// ConfigError reports a response that cannot come from a correctly
// configured backend, such as an HTML login or error page. It is never
// retried.
type ConfigError struct {
	ContentType string
	Status      int
	Message     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("backend misconfigured: %s (status %d, content-type %q)", e.Message, e.Status, e.ContentType)
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ServerError is an {error: "..."} body returned with a 2xx status.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// IsConfigError returns true if err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransportError returns true if err wraps ErrTransport.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
