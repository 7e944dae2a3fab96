package graph

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrTokenUnavailable is returned when the token source cannot provide
	// a valid bearer token.
	ErrTokenUnavailable = errors.New("bearer token unavailable")

	// ErrContextCancelled is returned when the context is cancelled during
	// a throttling wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures. The exporter
// uses it to decide which scheduler-level retry policy applies.
type ErrorClass string

const (
	// ErrorClassTransport represents network, DNS, and timeout errors.
	// Retried indefinitely by the task scheduler with backoff.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassThrottled represents HTTP 429 responses that survived the
	// local retry loop.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassAPI represents any other non-200 status. Terminal for the
	// request; the caller decides whether to treat it as fatal.
	ErrorClassAPI ErrorClass = "api"
)

// StatusError is returned for terminal non-200 responses. Code and Message
// carry the Graph error envelope when the body could be parsed.
type StatusError struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph request %s failed: HTTP %d [%s]: %s",
			e.RequestID, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph request %s failed: HTTP %d", e.RequestID, e.StatusCode)
}

// Throttled reports whether the request died on an exhausted 429 retry loop.
func (e *StatusError) Throttled() bool {
	return e.StatusCode == 429
}

// Classify maps an error from a Graph request to its retry class.
func Classify(err error) ErrorClass {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Throttled() {
			return ErrorClassThrottled
		}
		return ErrorClassAPI
	}
	return ErrorClassTransport
}
