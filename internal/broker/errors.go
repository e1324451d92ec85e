package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotPaperEndpoint is returned by the startup probe when the configured
// endpoint is not a paper-trading endpoint. It maps to exit code 3.
var ErrNotPaperEndpoint = errors.New("broker endpoint is not a paper-trading endpoint")

// UnavailableError wraps a transient broker failure. Callers retry with
// capped backoff; if retries are exhausted the current cycle is aborted and
// the scheduler reschedules.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// FatalError wraps a broker failure that must halt trading, such as revoked
// credentials or a rejected account.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal broker error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient classifies an error as retryable on the next cycle
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"too many requests",
		"rate limit",
		"status 429",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify wraps a raw SDK error into transient or fatal form
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") {
		return &FatalError{Op: op, Err: err}
	}
	if IsTransient(err) {
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
