package llm

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
)

// ErrModelUnavailable flags an unreachable or overloaded model endpoint.
// The trading layer responds by entering safe mode: the cycle continues
// with fallback hold decisions and no orders.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrModelTimeout flags a single-turn deadline hit. Treated like
// unavailability by the trading layer.
var ErrModelTimeout = errors.New("model timeout")

// IsUnavailable reports whether err should trigger safe mode
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrModelUnavailable) ||
		errors.Is(err, ErrModelTimeout) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded)
}
