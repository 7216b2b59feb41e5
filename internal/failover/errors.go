package failover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/codyaverett/mcp-agent/internal/provider"
)

// IsRateLimitError reports a 429 from a provider.
func IsRateLimitError(err error) bool {
	var ae *provider.APIError
	return errors.As(err, &ae) && ae.Status == 429
}

// IsAuthError reports a rejected credential.
func IsAuthError(err error) bool {
	var ae *provider.APIError
	return errors.As(err, &ae) && (ae.Status == 401 || ae.Status == 403)
}

// IsRetryable reports whether another model may succeed where this one
// failed: rate limits, auth failures, server errors and network errors.
// Cancellation of the caller's context is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ae *provider.APIError
	if errors.As(err, &ae) {
		return ae.Status == 429 || ae.Status == 401 || ae.Status == 403 || ae.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}

type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	msg := fmt.Sprintf("all models exhausted, attempted: %s", strings.Join(e.Attempted, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
