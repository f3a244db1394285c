package reliability

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTransientNetError reports whether an error looks like a transient
// transport failure (refused/reset connections, timeouts). Validation and
// 4xx-class errors are assumed non-transient and should not be retried.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http.Client wraps some transport failures without typed causes.
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
