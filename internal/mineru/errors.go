package mineru

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"ocrbatch/internal/services"
)

// APIError describes a non-success response: an HTTP error status or an
// application-level result code other than zero.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("mineru: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": code %s", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.TraceID != "" {
		fmt.Fprintf(&b, " (trace_id %s)", e.TraceID)
	}
	return b.String()
}

// Temporary reports whether the failure is worth retrying: server errors,
// request timeouts, and rate limiting.
func (e *APIError) Temporary() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsRetriable reports whether err represents a transient condition that
// warrants an automatic retry. Cancellation is never retriable.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, services.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
