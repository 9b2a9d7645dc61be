package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks failures worth retrying: timeouts, rate limits,
// 5xx responses, connection resets.
type TransientError struct {
	Status int // HTTP status when applicable, 0 otherwise
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient API error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient API error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError marks credential failures. Not retried.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError marks a response the client could not decode.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// classifyHTTP converts an HTTP status into a typed error.
func classifyHTTP(status int, body string) error {
	base := fmt.Errorf("%s", truncate(body, 300))
	switch {
	case status == 401 || status == 403:
		return &AuthError{Status: status, Err: base}
	case status == 429 || status >= 500:
		return &TransientError{Status: status, Err: base}
	default:
		return &ProtocolError{Err: fmt.Errorf("unexpected status %d: %w", status, base)}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
