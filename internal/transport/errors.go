package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrAborted is returned when scan-wide cancellation interrupts a request.
// It wraps the cancellation cause and is never retried.
var ErrAborted = errors.New("request aborted")

// abortError wraps the context's cancellation cause in ErrAborted.
func abortError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// IsAborted reports whether err came from scan-wide cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsTimeout reports whether err is a request timeout rather than another transport failure.
func IsTimeout(err error) bool {
	if err == nil || IsAborted(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Attempt records one failed strategy during resolution.
type Attempt struct {
	Strategy string
	Err      error
}

// ResolveError is returned when the direct request and every relay failed.
type ResolveError struct {
	URL      string
	Attempts []Attempt
}

func (e *ResolveError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Err.Error())
	}
	return fmt.Sprintf("all strategies failed for %s: %s", e.URL, strings.Join(parts, "; "))
}

// Unwrap exposes each strategy's error so errors.Is sees through to timeouts.
func (e *ResolveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// RequestError is the final transport failure after retries were exhausted.
type RequestError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
