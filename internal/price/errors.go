package price

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// UpstreamError is returned when the provider answers with a non-200 status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream error: %s", e.Body)
	}
	return fmt.Sprintf("upstream error: status %d: %s", e.StatusCode, e.Body)
}

// TimeoutError is returned when the provider did not answer in time.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream timeout: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// InternalError covers transport and decoding faults that are neither of the above.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("price fetch failed: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// ParseError describes one symbol whose payload had an unexpected shape.
// It never fails a batch; the symbol is reported as missing.
type ParseError struct {
	Symbol string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected quote payload for %s: %s", e.Symbol, e.Reason)
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Err: err}
	}
	return &InternalError{Err: err}
}

// outcome is the metrics label for a fetch result.
func outcome(err error) string {
	var upstream *UpstreamError
	var timeout *TimeoutError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.As(err, &timeout):
		return "timeout"
	}
	return "internal_error"
}
