package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// RecoverableError is implemented by errors that know whether retrying the
// failed call can succeed.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// transientMessages are lowercase fragments of error messages reported by
// model endpoints, Postgres and brokers for conditions that clear up.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"temporary failure",
	"rate limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"too many connections",
	"deadlock detected",
	"could not serialize access",
	"leader not available",
}

// IsRecoverable reports whether err is worth retrying. An explicit
// RecoverableError in the chain decides; otherwise deadlines, network
// timeouts, dropped connections and known transient messages are retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var classified RecoverableError
	if errors.As(err, &classified) {
		return classified.IsRecoverable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// classifiedError pins the retry decision for the error it wraps.
type classifiedError struct {
	err         error
	recoverable bool
}

func (e *classifiedError) Error() string       { return e.err.Error() }
func (e *classifiedError) Unwrap() error       { return e.err }
func (e *classifiedError) IsRecoverable() bool { return e.recoverable }

// NewRecoverableError marks err as retryable.
func NewRecoverableError(err error) error {
	return &classifiedError{err: err, recoverable: true}
}

// NewNonRecoverableError marks err as final, even when its message looks
// transient.
func NewNonRecoverableError(err error) error {
	return &classifiedError{err: err, recoverable: false}
}
