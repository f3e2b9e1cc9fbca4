package codex

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted is returned when a pending call is cancelled by the caller's
// cancellation signal. Turn-level aborts are expected and recoverable; the
// session survives.
var ErrAborted = errors.New("aborted")

// ErrClientClosed is returned for calls made after Stop().
var ErrClientClosed = errors.New("codex client closed")

// ConnectionError reports that the agent subprocess is not running or its
// pipes failed. It is fatal to all pending calls; recovery requires a
// reconnect by the caller.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "codex connection lost"
	}
	return fmt.Sprintf("codex connection lost: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that a single RPC exceeded its deadline. It is
// localized to that call and does not tear down the session.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("codex call %s timed out after %s", e.Method, e.Timeout)
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
