package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/codex"
)

// ErrTurnInterrupted is returned when a turn is cancelled cooperatively.
// Callers treat it identically to an abort: expected, recoverable, the
// session survives.
var ErrTurnInterrupted = errors.New("turn interrupted")

// ErrNoActiveSession is returned by operations that require a started thread.
var ErrNoActiveSession = errors.New("no active session")

// TurnFailedError carries the agent-reported failure message for a turn.
// The session survives and can accept new instructions.
type TurnFailedError struct {
	TurnID  string
	Message string
}

func (e *TurnFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("turn %s failed", e.TurnID)
	}
	return fmt.Sprintf("turn %s failed: %s", e.TurnID, e.Message)
}

// IsTurnFailed reports whether err is (or wraps) a TurnFailedError.
func IsTurnFailed(err error) bool {
	var tf *TurnFailedError
	return errors.As(err, &tf)
}

// IsAbort reports whether err represents a cooperative cancellation,
// either transport-level or turn-level.
func IsAbort(err error) bool {
	return errors.Is(err, ErrTurnInterrupted) || errors.Is(err, codex.ErrAborted)
}

// contextLengthMarkers are the message fragments the agent is known to emit
// when a continuation turn no longer fits the model context window.
var contextLengthMarkers = []string{
	"context length",
	"context window",
	"exceeds the maximum",
	"maximum context",
	"too many tokens",
	"prompt is too long",
}

// IsContextLengthExceeded detects the context-length-exceeded signature by
// message-content pattern matching on a failed continuation. It triggers the
// one-shot fresh-thread retry before the failure is surfaced.
func IsContextLengthExceeded(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range contextLengthMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
