package process

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// stderrErrorPattern matches the agent's stderr error log format:
// TIMESTAMP ERROR module: error=HTTP_ERROR: Some("JSON")
var stderrErrorPattern = regexp.MustCompile(`error=(.+?):\s*Some\("(.+)"\)\s*$`)

// ParsedError is structured error information recovered from an agent
// stderr line.
type ParsedError struct {
	// Message is suitable for surfacing to the user.
	Message string
	// HTTPError is the transport-level error, e.g. "http 429 Too Many Requests".
	HTTPError string
	// Type is the error type from the payload, e.g. "usage_limit_reached".
	Type string
	// ResetsInSeconds is nonzero when the payload carries a rate-limit reset.
	ResetsInSeconds int64
	// Payload holds all fields of the embedded error JSON.
	Payload map[string]any
}

// ParseStderrLine extracts structured error information from one stderr
// line, or returns nil when the line is not an error in the known format.
func ParseStderrLine(line string) *ParsedError {
	m := stderrErrorPattern.FindStringSubmatch(line)
	if len(m) < 3 {
		return nil
	}

	parsed := &ParsedError{HTTPError: strings.TrimSpace(m[1])}

	// The embedded JSON is escaped inside the log line.
	unescaped := strings.ReplaceAll(m[2], `\"`, `"`)
	unescaped = strings.ReplaceAll(unescaped, `\\`, `\`)

	var payload map[string]any
	if err := json.Unmarshal([]byte(unescaped), &payload); err != nil {
		parsed.Message = parsed.HTTPError
		return parsed
	}
	parsed.Payload = payload

	errType, errMessage, resets := errorFields(payload)
	parsed.Type = errType
	parsed.ResetsInSeconds = resets

	switch {
	case errMessage != "":
		parsed.Message = withResetHint(errMessage, resets)
	case errType != "":
		parsed.Message = fmt.Sprintf("Error: %s", errType)
	default:
		parsed.Message = parsed.HTTPError
	}
	return parsed
}

// ParseStderrTail scans lines newest-first for a parseable error.
func ParseStderrTail(lines []string) *ParsedError {
	for i := len(lines) - 1; i >= 0; i-- {
		if parsed := ParseStderrLine(lines[i]); parsed != nil {
			return parsed
		}
	}
	return nil
}

// errorFields reads type/message/resets from the payload, preferring the
// nested "error" object over flat top-level fields.
func errorFields(payload map[string]any) (errType, errMessage string, resets int64) {
	if errObj, ok := payload["error"].(map[string]any); ok {
		if t, ok := errObj["type"].(string); ok {
			errType = t
		}
		if m, ok := errObj["message"].(string); ok {
			errMessage = m
		}
		if r, ok := errObj["resets_in_seconds"].(float64); ok {
			resets = int64(r)
		}
	}
	if errMessage == "" {
		if m, ok := payload["message"].(string); ok {
			errMessage = m
		}
	}
	if errType == "" {
		if t, ok := payload["type"].(string); ok {
			errType = t
		}
	}
	return errType, errMessage, resets
}

func withResetHint(msg string, resets int64) string {
	if resets <= 0 {
		return msg
	}
	d := time.Duration(resets) * time.Second
	switch {
	case d.Hours() >= 1:
		return fmt.Sprintf("%s (resets in %.0f hours)", msg, d.Hours())
	case d.Minutes() >= 1:
		return fmt.Sprintf("%s (resets in %.0f minutes)", msg, d.Minutes())
	default:
		return fmt.Sprintf("%s (resets in %d seconds)", msg, int(d.Seconds()))
	}
}
