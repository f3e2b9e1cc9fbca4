package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStderrLineRateLimit(t *testing.T) {
	line := `2026-08-30T10:57:08.953223Z ERROR codex_api::endpoint::responses: error=http 429 Too Many Requests: Some("{\"error\":{\"type\":\"usage_limit_reached\",\"message\":\"You have hit your usage limit.\",\"resets_in_seconds\":3600}}")`

	parsed := ParseStderrLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, "http 429 Too Many Requests", parsed.HTTPError)
	assert.Equal(t, "usage_limit_reached", parsed.Type)
	assert.Equal(t, int64(3600), parsed.ResetsInSeconds)
	assert.Equal(t, "You have hit your usage limit. (resets in 1 hours)", parsed.Message)
}

func TestParseStderrLineFlatPayload(t *testing.T) {
	line := `2026-08-30T10:57:08Z ERROR mod: error=http 500 Internal Server Error: Some("{\"type\":\"server_error\",\"message\":\"something broke\"}")`

	parsed := ParseStderrLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, "server_error", parsed.Type)
	assert.Equal(t, "something broke", parsed.Message)
}

func TestParseStderrLineUnparseableJSON(t *testing.T) {
	line := `2026-08-30T10:57:08Z ERROR mod: error=http 502 Bad Gateway: Some("not json at all")`

	parsed := ParseStderrLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, "http 502 Bad Gateway", parsed.Message)
}

func TestParseStderrLineNotAnError(t *testing.T) {
	assert.Nil(t, ParseStderrLine("2026-08-30T10:57:08Z INFO starting up"))
	assert.Nil(t, ParseStderrLine(""))
}

func TestParseStderrTailNewestFirst(t *testing.T) {
	lines := []string{
		`2026-08-30T10:00:00Z ERROR m: error=http 500: Some("{\"message\":\"older\"}")`,
		"plain log line",
		`2026-08-30T10:00:01Z ERROR m: error=http 500: Some("{\"message\":\"newer\"}")`,
	}
	parsed := ParseStderrTail(lines)
	require.NotNil(t, parsed)
	assert.Equal(t, "newer", parsed.Message)

	assert.Nil(t, ParseStderrTail([]string{"nothing", "to", "parse"}))
}

func TestResetHintFormatting(t *testing.T) {
	assert.Equal(t, "limit (resets in 30 seconds)", withResetHint("limit", 30))
	assert.Equal(t, "limit (resets in 5 minutes)", withResetHint("limit", 300))
	assert.Equal(t, "limit (resets in 2 hours)", withResetHint("limit", 7200))
	assert.Equal(t, "limit", withResetHint("limit", 0))
}

func TestStderrRingBounds(t *testing.T) {
	r := newStderrRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.append(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, r.snapshot())

	r.reset()
	assert.Empty(t, r.snapshot())
}
