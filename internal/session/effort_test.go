package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWireEffortMapping(t *testing.T) {
	cases := []struct {
		level EffortLevel
		wire  string
	}{
		{EffortNone, "none"},
		{EffortMinimal, "minimal"},
		{EffortLow, "low"},
		{EffortMedium, "medium"},
		{EffortHigh, "high"},
		{EffortMax, "xhigh"},
	}
	for _, tc := range cases {
		wire, ok := TurnOverrides{Effort: tc.level}.WireEffort()
		assert.True(t, ok, string(tc.level))
		assert.Equal(t, tc.wire, wire)
	}
}

func TestWireEffortOmittedWhenUnset(t *testing.T) {
	_, ok := TurnOverrides{}.WireEffort()
	assert.False(t, ok)
}

func TestWireEffortOmittedWhenUnknown(t *testing.T) {
	_, ok := TurnOverrides{Effort: "ultra"}.WireEffort()
	assert.False(t, ok)
}

func TestWireEffortResetWinsOverLevel(t *testing.T) {
	_, ok := TurnOverrides{Effort: EffortHigh, EffortResetToDefault: true}.WireEffort()
	assert.False(t, ok, "explicit reset must omit the field even when a level is set")
}
