package session

// EffortLevel is the caller-facing reasoning effort vocabulary.
type EffortLevel string

const (
	EffortNone    EffortLevel = "none"
	EffortMinimal EffortLevel = "minimal"
	EffortLow     EffortLevel = "low"
	EffortMedium  EffortLevel = "medium"
	EffortHigh    EffortLevel = "high"
	EffortMax     EffortLevel = "max"
)

// wireEffort maps the caller vocabulary onto the wire vocabulary. The only
// divergence is max → xhigh.
var wireEffort = map[EffortLevel]string{
	EffortNone:    "none",
	EffortMinimal: "minimal",
	EffortLow:     "low",
	EffortMedium:  "medium",
	EffortHigh:    "high",
	EffortMax:     "xhigh",
}

// TurnOverrides carries only the turn options the caller explicitly set.
// Omitted fields are never sent, so the agent's own defaults apply.
type TurnOverrides struct {
	Model   string
	Effort  EffortLevel
	Summary string

	// EffortResetToDefault explicitly resets effort to the agent default.
	// The underlying wire field is optional, so reset is expressed by
	// omitting the field, never by sending null. Reset wins over any
	// concurrently supplied Effort.
	EffortResetToDefault bool
}

// WireEffort resolves the effort override to its wire value. The second
// return is false when the field must be omitted from the payload: either
// nothing was set, the level is unknown, or an explicit reset was requested.
func (o TurnOverrides) WireEffort() (string, bool) {
	if o.EffortResetToDefault {
		return "", false
	}
	if o.Effort == "" {
		return "", false
	}
	wire, ok := wireEffort[o.Effort]
	if !ok {
		return "", false
	}
	return wire, true
}
