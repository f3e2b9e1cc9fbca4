package session

import (
	"time"

	"github.com/agentdeck/agentdeck/pkg/codex"
)

// EventType identifies a normalized agent event.
type EventType string

const (
	// EventAgentMessage is a final assistant message for the turn.
	EventAgentMessage EventType = "agent_message"
	// EventAgentMessageDelta is an incremental chunk of the assistant message.
	EventAgentMessageDelta EventType = "agent_message_delta"
	// EventReasoningDelta is one clean incremental chunk of reasoning text.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventReasoningDone carries the full merged reasoning text for a section.
	EventReasoningDone EventType = "reasoning_done"
	// EventToolBegin marks the start of a tool invocation (exec, patch).
	EventToolBegin EventType = "tool_begin"
	// EventToolEnd marks the end of a tool invocation.
	EventToolEnd EventType = "tool_end"
	// EventDiff carries the turn's aggregated unified diff.
	EventDiff EventType = "diff"
	// EventPlan carries a plan update.
	EventPlan EventType = "plan"
	// EventTokenUsage carries token accounting for the thread.
	EventTokenUsage EventType = "token_usage"
	// EventTurnComplete marks a settled turn.
	EventTurnComplete EventType = "turn_complete"
	// EventSessionMessage is an engine-level message surfaced to the caller
	// (turn failures, process exit, recovery notices).
	EventSessionMessage EventType = "session_message"
	// EventReady signals the session is idle and accepting new instructions.
	EventReady EventType = "ready"
)

// Event is a normalized agent event published by the engine. Exactly one
// payload group is populated per type.
type Event struct {
	Type           EventType
	SessionID      string
	ConversationID string
	TurnID         string

	// Text carries message/reasoning/diff content depending on Type.
	Text string

	// Tool fields, for EventToolBegin / EventToolEnd.
	ToolCallID string
	ToolName   string
	Command    []string
	Cwd        string
	ExitCode   *int

	// Plan, for EventPlan.
	Plan []codex.PlanEntry

	// Usage, for EventTokenUsage.
	Usage *codex.TokenUsage

	// Err is set on EventSessionMessage when the message reports a failure.
	Err error

	Timestamp time.Time
}

// Sink receives normalized events. Implementations must not block for long;
// the engine drops events when a sink's channel is saturated.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// FanoutSink publishes each event to every sink in order, skipping nils.
func FanoutSink(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(ev)
			}
		}
	})
}
