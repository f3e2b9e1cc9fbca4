package session

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// handleNotification routes one incoming notification to the right handler.
// The legacy codex/event/* family is sticky: once seen on this connection it
// is trusted exclusively for reasoning and agent-message content, so the
// heuristic mapping of the newer item/* notifications is skipped to avoid
// emitting the same event from two dialects.
func (e *Engine) handleNotification(method string, params json.RawMessage) {
	if strings.HasPrefix(method, codex.LegacyEventPrefix) {
		e.mu.Lock()
		e.sawLegacyCodexEvents = true
		e.mu.Unlock()
		e.handleLegacyEvent(strings.TrimPrefix(method, codex.LegacyEventPrefix), params)
		return
	}

	e.mu.Lock()
	legacyActive := e.sawLegacyCodexEvents
	e.mu.Unlock()

	switch method {
	case codex.NotifyTurnCompleted:
		var p codex.TurnCompletedParams
		if err := json.Unmarshal(params, &p); err != nil {
			e.logger.Warn("failed to parse turn completion", zap.Error(err))
			return
		}
		e.resolveTurn(p.Turn)

	case codex.NotifyItemAgentMessageDelta:
		if legacyActive {
			return
		}
		var p codex.DeltaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.publish(Event{Type: EventAgentMessageDelta, TurnID: p.TurnID, Text: p.Delta})

	case codex.NotifyItemReasoningTextDelta, codex.NotifyItemReasoningSummaryDelta:
		if legacyActive {
			return
		}
		var p codex.DeltaParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.reasoning.ProcessDelta(p.Delta)

	case codex.NotifyItemStarted:
		e.handleItemStarted(params, legacyActive)

	case codex.NotifyItemCompleted:
		e.handleItemCompleted(params, legacyActive)

	case codex.NotifyTurnDiffUpdated:
		if legacyActive {
			return
		}
		var p codex.TurnDiffUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.forwardDiff(p.TurnID, p.Diff)

	case codex.NotifyTurnPlanUpdated:
		var p codex.TurnPlanUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.publish(Event{Type: EventPlan, TurnID: p.TurnID, Plan: p.Plan})

	case codex.NotifyThreadTokenUsageUpdated:
		var p codex.ThreadTokenUsageUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.publish(Event{Type: EventTokenUsage, TurnID: p.TurnID, Usage: p.TokenUsage})

	case codex.NotifyError:
		var p codex.ErrorParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		e.publish(Event{Type: EventSessionMessage, Text: p.Message, Err: errors.New(p.Message)})

	case codex.NotifyThreadStarted, codex.NotifyTurnStarted:
		// Informational; identity comes from the call responses.

	default:
		e.logger.Debug("unhandled notification", zap.String("method", method))
	}
}

// handleItemStarted maps new-dialect item starts onto tool events. Only
// items with an explicit tool shape are forwarded.
func (e *Engine) handleItemStarted(params json.RawMessage, legacyActive bool) {
	var p codex.ItemNotifyParams
	if err := json.Unmarshal(params, &p); err != nil || p.Item == nil {
		return
	}

	switch p.Item.Type {
	case "commandExecution":
		canonical := e.canonicalize(p.Item.ID, nil)
		e.publish(Event{
			Type:       EventToolBegin,
			TurnID:     p.TurnID,
			ToolCallID: canonical,
			ToolName:   "execCommand",
			Command:    []string{p.Item.Command},
			Cwd:        p.Item.Cwd,
		})
	case "fileChange":
		canonical := e.canonicalize(p.Item.ID, nil)
		e.publish(Event{
			Type:       EventToolBegin,
			TurnID:     p.TurnID,
			ToolCallID: canonical,
			ToolName:   "applyPatch",
		})
	}
}

// handleItemCompleted maps new-dialect item completions. Reasoning content
// is inferred only when explicit reasoning-shaped fields are present, so
// ordinary assistant text is never misclassified.
func (e *Engine) handleItemCompleted(params json.RawMessage, legacyActive bool) {
	var p codex.ItemNotifyParams
	if err := json.Unmarshal(params, &p); err != nil || p.Item == nil {
		return
	}

	switch p.Item.Type {
	case "agentMessage":
		if legacyActive {
			return
		}
		text := p.Item.Text
		if text == "" {
			text = p.Item.Content.AsText()
		}
		e.forwardAgentMessage(p.TurnID, text)

	case "reasoning":
		if legacyActive {
			return
		}
		text := p.Item.Content.AsText()
		if text == "" {
			text = p.Item.Summary.AsText()
		}
		if text == "" {
			return
		}
		e.reasoning.Complete(text)

	case "commandExecution":
		canonical := e.canonicalize(p.Item.ID, nil)
		e.publish(Event{
			Type:       EventToolEnd,
			TurnID:     p.TurnID,
			ToolCallID: canonical,
			ToolName:   "execCommand",
			Command:    []string{p.Item.Command},
			Cwd:        p.Item.Cwd,
			ExitCode:   p.Item.ExitCode,
			Text:       p.Item.AggregatedOutput,
		})

	case "fileChange":
		canonical := e.canonicalize(p.Item.ID, nil)
		e.publish(Event{
			Type:       EventToolEnd,
			TurnID:     p.TurnID,
			ToolCallID: canonical,
			ToolName:   "applyPatch",
		})
	}
}

// handleLegacyEvent processes one codex/event/<name> notification.
func (e *Engine) handleLegacyEvent(name string, params json.RawMessage) {
	var p codex.LegacyEventParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.logger.Warn("failed to parse legacy event", zap.String("event", name), zap.Error(err))
		return
	}

	e.mu.Lock()
	e.identity.absorbConversationID(p.ConversationID)
	currentTurn := e.currentTurnID
	e.mu.Unlock()

	// Some agent builds repeat the event name inside msg.type; trust it
	// when present.
	if p.Msg.Type != "" {
		name = p.Msg.Type
	}

	switch name {
	case codex.LegacyAgentMessage:
		text := p.Msg.Message
		if text == "" {
			text = p.Msg.Text
		}
		e.forwardAgentMessage(currentTurn, text)

	case codex.LegacyAgentReasoningDelta:
		delta := p.Msg.Delta
		if delta == "" {
			delta = p.Msg.Text
		}
		e.reasoning.ProcessDelta(delta)

	case codex.LegacyAgentReasoning:
		e.reasoning.Complete(p.Msg.Text)

	case codex.LegacyReasoningBreak:
		e.reasoning.HandleSectionBreak()

	case codex.LegacyExecCommandBegin:
		canonical := e.canonicalize(p.Msg.CallID, &CommandInputs{
			Command: p.Msg.Command,
			Cwd:     p.Msg.Cwd,
		})
		e.publish(Event{
			Type:       EventToolBegin,
			TurnID:     currentTurn,
			ToolCallID: canonical,
			ToolName:   "execCommand",
			Command:    p.Msg.Command,
			Cwd:        p.Msg.Cwd,
		})

	case codex.LegacyExecCommandEnd:
		canonical := e.canonicalize(p.Msg.CallID, nil)
		e.publish(Event{
			Type:       EventToolEnd,
			TurnID:     currentTurn,
			ToolCallID: canonical,
			ToolName:   "execCommand",
			ExitCode:   p.Msg.ExitCode,
		})

	case codex.LegacyExecApprovalRequest:
		// The machine-readable half of an approval pair; remember it so the
		// free-text prompt that follows can resolve to the same call.
		e.mu.Lock()
		e.toolCalls.RecordExecApproval(p.Msg.CallID, p.Msg.Command, p.Msg.Cwd)
		e.mu.Unlock()

	case codex.LegacyPatchApplyBegin:
		canonical := e.canonicalize(p.Msg.CallID, nil)
		e.publish(Event{
			Type:       EventToolBegin,
			TurnID:     currentTurn,
			ToolCallID: canonical,
			ToolName:   "applyPatch",
		})

	case codex.LegacyPatchApplyEnd:
		canonical := e.canonicalize(p.Msg.CallID, nil)
		e.publish(Event{
			Type:       EventToolEnd,
			TurnID:     currentTurn,
			ToolCallID: canonical,
			ToolName:   "applyPatch",
		})

	case codex.LegacyTurnDiff:
		e.forwardDiff(currentTurn, p.Msg.UnifiedDiff)

	case codex.LegacyTaskStarted:
		e.logger.Debug("task started", zap.String("turn_id", currentTurn))

	case codex.LegacyTaskComplete:
		if p.Msg.LastMessage != "" {
			e.forwardAgentMessage(currentTurn, p.Msg.LastMessage)
		}
		e.resolveTurn(&codex.Turn{ID: currentTurn, Status: codex.TurnStatusCompleted})

	case codex.LegacyTurnAborted:
		e.resolveTurn(&codex.Turn{ID: currentTurn, Status: codex.TurnStatusInterrupted})

	case codex.LegacyTokenCount:
		var usage codex.TokenUsage
		if len(p.Msg.Info) > 0 && json.Unmarshal(p.Msg.Info, &usage) == nil {
			e.publish(Event{Type: EventTokenUsage, TurnID: currentTurn, Usage: &usage})
		}

	default:
		e.logger.Debug("unhandled legacy event", zap.String("event", name))
	}
}
