package session

import (
	"context"
	"encoding/json"

	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// handleRequest routes server-initiated requests from the agent. Today these
// are all approval prompts. Decisions can take arbitrarily long (a human may
// be behind the provider), so each request is resolved on its own goroutine
// to keep the transport read loop draining.
func (e *Engine) handleRequest(id interface{}, method string, params json.RawMessage) {
	switch method {
	case codex.NotifyItemCmdExecRequestApproval:
		go e.handleCommandApproval(id, params)
	case codex.NotifyItemFileChangeRequestApproval:
		go e.handleFileChangeApproval(id, params)
	case codex.LegacyExecCommandApproval:
		go e.handleLegacyExecApproval(id, params)
	case codex.LegacyApplyPatchApproval:
		go e.handleLegacyPatchApproval(id, params)
	default:
		e.logger.Warn("unhandled agent request", zap.String("method", method))
		e.reply(id, nil, &codex.Error{Code: codex.MethodNotFound, Message: "Method not found"})
	}
}

func (e *Engine) handleCommandApproval(id interface{}, params json.RawMessage) {
	var p codex.CommandApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.reply(id, nil, &codex.Error{Code: codex.InvalidParams, Message: err.Error()})
		return
	}

	e.mu.Lock()
	canonical := e.toolCalls.Canonicalize(p.ItemID, nil)
	if p.ItemID == "" {
		// The id was synthesized; remember the inputs so the matching
		// exec begin event resolves to the same id.
		e.toolCalls.RememberGeneratedElicitation(canonical, []string{p.Command}, p.Cwd)
	}
	e.mu.Unlock()

	decision := e.permissions.Handle(context.Background(), canonical, "execCommand", map[string]any{
		"command":   p.Command,
		"cwd":       p.Cwd,
		"reasoning": p.Reasoning,
	})
	e.reply(id, &codex.ApprovalResponse{Decision: decision.WireNew()}, nil)
}

func (e *Engine) handleFileChangeApproval(id interface{}, params json.RawMessage) {
	var p codex.FileChangeApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.reply(id, nil, &codex.Error{Code: codex.InvalidParams, Message: err.Error()})
		return
	}

	e.mu.Lock()
	canonical := e.toolCalls.Canonicalize(p.ItemID, nil)
	e.mu.Unlock()

	decision := e.permissions.Handle(context.Background(), canonical, "applyPatch", map[string]any{
		"path":      p.Path,
		"diff":      p.Diff,
		"reasoning": p.Reasoning,
	})
	e.reply(id, &codex.ApprovalResponse{Decision: decision.WireNew()}, nil)
}

func (e *Engine) handleLegacyExecApproval(id interface{}, params json.RawMessage) {
	var p codex.LegacyExecApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.reply(id, nil, &codex.Error{Code: codex.InvalidParams, Message: err.Error()})
		return
	}

	e.mu.Lock()
	callID := p.CallID
	command := p.Command
	cwd := p.Cwd
	if callID == "" {
		// Request arrived without a machine id; pair it with the most
		// recent structured approval event by the prompt's cwd.
		if rec := e.toolCalls.ConsumeMostRecentExecApproval(p.Reason); rec != nil {
			callID = rec.CallID
			if len(command) == 0 {
				command = rec.ParsedCmd
			}
			if cwd == "" {
				cwd = rec.Cwd
			}
		}
	}
	canonical := e.toolCalls.Canonicalize(callID, &CommandInputs{Command: command, Cwd: cwd})
	e.identity.absorbConversationID(p.ConversationID)
	e.mu.Unlock()

	decision := e.permissions.Handle(context.Background(), canonical, "execCommand", map[string]any{
		"command": command,
		"cwd":     cwd,
		"reason":  p.Reason,
	})
	e.reply(id, &codex.LegacyApprovalResponse{Decision: decision.WireLegacy()}, nil)
}

func (e *Engine) handleLegacyPatchApproval(id interface{}, params json.RawMessage) {
	var p codex.LegacyPatchApprovalParams
	if err := json.Unmarshal(params, &p); err != nil {
		e.reply(id, nil, &codex.Error{Code: codex.InvalidParams, Message: err.Error()})
		return
	}

	e.mu.Lock()
	canonical := e.toolCalls.Canonicalize(p.CallID, nil)
	e.identity.absorbConversationID(p.ConversationID)
	e.mu.Unlock()

	input := map[string]any{"reason": p.Reason, "grantRoot": p.GrantRoot}
	if len(p.FileChanges) > 0 {
		var changes map[string]any
		if json.Unmarshal(p.FileChanges, &changes) == nil {
			input["fileChanges"] = changes
		}
	}

	decision := e.permissions.Handle(context.Background(), canonical, "applyPatch", input)
	e.reply(id, &codex.LegacyApprovalResponse{Decision: decision.WireLegacy()}, nil)
}

func (e *Engine) reply(id interface{}, result interface{}, respErr *codex.Error) {
	client := e.transport()
	if client == nil {
		return
	}
	if err := client.SendResponse(id, result, respErr); err != nil {
		e.logger.Warn("failed to send approval response", zap.Error(err))
	}
}
