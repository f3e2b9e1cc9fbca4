// Package codex provides types and a stdio JSON-RPC client for the Codex
// app-server protocol. Codex speaks a JSON-RPC 2.0 variant over
// newline-delimited stdio but omits the "jsonrpc":"2.0" header.
//
// The same agent binary may emit two notification dialects for the same
// events: the newer thread/turn/item-oriented methods, and the legacy flat
// "codex/event/<name>" envelope. Both are modeled here.
package codex

import "encoding/json"

// Request represents a Codex JSON-RPC request (without jsonrpc field)
type Request struct {
	ID     interface{}     `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a Codex JSON-RPC response
type Response struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Notification represents a Codex notification (no id field)
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Codex method names (client → server)
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized" // Notification
	MethodThreadStart   = "thread/start"
	MethodThreadResume  = "thread/resume"
	MethodTurnStart     = "turn/start"
	MethodTurnInterrupt = "turn/interrupt"
)

// Codex notification methods (server → client), new dialect
const (
	NotifyThreadStarted                 = "thread/started"
	NotifyTurnStarted                   = "turn/started"
	NotifyTurnCompleted                 = "turn/completed"
	NotifyTurnDiffUpdated               = "turn/diff/updated"
	NotifyTurnPlanUpdated               = "turn/plan/updated"
	NotifyItemStarted                   = "item/started"
	NotifyItemCompleted                 = "item/completed"
	NotifyItemAgentMessageDelta         = "item/agentMessage/delta"
	NotifyItemReasoningSummaryDelta     = "item/reasoning/summaryTextDelta"
	NotifyItemReasoningTextDelta        = "item/reasoning/textDelta"
	NotifyItemCmdExecOutputDelta        = "item/commandExecution/outputDelta"
	NotifyItemCmdExecRequestApproval    = "item/commandExecution/requestApproval"
	NotifyItemFileChangeRequestApproval = "item/fileChange/requestApproval"
	NotifyThreadTokenUsageUpdated       = "thread/tokenUsage/updated"
	NotifyError                         = "error"
)

// Legacy dialect: every event arrives as "codex/event/<name>" wrapping a
// flat msg payload.
const (
	LegacyEventPrefix = "codex/event/"

	LegacyAgentMessage        = "agent_message"
	LegacyAgentReasoning      = "agent_reasoning"
	LegacyAgentReasoningDelta = "agent_reasoning_delta"
	LegacyReasoningBreak      = "agent_reasoning_section_break"
	LegacyExecCommandBegin    = "exec_command_begin"
	LegacyExecCommandEnd      = "exec_command_end"
	LegacyExecApprovalRequest = "exec_approval_request"
	LegacyPatchApplyBegin     = "patch_apply_begin"
	LegacyPatchApplyEnd       = "patch_apply_end"
	LegacyTurnDiff            = "turn_diff"
	LegacyTaskStarted         = "task_started"
	LegacyTaskComplete        = "task_complete"
	LegacyTurnAborted         = "turn_aborted"
	LegacyTokenCount          = "token_count"
)

// Legacy server-initiated approval request methods.
const (
	LegacyExecCommandApproval = "execCommandApproval"
	LegacyApplyPatchApproval  = "applyPatchApproval"
)

// InitializeParams for initialize request
type InitializeParams struct {
	ClientInfo *ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the client
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeResult from initialize
type InitializeResult struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// ThreadStartParams for thread/start
type ThreadStartParams struct {
	Model          string         `json:"model,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"` // "untrusted", "on-failure", "on-request", "never"
	SandboxPolicy  *SandboxPolicy `json:"sandboxPolicy,omitempty"`
}

// SandboxPolicy configures sandbox behavior. Type uses kebab-case values:
// "read-only", "workspace-write", "danger-full-access".
type SandboxPolicy struct {
	Type          string   `json:"type"`
	WritableRoots []string `json:"writableRoots,omitempty"`
	NetworkAccess bool     `json:"networkAccess,omitempty"`
}

// Thread represents a Codex thread (conversation). Different Codex versions
// have reported the identifiers under different keys; all observed shapes
// are modeled so identity extraction can apply a fixed precedence order.
type Thread struct {
	ID             string `json:"id,omitempty"`
	ThreadID       string `json:"threadId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Preview        string `json:"preview,omitempty"`
}

// ThreadStartResult from thread/start or thread/resume.
type ThreadStartResult struct {
	Thread            *Thread        `json:"thread,omitempty"`
	ThreadID          string         `json:"threadId,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
	ConversationID    string         `json:"conversationId,omitempty"`
	StructuredContent *ThreadContent `json:"structuredContent,omitempty"`
	Content           []ContentPart  `json:"content,omitempty"`
}

// ThreadContent is the structuredContent variant of a thread response.
type ThreadContent struct {
	ThreadID       string `json:"threadId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ThreadResumeParams for thread/resume
type ThreadResumeParams struct {
	ThreadID       string         `json:"threadId,omitempty"`
	Path           string         `json:"path,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"`
	SandboxPolicy  *SandboxPolicy `json:"sandboxPolicy,omitempty"`
}

// UserInput represents input to a turn
type UserInput struct {
	Type string `json:"type"` // "text", "image", "localImage"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// TurnStartParams for turn/start. Override fields are sparse: omitted keys
// are never sent, so the agent's own defaults apply.
type TurnStartParams struct {
	ThreadID       string         `json:"threadId"`
	Input          []UserInput    `json:"input"`
	Model          string         `json:"model,omitempty"`
	Effort         string         `json:"effort,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"`
	SandboxPolicy  *SandboxPolicy `json:"sandboxPolicy,omitempty"`
}

// Turn status values.
const (
	TurnStatusInProgress  = "inProgress"
	TurnStatusCompleted   = "completed"
	TurnStatusInterrupted = "interrupted"
	TurnStatusFailed      = "failed"
)

// Turn represents a Codex turn within a thread
type Turn struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
}

// TurnStartResult from turn/start
type TurnStartResult struct {
	Turn *Turn `json:"turn"`
}

// TurnInterruptParams for turn/interrupt
type TurnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId,omitempty"`
}

// TurnCompletedParams for turn/completed notification
type TurnCompletedParams struct {
	ThreadID string `json:"threadId"`
	Turn     *Turn  `json:"turn"`
}

// Item represents a Codex item (message, command, file change, reasoning).
type Item struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "agentMessage", "commandExecution", "fileChange", "reasoning", ...
	Status string `json:"status"`

	Text string `json:"text,omitempty"`

	// For commandExecution type
	Command          string `json:"command,omitempty"`
	Cwd              string `json:"cwd,omitempty"`
	AggregatedOutput string `json:"aggregatedOutput,omitempty"`
	ExitCode         *int   `json:"exitCode,omitempty"`

	// For fileChange type
	Changes []FileChange `json:"changes,omitempty"`

	// For reasoning type - content can be objects like [{type:"text", text:"..."}]
	// or plain strings. FlexibleContent handles both.
	Summary FlexibleContent `json:"summary,omitempty"`
	Content FlexibleContent `json:"content,omitempty"`
}

// ContentPart represents a content part in a Codex item.
type ContentPart struct {
	Type     string `json:"type,omitempty"` // "text", "output_text", ...
	Text     string `json:"text,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

// FlexibleContent unmarshals from either a string or []ContentPart.
// Codex sometimes sends summary/content as a plain string, other times as
// an array.
type FlexibleContent []ContentPart

// UnmarshalJSON handles both string and array formats from Codex.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		*fc = parts
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*fc = []ContentPart{{Type: "text", Text: str}}
		return nil
	}

	*fc = nil
	return nil
}

// AsText concatenates all textual parts.
func (fc FlexibleContent) AsText() string {
	out := ""
	for _, p := range fc {
		out += p.Text
	}
	return out
}

// FileChange represents a file change in a fileChange item
type FileChange struct {
	Path string         `json:"path"`
	Kind FileChangeKind `json:"kind"`
	Diff string         `json:"diff,omitempty"`
}

// FileChangeKind represents the type of file change
type FileChangeKind struct {
	Type string `json:"type"` // "add", "modify", "delete"
}

// ItemNotifyParams for item/started and item/completed notifications
type ItemNotifyParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Item     *Item  `json:"item"`
}

// DeltaParams covers the item/*/delta notification family; all carry the
// same shape.
type DeltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}

// CommandApprovalParams for item/commandExecution/requestApproval
type CommandApprovalParams struct {
	ThreadID  string   `json:"threadId"`
	TurnID    string   `json:"turnId"`
	ItemID    string   `json:"itemId"`
	Command   string   `json:"command"`
	Cwd       string   `json:"cwd,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// FileChangeApprovalParams for item/fileChange/requestApproval
type FileChangeApprovalParams struct {
	ThreadID  string   `json:"threadId"`
	TurnID    string   `json:"turnId"`
	ItemID    string   `json:"itemId"`
	Path      string   `json:"path"`
	Diff      string   `json:"diff,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// ApprovalResponse answers a new-dialect approval request.
// Decision values: "accept", "acceptForSession", "decline", "cancel".
type ApprovalResponse struct {
	Decision string `json:"decision"`
}

// LegacyApprovalResponse answers a legacy-dialect approval request.
// Decision values: "approved", "approved_for_session", "denied", "abort".
type LegacyApprovalResponse struct {
	Decision string `json:"decision"`
}

// LegacyExecApprovalParams for the legacy execCommandApproval request.
type LegacyExecApprovalParams struct {
	ConversationID string   `json:"conversationId,omitempty"`
	CallID         string   `json:"callId,omitempty"`
	Command        []string `json:"command,omitempty"`
	Cwd            string   `json:"cwd,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// LegacyPatchApprovalParams for the legacy applyPatchApproval request.
type LegacyPatchApprovalParams struct {
	ConversationID string          `json:"conversationId,omitempty"`
	CallID         string          `json:"callId,omitempty"`
	FileChanges    json.RawMessage `json:"fileChanges,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	GrantRoot      string          `json:"grantRoot,omitempty"`
}

// LegacyEventParams is the envelope of a codex/event/* notification: the
// event name repeats inside the flat msg payload next to its fields.
type LegacyEventParams struct {
	ConversationID string         `json:"conversationId,omitempty"`
	ID             string         `json:"id,omitempty"`
	Msg            LegacyEventMsg `json:"msg"`
}

// LegacyEventMsg is the flat legacy event payload. Only fields consumed by
// the engine are modeled.
type LegacyEventMsg struct {
	Type        string          `json:"type"`
	Message     string          `json:"message,omitempty"`
	Text        string          `json:"text,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	Command     []string        `json:"command,omitempty"`
	Cwd         string          `json:"cwd,omitempty"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	UnifiedDiff string          `json:"unified_diff,omitempty"`
	TurnID      string          `json:"turn_id,omitempty"`
	LastMessage string          `json:"last_agent_message,omitempty"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Info        json.RawMessage `json:"info,omitempty"`
}

// TurnDiffUpdatedParams for turn/diff/updated notification
type TurnDiffUpdatedParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Diff     string `json:"diff"`
}

// TurnPlanUpdatedParams for turn/plan/updated notification
type TurnPlanUpdatedParams struct {
	ThreadID string      `json:"threadId"`
	TurnID   string      `json:"turnId"`
	Plan     []PlanEntry `json:"plan"`
}

// PlanEntry represents a single plan item
type PlanEntry struct {
	Description string `json:"description"`
	Status      string `json:"status"` // "pending", "in_progress", "completed", "failed"
}

// ThreadTokenUsageUpdatedParams for thread/tokenUsage/updated notification.
type ThreadTokenUsageUpdatedParams struct {
	ThreadID   string      `json:"threadId"`
	TurnID     string      `json:"turnId"`
	TokenUsage *TokenUsage `json:"tokenUsage"`
}

// TokenUsage contains token counts for a request/response cycle.
type TokenUsage struct {
	InputTokens       int64 `json:"inputTokens"`
	CachedInputTokens int64 `json:"cachedInputTokens"`
	OutputTokens      int64 `json:"outputTokens"`
	TotalTokens       int64 `json:"totalTokens"`
}

// ErrorParams for the error notification
type ErrorParams struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
