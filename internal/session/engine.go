package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/tracing"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// messageDedupeWindow guards against both protocol dialects announcing the
// same final agent message.
const messageDedupeWindow = 15 * time.Second

// EngineConfig carries the per-thread settings sent on thread start/resume.
type EngineConfig struct {
	WorkDir        string
	ApprovalPolicy string // "untrusted", "on-failure", "on-request", "never"
	Model          string

	// PreferredResumeID resumes an existing thread when set.
	PreferredResumeID string
	// ResumePath is a transcript file path; its trailing uuid is used as a
	// resume id when PreferredResumeID is empty.
	ResumePath string
}

// Engine is the thread/turn state machine over one agent connection. It owns
// session identity, reconciles the two notification dialects, and guarantees
// at most one in-flight turn.
//
// All mutable state is guarded by mu; notifications arrive on the transport
// goroutine while turn calls run on the orchestration goroutine.
type Engine struct {
	mu     sync.Mutex
	client *codex.Client
	logger *logger.Logger
	sink   Sink

	permissions *PermissionBridge
	toolCalls   *Canonicalizer
	reasoning   *ReasoningNormalizer

	identity    Identity
	onSessionID func(sessionID string)

	// sawLegacyCodexEvents is connection-scoped sticky state: once the
	// legacy codex/event/* family is observed, that family is trusted
	// exclusively for reasoning/agent-message content.
	sawLegacyCodexEvents bool

	currentTurnID  string
	turnInFlight   bool
	turnWaiters    map[string]chan *codex.Turn
	completedTurns map[string]*codex.Turn

	recentMessages map[string]time.Time
	lastDiff       string

	now func() time.Time
}

// NewEngine creates an engine over the given transport. The client's
// notification and request handlers are taken over by the engine.
func NewEngine(client *codex.Client, permissions *PermissionBridge, sink Sink, log *logger.Logger) *Engine {
	e := &Engine{
		logger:         log.WithFields(zap.String("component", "session-engine")),
		sink:           sink,
		permissions:    permissions,
		toolCalls:      NewCanonicalizer(log),
		turnWaiters:    make(map[string]chan *codex.Turn),
		completedTurns: make(map[string]*codex.Turn),
		recentMessages: make(map[string]time.Time),
		now:            time.Now,
	}
	e.reasoning = NewReasoningNormalizer(
		func(text string) { e.publish(Event{Type: EventReasoningDelta, Text: text}) },
		func(text string) { e.publish(Event{Type: EventReasoningDone, Text: text}) },
	)
	e.AttachClient(client)
	return e
}

// AttachClient wires the engine to a (new) transport, e.g. after a
// subprocess restart. Dialect observations are connection-scoped, so the
// legacy-dialect flag resets here and only here.
func (e *Engine) AttachClient(client *codex.Client) {
	e.mu.Lock()
	e.client = client
	e.sawLegacyCodexEvents = false
	e.mu.Unlock()

	if client != nil {
		client.SetNotificationHandler(e.handleNotification)
		client.SetRequestHandler(e.handleRequest)
	}
}

// SetSessionPersistHook registers the upstream persistence callback invoked
// as soon as a session id becomes known.
func (e *Engine) SetSessionPersistHook(hook func(sessionID string)) {
	e.mu.Lock()
	e.onSessionID = hook
	e.mu.Unlock()
}

// Initialize performs the capability handshake with the agent.
func (e *Engine) Initialize(ctx context.Context) error {
	client := e.transport()
	if client == nil {
		return &codex.ConnectionError{}
	}

	resp, err := client.Call(ctx, codex.MethodInitialize, &codex.InitializeParams{
		ClientInfo: &codex.ClientInfo{
			Name:    "agentdeck",
			Title:   "Agentdeck Session Engine",
			Version: "1.0.0",
		},
	}, codex.WithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("initialize handshake failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %s", resp.Error.Message)
	}

	if err := client.Notify(codex.MethodInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return nil
}

func (e *Engine) transport() *codex.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// SessionID returns the current thread id, empty when no thread exists.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity.SessionID
}

// ConversationID returns the current conversation id.
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity.ConversationID
}

// HasActiveSession reports whether a thread has been started or resumed.
func (e *Engine) HasActiveSession() bool {
	return e.SessionID() != ""
}

// ClearSession resets session identity and every session-scoped table:
// tool-call aliases, correlation records, permission grants, reasoning
// accumulation, and dedup state.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	e.identity.clear()
	e.recentMessages = make(map[string]time.Time)
	e.completedTurns = make(map[string]*codex.Turn)
	e.currentTurnID = ""
	e.lastDiff = ""
	e.toolCalls.Reset()
	e.mu.Unlock()

	e.permissions.ClearSession()
	e.reasoning.Abort()
}

// canonicalize resolves a tool-call id under the engine lock. Approval
// handlers run on their own goroutines, so every canonicalizer access goes
// through the mutex.
func (e *Engine) canonicalize(observedID string, inputs *CommandInputs) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.toolCalls.Canonicalize(observedID, inputs)
}

// ResetTurnProcessors discards per-turn accumulation (reasoning, pending
// permission decisions, diff dedup). Called unconditionally when a turn
// settles, succeeds or not.
func (e *Engine) ResetTurnProcessors() {
	e.reasoning.Abort()
	e.permissions.Reset()
	e.mu.Lock()
	e.lastDiff = ""
	e.mu.Unlock()
}

// resumeIDPattern matches the trailing uuid of a transcript file name,
// e.g. rollout-2026-08-30T10-00-00-<uuid>.jsonl.
var resumeIDPattern = regexp.MustCompile(`-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\.jsonl$`)

// ResumeIDFromPath derives a thread resume id from a transcript file path,
// or returns empty when the path doesn't follow the convention.
func ResumeIDFromPath(path string) string {
	if m := resumeIDPattern.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// EnsureThread makes sure a thread exists: no-op when a session id is
// already set, otherwise resume when a resume id is derivable, falling back
// to a fresh thread/start on any resume failure.
func (e *Engine) EnsureThread(ctx context.Context, cfg EngineConfig) error {
	if e.HasActiveSession() {
		return nil
	}

	client := e.transport()
	if client == nil {
		return &codex.ConnectionError{}
	}

	sandbox := &codex.SandboxPolicy{
		Type:          "workspace-write",
		WritableRoots: []string{cfg.WorkDir},
		NetworkAccess: true,
	}
	approvalPolicy := cfg.ApprovalPolicy
	if approvalPolicy == "" {
		approvalPolicy = "untrusted"
	}

	resumeID := cfg.PreferredResumeID
	if resumeID == "" {
		resumeID = ResumeIDFromPath(cfg.ResumePath)
	}

	ctx, span := tracing.TraceThreadStart(ctx, resumeID != "" || cfg.ResumePath != "")
	defer span.End()

	if resumeID != "" || cfg.ResumePath != "" {
		resp, err := client.Call(ctx, codex.MethodThreadResume, &codex.ThreadResumeParams{
			ThreadID:       resumeID,
			Path:           cfg.ResumePath,
			Cwd:            cfg.WorkDir,
			ApprovalPolicy: approvalPolicy,
			SandboxPolicy:  sandbox,
		})
		if err == nil && resp.Error == nil {
			return e.absorbThreadResult(resp.Result)
		}
		if err != nil {
			e.logger.Warn("thread resume failed, starting fresh", zap.Error(err), zap.String("resume_id", resumeID))
		} else {
			e.logger.Warn("thread resume rejected, starting fresh",
				zap.String("resume_id", resumeID),
				zap.String("error", resp.Error.Message))
		}
	}

	resp, err := client.Call(ctx, codex.MethodThreadStart, &codex.ThreadStartParams{
		Model:          cfg.Model,
		Cwd:            cfg.WorkDir,
		ApprovalPolicy: approvalPolicy,
		SandboxPolicy:  sandbox,
	})
	if err != nil {
		return fmt.Errorf("failed to start thread: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("thread start error: %s", resp.Error.Message)
	}
	return e.absorbThreadResult(resp.Result)
}

func (e *Engine) absorbThreadResult(raw json.RawMessage) error {
	var result codex.ThreadStartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to parse thread result: %w", err)
	}

	e.mu.Lock()
	e.identity.absorb(&result)
	sessionID := e.identity.SessionID
	hook := e.onSessionID
	e.mu.Unlock()

	if sessionID == "" {
		return fmt.Errorf("thread response carried no usable id")
	}

	// Report upstream for persistence before any further mutation can
	// silently diverge.
	if hook != nil {
		hook(sessionID)
	}

	e.logger.Info("thread ready", zap.String("thread_id", sessionID))
	return nil
}

// publish stamps shared identity onto the event and hands it to the sink.
func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	if ev.SessionID == "" {
		ev.SessionID = e.identity.SessionID
	}
	if ev.ConversationID == "" {
		ev.ConversationID = e.identity.ConversationID
	}
	if ev.TurnID == "" {
		ev.TurnID = e.currentTurnID
	}
	sink := e.sink
	e.mu.Unlock()

	ev.Timestamp = e.now()
	if sink != nil {
		sink.Publish(ev)
	}
}

// dedupeMessage reports whether an identical (conversation, turn, text)
// message was already forwarded inside the dedup window. The table is
// pruned lazily on every call.
func (e *Engine) dedupeMessage(conversationID, turnID, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	cutoff := now.Add(-messageDedupeWindow)
	for key, seen := range e.recentMessages {
		if seen.Before(cutoff) {
			delete(e.recentMessages, key)
		}
	}

	key := conversationID + "\x00" + turnID + "\x00" + text
	if _, ok := e.recentMessages[key]; ok {
		return true
	}
	e.recentMessages[key] = now
	return false
}

// forwardAgentMessage emits a final agent message unless it is a duplicate
// announcement from the other protocol dialect.
func (e *Engine) forwardAgentMessage(turnID, text string) {
	if text == "" {
		return
	}
	if e.dedupeMessage(e.ConversationID(), turnID, text) {
		e.logger.Debug("suppressed duplicate agent message", zap.Int("len", len(text)))
		return
	}
	e.publish(Event{Type: EventAgentMessage, TurnID: turnID, Text: text})
}

// forwardDiff emits a diff event, collapsing identical consecutive updates.
func (e *Engine) forwardDiff(turnID, diff string) {
	if diff == "" {
		return
	}
	e.mu.Lock()
	if diff == e.lastDiff {
		e.mu.Unlock()
		return
	}
	e.lastDiff = diff
	e.mu.Unlock()
	e.publish(Event{Type: EventDiff, TurnID: turnID, Text: diff})
}
