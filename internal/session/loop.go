package session

import (
	"context"
	"sync"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// AgentLauncher abstracts the agent subprocess. Launch spawns (or respawns)
// the process and returns a transport over its stdio; Stop tears it down.
type AgentLauncher interface {
	Launch(ctx context.Context) (*codex.Client, error)
	Stop(ctx context.Context) error
	Running() bool
}

// SessionStore persists resume ids across process restarts.
type SessionStore interface {
	SaveResume(ctx context.Context, workDir, sessionID string) error
	LoadResume(ctx context.Context, workDir string) (string, error)
}

// ManagerConfig carries the fixed settings of one managed workspace.
type ManagerConfig struct {
	WorkDir     string
	DefaultMode Mode
}

// Manager owns the orchestration loop for one workspace: a prompt queue, an
// engine over the agent subprocess, and the restart/recovery policy around
// them. Prompts are strictly serialized; the agent never sees a second turn
// before the first settles.
type Manager struct {
	cfg      ManagerConfig
	launcher AgentLauncher
	store    SessionStore
	engine   *Engine
	queue    *promptQueue
	logger   *logger.Logger

	mu              sync.Mutex
	activeModeHash  string
	pendingResumeID string
	turnCancel      context.CancelFunc
	closing         bool
}

// NewManager creates a manager. The engine is expected to have no client
// attached yet; the manager launches the agent lazily on the first prompt.
func NewManager(cfg ManagerConfig, launcher AgentLauncher, store SessionStore, engine *Engine, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		store:    store,
		engine:   engine,
		queue:    newPromptQueue(),
		logger:   log.WithFields(zap.String("component", "session-manager")),
	}
}

// Run drives the loop until ctx is cancelled. It is the only goroutine that
// talks to the engine's turn API.
func (m *Manager) Run(ctx context.Context) error {
	// Resume continuity across daemon restarts.
	if m.store != nil {
		if id, err := m.store.LoadResume(ctx, m.cfg.WorkDir); err == nil && id != "" {
			m.mu.Lock()
			m.pendingResumeID = id
			m.mu.Unlock()
			m.logger.Info("loaded stored resume id", zap.String("resume_id", id))
		}
	}

	for {
		m.announceReadyIfIdle()
		item, ok := m.queue.Dequeue(ctx)
		if !ok {
			return ctx.Err()
		}
		m.process(ctx, item)
	}
}

// announceReadyIfIdle publishes a ready event when nothing is pending. The
// event tells upstream consumers the session accepts new instructions.
func (m *Manager) announceReadyIfIdle() {
	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()
	if closing || m.queue.Len() > 0 {
		return
	}
	m.engine.publish(Event{Type: EventReady})
}

// StartSession enqueues a prompt that must run on a fresh thread, discarding
// any resume continuity.
func (m *Manager) StartSession(prompt string, mode Mode) {
	m.queue.Enqueue(QueueItem{Prompt: prompt, Mode: m.withDefaults(mode), Isolate: true})
}

// ContinueSession enqueues a prompt on the current thread. A mode change
// still forces a thread restart at the queue boundary, with continuity
// through resume.
func (m *Manager) ContinueSession(prompt string, mode Mode) {
	m.queue.Enqueue(QueueItem{Prompt: prompt, Mode: m.withDefaults(mode)})
}

// ContinueWithOverrides enqueues a prompt with per-turn overrides on top of
// the mode.
func (m *Manager) ContinueWithOverrides(prompt string, mode Mode, overrides TurnOverrides) {
	m.queue.Enqueue(QueueItem{Prompt: prompt, Mode: m.withDefaults(mode), Overrides: overrides})
}

func (m *Manager) withDefaults(mode Mode) Mode {
	if mode.Model == "" {
		mode.Model = m.cfg.DefaultMode.Model
	}
	if mode.Effort == "" {
		mode.Effort = m.cfg.DefaultMode.Effort
	}
	if mode.ApprovalPolicy == "" {
		mode.ApprovalPolicy = m.cfg.DefaultMode.ApprovalPolicy
	}
	if mode.SandboxMode == "" {
		mode.SandboxMode = m.cfg.DefaultMode.SandboxMode
	}
	return mode
}

// Abort persists the session for later resume, drops queued prompts, and
// cancels the in-flight turn. Persisting first means a crash between the
// two steps loses nothing.
func (m *Manager) Abort(ctx context.Context) {
	m.StoreSessionForResume(ctx)
	m.queue.Drain()

	m.mu.Lock()
	cancel := m.turnCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ForceCloseSession aborts, stops the subprocess, and clears session state.
// Resume continuity survives via the store.
func (m *Manager) ForceCloseSession(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.Abort(ctx)
	err := m.launcher.Stop(ctx)
	m.engine.ClearSession()

	m.mu.Lock()
	m.closing = false
	m.activeModeHash = ""
	m.mu.Unlock()
	return err
}

// StoreSessionForResume persists the current session id when one exists.
func (m *Manager) StoreSessionForResume(ctx context.Context) {
	sessionID := m.engine.SessionID()
	if sessionID == "" || m.store == nil {
		return
	}
	if err := m.store.SaveResume(ctx, m.cfg.WorkDir, sessionID); err != nil {
		m.logger.Warn("failed to persist resume id", zap.Error(err))
	}
}

// GetSessionID returns the active thread id, empty when none.
func (m *Manager) GetSessionID() string { return m.engine.SessionID() }

// GetConversationID returns the active conversation id, empty when none.
func (m *Manager) GetConversationID() string { return m.engine.ConversationID() }

// HasActiveSession reports whether a thread is active.
func (m *Manager) HasActiveSession() bool { return m.engine.HasActiveSession() }

// ClearSession drops all session state without touching the subprocess.
func (m *Manager) ClearSession() {
	m.engine.ClearSession()
	m.mu.Lock()
	m.activeModeHash = ""
	m.pendingResumeID = ""
	m.mu.Unlock()
}

// QueueLen returns the number of prompts waiting to run.
func (m *Manager) QueueLen() int { return m.queue.Len() }

// process runs one queued prompt end to end.
func (m *Manager) process(ctx context.Context, item QueueItem) {
	if err := m.ensureAgent(ctx); err != nil {
		m.logger.Error("failed to launch agent", zap.Error(err))
		m.engine.publish(Event{Type: EventSessionMessage, Text: "agent process unavailable", Err: err})
		return
	}

	if err := m.ensureThreadFor(ctx, item); err != nil {
		m.logger.Error("failed to establish thread", zap.Error(err))
		m.engine.publish(Event{Type: EventSessionMessage, Text: "failed to establish session", Err: err})
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.turnCancel = cancel
	m.mu.Unlock()

	err := m.engine.RunTurn(turnCtx, item.Prompt, item.Overrides)

	m.mu.Lock()
	m.turnCancel = nil
	m.mu.Unlock()
	cancel()
	m.engine.ResetTurnProcessors()

	m.settle(ctx, item, err)
}

// settle applies the recovery policy for a finished turn.
func (m *Manager) settle(ctx context.Context, item QueueItem, err error) {
	switch {
	case err == nil:
		return

	case IsAbort(err):
		m.logger.Info("turn interrupted")

	case IsContextLengthExceeded(err) && !item.recovered:
		// One-shot recovery: the thread's context is full, so resume
		// would fail the same way. Restart fresh and retry the prompt
		// exactly once.
		m.logger.Warn("context length exceeded, restarting thread")
		m.engine.publish(Event{Type: EventSessionMessage, Text: "context window exhausted, starting a fresh session"})
		m.engine.ClearSession()
		m.mu.Lock()
		m.activeModeHash = ""
		m.pendingResumeID = ""
		m.mu.Unlock()
		item.recovered = true
		item.Isolate = true
		m.queue.PushFront(item)

	default:
		m.logger.Error("turn failed", zap.Error(err))
		m.engine.publish(Event{Type: EventSessionMessage, Text: err.Error(), Err: err})
	}
}

// ensureAgent makes sure a live subprocess and initialized transport exist.
func (m *Manager) ensureAgent(ctx context.Context) error {
	if m.launcher.Running() && m.engine.transport() != nil && m.engine.transport().Connected() {
		return nil
	}

	client, err := m.launcher.Launch(ctx)
	if err != nil {
		return err
	}
	client.SetDisconnectHandler(m.handleDisconnect)
	m.engine.AttachClient(client)
	return m.engine.Initialize(ctx)
}

// handleDisconnect runs once when the transport fails, usually because the
// subprocess died. Session identity is preserved as a resume id so the next
// prompt continues the same logical session on a fresh process.
func (m *Manager) handleDisconnect(err error) {
	sessionID := m.engine.SessionID()
	m.logger.Warn("agent transport lost", zap.Error(err), zap.String("session_id", sessionID))

	if sessionID != "" {
		m.StoreSessionForResume(context.Background())
		m.mu.Lock()
		m.pendingResumeID = sessionID
		m.mu.Unlock()
	}
	m.engine.ClearSession()
	m.mu.Lock()
	m.activeModeHash = ""
	m.mu.Unlock()

	m.engine.publish(Event{Type: EventSessionMessage, Text: "agent process exited", Err: err})
}

// ensureThreadFor establishes the thread the item must run on, restarting
// at mode boundaries.
func (m *Manager) ensureThreadFor(ctx context.Context, item QueueItem) error {
	modeHash := item.Mode.Hash()

	m.mu.Lock()
	activeHash := m.activeModeHash
	resumeID := m.pendingResumeID
	m.mu.Unlock()

	if m.engine.HasActiveSession() {
		if activeHash == modeHash && !item.Isolate {
			return nil
		}
		// Mode boundary or explicit isolation: persist for continuity,
		// then drop the thread.
		m.StoreSessionForResume(ctx)
		resumeID = m.engine.SessionID()
		m.engine.ClearSession()
		m.logger.Info("restarting thread at mode boundary",
			zap.String("resume_id", resumeID),
			zap.Bool("isolate", item.Isolate))
	}

	if item.Isolate {
		resumeID = ""
	}

	err := m.engine.EnsureThread(ctx, EngineConfig{
		WorkDir:           m.cfg.WorkDir,
		ApprovalPolicy:    item.Mode.ApprovalPolicy,
		Model:             item.Mode.Model,
		PreferredResumeID: resumeID,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.activeModeHash = modeHash
	m.pendingResumeID = ""
	m.mu.Unlock()
	return nil
}
