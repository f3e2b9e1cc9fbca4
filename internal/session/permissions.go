package session

import (
	"context"
	"sync"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"go.uber.org/zap"
)

// Decision is the canonical approval vocabulary. The wire dialects each use
// their own spelling; see WireNew and WireLegacy.
type Decision string

const (
	DecisionApproved           Decision = "approved"
	DecisionApprovedForSession Decision = "approved_for_session"
	DecisionDenied             Decision = "denied"
	DecisionAbort              Decision = "abort"
)

// WireNew maps the decision onto the new-dialect vocabulary.
func (d Decision) WireNew() string {
	switch d {
	case DecisionApproved:
		return "accept"
	case DecisionApprovedForSession:
		return "acceptForSession"
	case DecisionAbort:
		return "cancel"
	default:
		return "decline"
	}
}

// WireLegacy maps the decision onto the legacy-dialect vocabulary, which
// happens to match the canonical one.
func (d Decision) WireLegacy() string {
	switch d {
	case DecisionApproved, DecisionApprovedForSession, DecisionDenied, DecisionAbort:
		return string(d)
	default:
		return string(DecisionDenied)
	}
}

// PermissionRequest is the canonical triple every approval request shape is
// mapped onto before delegating to the decision provider.
type PermissionRequest struct {
	ToolCallID string
	ToolName   string
	Input      map[string]any
}

// DecisionProvider makes the actual approval decision. Implementations live
// outside this engine (UI, policy service).
type DecisionProvider interface {
	Decide(ctx context.Context, req *PermissionRequest) (Decision, error)
}

// DecisionProviderFunc adapts a function to DecisionProvider.
type DecisionProviderFunc func(ctx context.Context, req *PermissionRequest) (Decision, error)

// Decide implements DecisionProvider.
func (f DecisionProviderFunc) Decide(ctx context.Context, req *PermissionRequest) (Decision, error) {
	return f(ctx, req)
}

// PermissionBridge maps agent approval requests (both dialects) to the
// decision provider and remembers session-wide grants per tool. When no
// provider is configured the safe default is deny. Safe for concurrent use;
// approval requests arrive on their own goroutines.
type PermissionBridge struct {
	provider DecisionProvider
	logger   *logger.Logger

	mu              sync.Mutex
	sessionApproved map[string]bool
	cancel          chan struct{}
}

// NewPermissionBridge creates a bridge over the given provider (may be nil).
func NewPermissionBridge(provider DecisionProvider, log *logger.Logger) *PermissionBridge {
	return &PermissionBridge{
		provider:        provider,
		logger:          log.WithFields(zap.String("component", "permission-bridge")),
		sessionApproved: make(map[string]bool),
		cancel:          make(chan struct{}),
	}
}

// Handle resolves one approval request to a decision. A prior
// approved-for-session grant for the same tool short-circuits the provider.
func (b *PermissionBridge) Handle(ctx context.Context, toolCallID, toolName string, input map[string]any) Decision {
	b.mu.Lock()
	granted := b.sessionApproved[toolName]
	cancel := b.cancel
	b.mu.Unlock()
	if granted {
		return DecisionApproved
	}
	if b.provider == nil {
		b.logger.Warn("no decision provider configured, denying",
			zap.String("tool_call_id", toolCallID),
			zap.String("tool", toolName))
		return DecisionDenied
	}

	type outcome struct {
		decision Decision
		err      error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		d, err := b.provider.Decide(ctx, &PermissionRequest{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Input:      input,
		})
		resultCh <- outcome{d, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			b.logger.Error("decision provider error, denying", zap.Error(res.err))
			return DecisionDenied
		}
		if res.decision == DecisionApprovedForSession {
			b.mu.Lock()
			b.sessionApproved[toolName] = true
			b.mu.Unlock()
		}
		return res.decision
	case <-cancel:
		// Turn was reset while the decision was pending.
		return DecisionAbort
	case <-ctx.Done():
		return DecisionAbort
	}
}

// Reset abandons any in-flight decision. Called between turns as defensive
// cleanup; session-wide grants survive.
func (b *PermissionBridge) Reset() {
	b.mu.Lock()
	close(b.cancel)
	b.cancel = make(chan struct{})
	b.mu.Unlock()
}

// ClearSession drops session-wide grants along with in-flight decisions.
func (b *PermissionBridge) ClearSession() {
	b.mu.Lock()
	close(b.cancel)
	b.cancel = make(chan struct{})
	b.sessionApproved = make(map[string]bool)
	b.mu.Unlock()
}
