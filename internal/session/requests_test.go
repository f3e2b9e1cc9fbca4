package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProvider captures the requests handed to the decision provider.
type recordingProvider struct {
	mu       sync.Mutex
	requests []*PermissionRequest
	decision Decision
}

func (p *recordingProvider) Decide(ctx context.Context, req *PermissionRequest) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.decision, nil
}

func (p *recordingProvider) last() *PermissionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func newEngineWithProvider(t *testing.T, decision Decision) (*Engine, *recordingProvider) {
	t.Helper()
	log := logger.Default()
	provider := &recordingProvider{decision: decision}
	bridge := NewPermissionBridge(provider, log)
	return NewEngine(nil, bridge, &collectSink{}, log), provider
}

func TestLegacyExecApprovalPairsWithRecordedEvent(t *testing.T) {
	e, provider := newEngineWithProvider(t, DecisionApproved)

	// Structured approval event arrives first, carrying the machine id.
	legacy, _ := json.Marshal(codex.LegacyEventParams{
		Msg: codex.LegacyEventMsg{
			Type:    codex.LegacyExecApprovalRequest,
			CallID:  "call-77",
			Command: []string{"rm", "-rf", "build"},
			Cwd:     "/repo",
		},
	})
	e.handleNotification(codex.LegacyEventPrefix+codex.LegacyExecApprovalRequest, legacy)

	// The free-text approval request follows without a call id.
	params, _ := json.Marshal(codex.LegacyExecApprovalParams{
		Reason: "Allow running in `/repo`?",
	})
	e.handleLegacyExecApproval(nil, params)

	req := provider.last()
	require.NotNil(t, req)
	assert.Equal(t, "call-77", req.ToolCallID)
	assert.Equal(t, "execCommand", req.ToolName)
	assert.Equal(t, []string{"rm", "-rf", "build"}, req.Input["command"])
	assert.Equal(t, "/repo", req.Input["cwd"])
}

func TestLegacyExecApprovalWithExplicitCallID(t *testing.T) {
	e, provider := newEngineWithProvider(t, DecisionDenied)

	params, _ := json.Marshal(codex.LegacyExecApprovalParams{
		CallID:  "call-1",
		Command: []string{"ls"},
		Cwd:     "/w",
	})
	e.handleLegacyExecApproval(nil, params)

	req := provider.last()
	require.NotNil(t, req)
	assert.Equal(t, "call-1", req.ToolCallID)
}

func TestCommandApprovalSynthesizesAndRemembersID(t *testing.T) {
	e, provider := newEngineWithProvider(t, DecisionApproved)

	params, _ := json.Marshal(codex.CommandApprovalParams{
		Command: "go test ./...",
		Cwd:     "/repo",
	})
	e.handleCommandApproval(nil, params)

	req := provider.last()
	require.NotNil(t, req)
	require.NotEmpty(t, req.ToolCallID)

	// A later exec begin event carrying only the inputs resolves to the
	// same synthesized id.
	canonical := e.canonicalize("exec-1", &CommandInputs{
		Command: []string{"go test ./..."},
		Cwd:     "/repo",
	})
	assert.Equal(t, req.ToolCallID, canonical)
}

func TestFileChangeApprovalDelegates(t *testing.T) {
	e, provider := newEngineWithProvider(t, DecisionApprovedForSession)

	params, _ := json.Marshal(codex.FileChangeApprovalParams{
		ItemID: "item-5",
		Path:   "main.go",
		Diff:   "+fixed",
	})
	e.handleFileChangeApproval(nil, params)

	req := provider.last()
	require.NotNil(t, req)
	assert.Equal(t, "item-5", req.ToolCallID)
	assert.Equal(t, "applyPatch", req.ToolName)
	assert.Equal(t, "main.go", req.Input["path"])
}
