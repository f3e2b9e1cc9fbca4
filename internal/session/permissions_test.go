package session

import (
	"context"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/stretchr/testify/assert"
)

func TestDecisionWireVocabularies(t *testing.T) {
	assert.Equal(t, "accept", DecisionApproved.WireNew())
	assert.Equal(t, "acceptForSession", DecisionApprovedForSession.WireNew())
	assert.Equal(t, "decline", DecisionDenied.WireNew())
	assert.Equal(t, "cancel", DecisionAbort.WireNew())

	assert.Equal(t, "approved", DecisionApproved.WireLegacy())
	assert.Equal(t, "approved_for_session", DecisionApprovedForSession.WireLegacy())
	assert.Equal(t, "denied", DecisionDenied.WireLegacy())
	assert.Equal(t, "abort", DecisionAbort.WireLegacy())

	// Unknown decisions resolve to the safe denial in both dialects.
	assert.Equal(t, "decline", Decision("bogus").WireNew())
	assert.Equal(t, "denied", Decision("bogus").WireLegacy())
}

func TestBridgeDeniesWithoutProvider(t *testing.T) {
	b := NewPermissionBridge(nil, logger.Default())
	got := b.Handle(context.Background(), "call-1", "execCommand", nil)
	assert.Equal(t, DecisionDenied, got)
}

func TestBridgeDelegatesToProvider(t *testing.T) {
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		assert.Equal(t, "call-1", req.ToolCallID)
		assert.Equal(t, "execCommand", req.ToolName)
		return DecisionApproved, nil
	})
	b := NewPermissionBridge(provider, logger.Default())
	assert.Equal(t, DecisionApproved, b.Handle(context.Background(), "call-1", "execCommand", nil))
}

func TestBridgeSessionGrantShortCircuits(t *testing.T) {
	calls := 0
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		calls++
		return DecisionApprovedForSession, nil
	})
	b := NewPermissionBridge(provider, logger.Default())

	assert.Equal(t, DecisionApprovedForSession, b.Handle(context.Background(), "c1", "execCommand", nil))
	assert.Equal(t, DecisionApproved, b.Handle(context.Background(), "c2", "execCommand", nil))
	assert.Equal(t, 1, calls, "second request must not reach the provider")

	// Other tools are not covered by the grant.
	assert.Equal(t, DecisionApprovedForSession, b.Handle(context.Background(), "c3", "applyPatch", nil))
	assert.Equal(t, 2, calls)
}

func TestBridgeResetAbortsPendingDecision(t *testing.T) {
	block := make(chan struct{})
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		<-block
		return DecisionApproved, nil
	})
	b := NewPermissionBridge(provider, logger.Default())

	got := make(chan Decision, 1)
	go func() {
		got <- b.Handle(context.Background(), "call-1", "execCommand", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Reset()

	select {
	case d := <-got:
		assert.Equal(t, DecisionAbort, d)
	case <-time.After(time.Second):
		t.Fatal("pending decision was not aborted")
	}
	close(block)
}

func TestBridgeContextCancellationAborts(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		<-block
		return DecisionApproved, nil
	})
	b := NewPermissionBridge(provider, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, DecisionAbort, b.Handle(ctx, "call-1", "execCommand", nil))
}

func TestBridgeClearSessionDropsGrants(t *testing.T) {
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		return DecisionApprovedForSession, nil
	})
	b := NewPermissionBridge(provider, logger.Default())

	b.Handle(context.Background(), "c1", "execCommand", nil)
	b.ClearSession()

	// The grant is gone, so the provider is consulted again.
	assert.Equal(t, DecisionApprovedForSession, b.Handle(context.Background(), "c2", "execCommand", nil))
}

func TestBridgeProviderErrorDenies(t *testing.T) {
	provider := DecisionProviderFunc(func(ctx context.Context, req *PermissionRequest) (Decision, error) {
		return DecisionApproved, context.DeadlineExceeded
	})
	b := NewPermissionBridge(provider, logger.Default())
	assert.Equal(t, DecisionDenied, b.Handle(context.Background(), "c1", "execCommand", nil))
}
