package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentdeck/agentdeck/internal/tracing"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// StartTurn starts one turn on the active thread and returns the turn
// object acknowledged by the agent, whose status may already be terminal
// for trivial turns. At most one turn may be in flight per thread; the
// orchestration loop never starts a second one before the first settles.
func (e *Engine) StartTurn(ctx context.Context, prompt string, overrides TurnOverrides) (*codex.Turn, error) {
	client := e.transport()
	if client == nil {
		return nil, &codex.ConnectionError{}
	}

	e.mu.Lock()
	if e.identity.SessionID == "" {
		e.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if e.turnInFlight {
		e.mu.Unlock()
		return nil, fmt.Errorf("turn already in progress")
	}
	e.turnInFlight = true
	threadID := e.identity.SessionID
	e.mu.Unlock()

	params := &codex.TurnStartParams{
		ThreadID: threadID,
		Input:    []codex.UserInput{{Type: "text", Text: prompt}},
	}
	// Sparse merge: only explicitly set overrides go on the wire.
	if overrides.Model != "" {
		params.Model = overrides.Model
	}
	if wire, ok := overrides.WireEffort(); ok {
		params.Effort = wire
	}
	if overrides.Summary != "" {
		params.Summary = overrides.Summary
	}

	resp, err := client.Call(ctx, codex.MethodTurnStart, params)
	if err != nil {
		e.endTurn()
		return nil, fmt.Errorf("failed to start turn: %w", err)
	}
	if resp.Error != nil {
		e.endTurn()
		return nil, &TurnFailedError{Message: resp.Error.Message}
	}

	var result codex.TurnStartResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		e.logger.Warn("failed to parse turn start result", zap.Error(err), zap.String("raw", string(resp.Result)))
	}
	turn := result.Turn
	if turn == nil {
		turn = &codex.Turn{Status: codex.TurnStatusInProgress}
	}

	e.mu.Lock()
	e.currentTurnID = turn.ID
	e.mu.Unlock()

	e.logger.Info("turn started",
		zap.String("thread_id", threadID),
		zap.String("turn_id", turn.ID),
		zap.String("status", turn.Status))
	return turn, nil
}

func (e *Engine) endTurn() {
	e.mu.Lock()
	e.turnInFlight = false
	e.mu.Unlock()
}

// WaitForTurnCompletion blocks until the turn settles or ctx is cancelled.
// A completion notification that raced ahead of this call is consumed from
// the buffer. On cancellation a turn/interrupt is sent fire-and-forget and
// ErrTurnInterrupted is returned; exactly one of notification-resolve or
// cancel-reject occurs.
func (e *Engine) WaitForTurnCompletion(ctx context.Context, turn *codex.Turn) error {
	defer e.endTurn()

	if turn.Status != codex.TurnStatusInProgress {
		return turnStatusError(turn)
	}

	e.mu.Lock()
	if done, ok := e.completedTurns[turn.ID]; ok {
		delete(e.completedTurns, turn.ID)
		e.mu.Unlock()
		return turnStatusError(done)
	}
	ch := make(chan *codex.Turn, 1)
	e.turnWaiters[turn.ID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.turnWaiters, turn.ID)
		e.mu.Unlock()
	}()

	select {
	case done := <-ch:
		return turnStatusError(done)
	case <-ctx.Done():
		e.fireInterrupt(turn.ID)
		return ErrTurnInterrupted
	}
}

// fireInterrupt sends turn/interrupt without waiting on the result. The
// agent's cooperation in actually stopping is not guaranteed; the engine
// only guarantees its own wait settles.
func (e *Engine) fireInterrupt(turnID string) {
	client := e.transport()
	if client == nil {
		return
	}
	threadID := e.SessionID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := client.Call(ctx, codex.MethodTurnInterrupt, &codex.TurnInterruptParams{
			ThreadID: threadID,
			TurnID:   turnID,
		}, codex.WithTimeout(10*time.Second)); err != nil {
			e.logger.Debug("turn interrupt call failed", zap.Error(err))
		}
	}()
}

// RunTurn starts a turn and waits for it to settle, under one trace span.
func (e *Engine) RunTurn(ctx context.Context, prompt string, overrides TurnOverrides) error {
	ctx, span := tracing.TraceTurn(ctx, e.SessionID())
	turn, err := e.StartTurn(ctx, prompt, overrides)
	if err != nil {
		tracing.RecordResult(span, err)
		return err
	}
	err = e.WaitForTurnCompletion(ctx, turn)
	tracing.RecordResult(span, err)
	return err
}

// turnStatusError maps a settled turn onto the engine error vocabulary.
func turnStatusError(turn *codex.Turn) error {
	switch turn.Status {
	case codex.TurnStatusCompleted:
		return nil
	case codex.TurnStatusInterrupted:
		return ErrTurnInterrupted
	case codex.TurnStatusFailed:
		msg := ""
		if turn.Error != nil {
			msg = turn.Error.Message
		}
		return &TurnFailedError{TurnID: turn.ID, Message: msg}
	default:
		return nil
	}
}

// resolveTurn settles the waiter for a completed turn, or buffers the
// completion when the notification arrived before anyone started waiting.
func (e *Engine) resolveTurn(turn *codex.Turn) {
	if turn == nil || turn.ID == "" {
		e.mu.Lock()
		if turn != nil && e.currentTurnID != "" {
			turn.ID = e.currentTurnID
		}
		e.mu.Unlock()
		if turn == nil || turn.ID == "" {
			e.logger.Warn("dropping turn completion without id")
			return
		}
	}

	e.mu.Lock()
	ch, ok := e.turnWaiters[turn.ID]
	if ok {
		delete(e.turnWaiters, turn.ID)
	} else {
		e.completedTurns[turn.ID] = turn
	}
	e.mu.Unlock()

	if ok {
		ch <- turn
	}
	e.publish(Event{Type: EventTurnComplete, TurnID: turn.ID, Text: turn.Status})
}
