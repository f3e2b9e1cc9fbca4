package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAgent emulates the agent process end of the stdio protocol. It
// answers initialize, thread/start, thread/resume, and turn/start, and
// completes every turn immediately.
type scriptedAgent struct {
	mu      sync.Mutex
	methods []string
	resumes []string
	turnSeq int

	out *io.PipeWriter
}

func (a *scriptedAgent) record(method string) {
	a.mu.Lock()
	a.methods = append(a.methods, method)
	a.mu.Unlock()
}

func (a *scriptedAgent) calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, m := range a.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (a *scriptedAgent) send(v any) {
	data, _ := json.Marshal(v)
	a.mu.Lock()
	_, _ = a.out.Write(append(data, '\n'))
	a.mu.Unlock()
}

func (a *scriptedAgent) serve(in *io.PipeReader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if json.Unmarshal(scanner.Bytes(), &req) != nil {
			continue
		}
		a.record(req.Method)

		switch req.Method {
		case codex.MethodInitialize:
			a.send(map[string]any{"id": req.ID, "result": map[string]any{"userAgent": "fake"}})
		case codex.MethodThreadStart:
			a.send(map[string]any{"id": req.ID, "result": map[string]any{
				"thread": map[string]any{"id": "thread-fresh"},
			}})
		case codex.MethodThreadResume:
			var p codex.ThreadResumeParams
			_ = json.Unmarshal(req.Params, &p)
			a.mu.Lock()
			a.resumes = append(a.resumes, p.ThreadID)
			a.mu.Unlock()
			a.send(map[string]any{"id": req.ID, "result": map[string]any{
				"thread": map[string]any{"id": p.ThreadID},
			}})
		case codex.MethodTurnStart:
			a.mu.Lock()
			a.turnSeq++
			turnID := fmt.Sprintf("turn-%d", a.turnSeq)
			a.mu.Unlock()
			a.send(map[string]any{"id": req.ID, "result": map[string]any{
				"turn": map[string]any{"id": turnID, "status": codex.TurnStatusInProgress},
			}})
			var p codex.TurnStartParams
			_ = json.Unmarshal(req.Params, &p)
			a.send(map[string]any{"method": codex.NotifyTurnCompleted, "params": map[string]any{
				"threadId": p.ThreadID,
				"turn":     map[string]any{"id": turnID, "status": codex.TurnStatusCompleted},
			}})
		}
	}
}

// fakeLauncher hands out clients wired to a fresh scriptedAgent per launch.
type fakeLauncher struct {
	mu       sync.Mutex
	agent    *scriptedAgent
	launches int
	running  bool
}

func (l *fakeLauncher) Launch(ctx context.Context) (*codex.Client, error) {
	agentIn, clientOut := io.Pipe()
	clientIn, agentOut := io.Pipe()

	agent := &scriptedAgent{out: agentOut}
	go agent.serve(agentIn)

	l.mu.Lock()
	l.agent = agent
	l.launches++
	l.running = true
	l.mu.Unlock()

	client := codex.NewClient(clientOut, clientIn, logger.Default())
	client.Start(context.Background())
	return client, nil
}

func (l *fakeLauncher) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}

func (l *fakeLauncher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// memoryStore is an in-memory SessionStore.
type memoryStore struct {
	mu     sync.Mutex
	resume map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{resume: make(map[string]string)}
}

func (s *memoryStore) SaveResume(ctx context.Context, workDir, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume[workDir] = sessionID
	return nil
}

func (s *memoryStore) LoadResume(ctx context.Context, workDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume[workDir], nil
}

func newTestManager(t *testing.T) (*Manager, *fakeLauncher, *collectSink, *memoryStore) {
	t.Helper()
	log := logger.Default()
	sink := &collectSink{}
	launcher := &fakeLauncher{}
	store := newMemoryStore()
	engine := NewEngine(nil, NewPermissionBridge(nil, log), sink, log)
	mgr := NewManager(ManagerConfig{
		WorkDir:     "/workspace",
		DefaultMode: Mode{Model: "gpt-5", ApprovalPolicy: "untrusted"},
	}, launcher, store, engine, log)
	return mgr, launcher, sink, store
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestManagerRunsQueuedTurn(t *testing.T) {
	mgr, launcher, sink, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.ContinueSession("hello", Mode{})

	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 1
	}, "turn never completed")

	assert.Equal(t, "thread-fresh", mgr.GetSessionID())
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	assert.Equal(t, 1, launcher.launches)
}

func TestManagerSerializesPrompts(t *testing.T) {
	mgr, launcher, sink, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mode := Mode{}
	mgr.ContinueSession("one", mode)
	mgr.ContinueSession("two", mode)
	mgr.ContinueSession("three", mode)

	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 3
	}, "not all turns completed")

	launcher.mu.Lock()
	agent := launcher.agent
	launcher.mu.Unlock()
	assert.Equal(t, 3, agent.calls(codex.MethodTurnStart))
	// One shared thread for all three.
	assert.Equal(t, 1, agent.calls(codex.MethodThreadStart))
}

func TestManagerRestartsThreadOnModeChange(t *testing.T) {
	mgr, launcher, sink, store := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.ContinueSession("first", Mode{Effort: EffortLow})
	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 1
	}, "first turn never completed")

	mgr.ContinueSession("second", Mode{Effort: EffortHigh})
	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 2
	}, "second turn never completed")

	launcher.mu.Lock()
	agent := launcher.agent
	launcher.mu.Unlock()

	// The mode boundary resumes the previous thread rather than losing it.
	agent.mu.Lock()
	resumes := append([]string(nil), agent.resumes...)
	agent.mu.Unlock()
	require.Len(t, resumes, 1)
	assert.Equal(t, "thread-fresh", resumes[0])

	// The session id was persisted before the restart.
	saved, _ := store.LoadResume(ctx, "/workspace")
	assert.Equal(t, "thread-fresh", saved)
}

func TestManagerStartSessionIsolates(t *testing.T) {
	mgr, launcher, sink, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.ContinueSession("first", Mode{})
	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 1
	}, "first turn never completed")

	mgr.StartSession("fresh start", Mode{})
	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 2
	}, "second turn never completed")

	launcher.mu.Lock()
	agent := launcher.agent
	launcher.mu.Unlock()
	// A fresh session means thread/start again, never thread/resume.
	assert.Equal(t, 2, agent.calls(codex.MethodThreadStart))
	assert.Equal(t, 0, agent.calls(codex.MethodThreadResume))
}

func TestManagerAnnouncesReadyWhenIdle(t *testing.T) {
	mgr, _, sink, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	waitFor(t, func() bool {
		return len(sink.byType(EventReady)) >= 1
	}, "ready never announced")

	mgr.ContinueSession("work", Mode{})
	waitFor(t, func() bool {
		return len(sink.byType(EventTurnComplete)) >= 1 && len(sink.byType(EventReady)) >= 2
	}, "ready not re-announced after the turn")
}
