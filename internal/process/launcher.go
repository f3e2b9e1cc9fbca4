// Package process manages the agent subprocess: spawning it with stdio
// pipes, watching its exit, bounding its stderr in memory, and tearing it
// down with escalation. The agent is a long-lived child; one launcher owns
// at most one live process at a time.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/codex"
	"go.uber.org/zap"
)

// LauncherConfig describes how to spawn the agent binary.
type LauncherConfig struct {
	Command string
	Args    []string
	WorkDir string
	Env     map[string]string

	// ShutdownGrace is how long Stop waits after SIGTERM before SIGKILL.
	ShutdownGrace time.Duration

	// StderrLines bounds the in-memory stderr tail.
	StderrLines int
}

// Launcher spawns and supervises the agent subprocess and exposes a
// transport over its stdio.
type Launcher struct {
	cfg    LauncherConfig
	logger *logger.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	client *codex.Client
	stderr *stderrRing
	exited chan struct{}
}

// NewLauncher creates a launcher; nothing is spawned until Launch.
func NewLauncher(cfg LauncherConfig, log *logger.Logger) *Launcher {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 3 * time.Second
	}
	return &Launcher{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "agent-launcher")),
		stderr: newStderrRing(cfg.StderrLines),
	}
}

// Running reports whether a live subprocess exists.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Launch spawns the agent and returns a started transport over its stdio.
// A previous process still running is stopped first.
func (l *Launcher) Launch(ctx context.Context) (*codex.Client, error) {
	if l.Running() {
		if err := l.Stop(ctx); err != nil {
			l.logger.Warn("failed to stop previous agent process", zap.Error(err))
		}
	}

	cmd := exec.Command(l.cfg.Command, l.cfg.Args...)
	cmd.Dir = l.cfg.WorkDir
	cmd.Env = os.Environ()
	for k, v := range l.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", l.cfg.Command, err)
	}
	l.logger.Info("agent process started",
		zap.String("command", l.cfg.Command),
		zap.Strings("args", l.cfg.Args),
		zap.Int("pid", cmd.Process.Pid))

	client := codex.NewClient(stdin, stdout, l.logger)
	exited := make(chan struct{})

	l.mu.Lock()
	l.cmd = cmd
	l.client = client
	l.exited = exited
	l.stderr.reset()
	l.mu.Unlock()

	go l.drainStderr(stderr)
	go l.waitExit(cmd, client, exited)

	client.Start(context.Background())
	return client, nil
}

// drainStderr keeps the stderr tail current. The pipe must be drained even
// when nobody reads the tail, otherwise the child blocks on write.
func (l *Launcher) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		l.stderr.append(line)
		l.logger.Debug("agent stderr", zap.String("line", line))
	}
}

// waitExit reaps the child and fails the transport with the best available
// diagnosis.
func (l *Launcher) waitExit(cmd *exec.Cmd, client *codex.Client, exited chan struct{}) {
	waitErr := cmd.Wait()
	close(exited)

	err := fmt.Errorf("agent process exited")
	if waitErr != nil {
		err = fmt.Errorf("agent process exited: %w", waitErr)
	}
	if parsed := ParseStderrTail(l.stderr.snapshot()); parsed != nil {
		err = fmt.Errorf("agent process exited: %s", parsed.Message)
	}

	l.logger.Warn("agent process exited", zap.Error(waitErr))
	client.Fail(err)
}

// StderrTail returns the buffered stderr lines, oldest first.
func (l *Launcher) StderrTail() []string {
	return l.stderr.snapshot()
}

// LastError parses the stderr tail for the most recent structured error.
func (l *Launcher) LastError() *ParsedError {
	return ParseStderrTail(l.stderr.snapshot())
}

// Stop terminates the subprocess: SIGTERM to the process group, then
// SIGKILL after the grace period or when ctx expires.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	cmd := l.cmd
	client := l.client
	exited := l.exited
	l.cmd = nil
	l.client = nil
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if client != nil {
		client.Stop()
	}

	select {
	case <-exited:
		return nil
	default:
	}

	signalGroup(cmd, syscall.SIGTERM)

	grace := time.NewTimer(l.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	l.logger.Warn("agent did not exit after SIGTERM, killing", zap.Int("pid", cmd.Process.Pid))
	signalGroup(cmd, syscall.SIGKILL)

	select {
	case <-exited:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("agent process did not exit after SIGKILL")
	}
}
