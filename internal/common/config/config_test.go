package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "codex", cfg.Agent.Command)
	assert.Equal(t, []string{"app-server"}, cfg.Agent.Args)
	assert.Equal(t, "untrusted", cfg.Agent.ApprovalPolicy)
	assert.Equal(t, 3600, cfg.Agent.RPCTimeoutSeconds)
	assert.Equal(t, 3, cfg.Agent.ShutdownGraceSeconds)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "agentdeck", cfg.NATS.ClientID)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	fixture, err := yaml.Marshal(map[string]any{
		"agent": map[string]any{
			"command":              "/usr/local/bin/codex",
			"args":                 []string{"app-server", "--verbose"},
			"workDir":              "/repos/demo",
			"approvalPolicy":       "on-request",
			"shutdownGraceSeconds": 10,
		},
		"nats":    map[string]any{"url": "nats://localhost:4222"},
		"store":   map[string]any{"path": "/var/lib/agentdeck/sessions.db"},
		"logging": map[string]any{"level": "debug", "format": "json"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentdeck.yaml"), fixture, 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/codex", cfg.Agent.Command)
	assert.Equal(t, []string{"app-server", "--verbose"}, cfg.Agent.Args)
	assert.Equal(t, "/repos/demo", cfg.Agent.WorkDir)
	assert.Equal(t, "on-request", cfg.Agent.ApprovalPolicy)
	assert.Equal(t, 10, cfg.Agent.ShutdownGraceSeconds)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "/var/lib/agentdeck/sessions.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTDECK_AGENT_COMMAND", "/opt/agent")
	t.Setenv("AGENTDECK_AGENT_APPROVAL_POLICY", "never")
	t.Setenv("AGENTDECK_LOGGING_LEVEL", "warn")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "/opt/agent", cfg.Agent.Command)
	assert.Equal(t, "never", cfg.Agent.ApprovalPolicy)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	raw := `
agent:
  approvalPolicy: sometimes
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentdeck.yaml"), []byte(raw), 0o644))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approvalPolicy")
}

func TestValidateRequiresCommand(t *testing.T) {
	dir := t.TempDir()
	raw := `
agent:
  command: "  "
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentdeck.yaml"), []byte(raw), 0o644))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.command")
}
