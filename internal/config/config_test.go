package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "opus", cfg.Claude.Model)
	assert.True(t, cfg.Claude.SkipPermissions)
	assert.Equal(t, 30*time.Second, cfg.Claude.GetPMTimeout())
	assert.Equal(t, 60*time.Second, cfg.Claude.GetAgentTimeout())
	assert.True(t, cfg.Orchestrator.UseSystemPrompt)
	assert.False(t, cfg.Orchestrator.Subprocess)
	assert.Equal(t, 3, cfg.Orchestrator.GetWorkers())
	assert.Equal(t, "http://localhost:5001", cfg.Hooks.URL)
	assert.Equal(t, 5, cfg.EventStream.GetMaxConnections())
	assert.Equal(t, 10000, cfg.EventStream.GetQueueCapacity())
	assert.Equal(t, "dev-token", cfg.EventStream.AuthToken)
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `claude:
  model: sonnet
  pm_timeout: 10s
orchestrator:
  subprocess: true
  workers: 5
hooks:
  enabled: true
  url: http://localhost:9999
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sonnet", cfg.Claude.Model)
	assert.Equal(t, 10*time.Second, cfg.Claude.GetPMTimeout())
	assert.True(t, cfg.Orchestrator.Subprocess)
	assert.Equal(t, 5, cfg.Orchestrator.GetWorkers())
	assert.Equal(t, "http://localhost:9999", cfg.Hooks.URL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Claude.Model)
}

func TestLegacyEnvOverrides(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("CLAUDE_MPM_SOCKETIO_PORT", "9001")
	t.Setenv("CLAUDE_MPM_HOOKS_URL", "http://localhost:5050")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.EventStream.Port)
	assert.Equal(t, "http://localhost:5050", cfg.Hooks.URL)
	assert.True(t, cfg.Hooks.Enabled)
}

func TestWorkersBounds(t *testing.T) {
	c := OrchestratorConfig{}
	assert.Equal(t, 3, c.GetWorkers())
	c.Workers = 20
	assert.Equal(t, 8, c.GetWorkers())
	c.Workers = 4
	assert.Equal(t, 4, c.GetWorkers())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/foo/bar")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "foo", "bar"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)

	got, err = ExpandPath("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
