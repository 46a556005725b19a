package framework

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrameworkTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// testLoader pins the user agent tier to an empty temp dir so the
// developer's real ~/.claude-mpm/agents cannot leak into assertions.
func testLoader(t *testing.T, root, workDir string) *Loader {
	t.Helper()
	return &Loader{Root: root, WorkDir: workDir, UserAgentsDir: t.TempDir()}
}

func TestLoadFullTree(t *testing.T) {
	root := t.TempDir()
	writeFrameworkTree(t, root, map[string]string{
		"src/claude_mpm/agents/INSTRUCTIONS.md":         "<!-- FRAMEWORK_VERSION: 1.2.3 -->\n<!-- LAST_MODIFIED: 2026-08-01 -->\n# PM Instructions\n",
		"src/claude_mpm/agents/templates/engineer.md":   "# Engineer\nBuilds things.",
		"src/claude_mpm/agents/templates/qa.md":         "# QA\nTests things.",
		"src/claude_mpm/agents/templates/README.md":     "ignore me",
		"src/claude_mpm/agents/base_agent.md":           "# Base\nShared behavior.",
		"src/claude_mpm/agents/not_loaded_flat_file.md": "flat dir is skipped when templates exist",
	})

	l := testLoader(t, root, t.TempDir())
	fw := l.Load()

	assert.False(t, fw.Minimal)
	assert.Equal(t, "1.2.3", fw.Version)
	assert.Equal(t, "2026-08-01", fw.LastModified)
	assert.Equal(t, []string{"base_agent", "engineer", "qa"}, fw.AgentIDs())

	def, ok := fw.AgentDefinition("engineer")
	require.True(t, ok)
	assert.Contains(t, def, "Builds things")
}

func TestLoadFlatFallback(t *testing.T) {
	root := t.TempDir()
	writeFrameworkTree(t, root, map[string]string{
		"src/claude_mpm/agents/INSTRUCTIONS.md": "# PM\n",
		"src/claude_mpm/agents/engineer.md":     "# Engineer",
		"src/claude_mpm/agents/README.md":       "skip",
	})

	l := testLoader(t, root, t.TempDir())
	fw := l.Load()
	assert.Equal(t, []string{"engineer"}, fw.AgentIDs())
}

func TestLoadMissingTreeUsesMinimal(t *testing.T) {
	l := testLoader(t, t.TempDir(), t.TempDir())
	fw := l.Load()
	assert.True(t, fw.Minimal)
	assert.Contains(t, fw.Instructions, "Project Manager")
}

func TestInstructionsWithWorkDirOverride(t *testing.T) {
	root := t.TempDir()
	writeFrameworkTree(t, root, map[string]string{
		"src/claude_mpm/agents/INSTRUCTIONS.md": "# PM Instructions\n",
	})
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "CLAUDE.md"), []byte("project rules"), 0o644))

	l := testLoader(t, root, workDir)
	out := l.Instructions()
	assert.Contains(t, out, "# PM Instructions")
	assert.Contains(t, out, "## Working Directory Instructions")
	assert.Contains(t, out, "project rules")
}

func TestInstructionsPrefersInstructionsOverride(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "INSTRUCTIONS.md"), []byte("new style"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "CLAUDE.md"), []byte("legacy"), 0o644))

	l := testLoader(t, t.TempDir(), workDir)
	out := l.Instructions()
	assert.Contains(t, out, "new style")
	assert.NotContains(t, out, "legacy")
}

func TestAgentTierPrecedence(t *testing.T) {
	root := t.TempDir()
	writeFrameworkTree(t, root, map[string]string{
		"src/claude_mpm/agents/INSTRUCTIONS.md":       "# PM\n",
		"src/claude_mpm/agents/templates/engineer.md": "# Engineer (system)",
		"src/claude_mpm/agents/templates/qa.md":       "# QA (system)",
	})

	userDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "engineer.md"), []byte("# Engineer (user)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "research.md"), []byte("# Research (user)"), 0o644))

	workDir := t.TempDir()
	projectDir := filepath.Join(workDir, ".claude-mpm", "agents")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "engineer.md"), []byte("# Engineer (project)"), 0o644))

	l := &Loader{Root: root, WorkDir: workDir, UserAgentsDir: userDir}
	fw := l.Load()

	// project > user > system, later tiers winning by file stem.
	def, ok := fw.AgentDefinition("engineer")
	require.True(t, ok)
	assert.Contains(t, def, "(project)")

	def, ok = fw.AgentDefinition("research")
	require.True(t, ok)
	assert.Contains(t, def, "(user)")

	def, ok = fw.AgentDefinition("qa")
	require.True(t, ok)
	assert.Contains(t, def, "(system)")
}

func TestLocalAgentsApplyWithoutFrameworkTree(t *testing.T) {
	userDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "ops.md"), []byte("# Ops (user)"), 0o644))

	l := &Loader{Root: t.TempDir(), WorkDir: t.TempDir(), UserAgentsDir: userDir}
	fw := l.Load()
	assert.True(t, fw.Minimal)
	assert.Equal(t, []string{"ops"}, fw.AgentIDs())
}

func TestInstructionsIncludeAgentDefinitions(t *testing.T) {
	root := t.TempDir()
	writeFrameworkTree(t, root, map[string]string{
		"src/claude_mpm/agents/INSTRUCTIONS.md":       "# PM Instructions\n",
		"src/claude_mpm/agents/templates/engineer.md": "# Engineer\nBuilds things.",
	})

	out := testLoader(t, root, t.TempDir()).Instructions()
	assert.Contains(t, out, "# PM Instructions")
	assert.Contains(t, out, "## Agent Definitions")
	assert.Contains(t, out, "### engineer")
	assert.Contains(t, out, "Builds things.")
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion("1.0.0"))
	assert.Error(t, ValidateVersion(""))
	assert.Error(t, ValidateVersion("not-a-version"))
}

func TestDelegationFrameworkEndsWithFormat(t *testing.T) {
	assert.Contains(t, DelegationFramework, "**<Agent>**: <task description>")
}
