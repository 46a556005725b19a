// Package framework loads the PM framework prompt: instructions plus
// agent definitions, resolved from a content tree with tiered precedence.
package framework

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"mpm/pkg/logger"
)

// markerDir identifies a framework root during upward discovery.
const markerDir = "src/claude_mpm/agents"

// Framework is the loaded framework content plus metadata.
type Framework struct {
	Instructions string
	Version      string
	LastModified string
	// Agents maps agent ID (file stem) to its raw definition.
	Agents map[string]string
	// Minimal is true when the built-in fallback was used.
	Minimal bool
}

// AgentIDs returns the loaded agent IDs, sorted.
func (f *Framework) AgentIDs() []string {
	ids := make([]string, 0, len(f.Agents))
	for id := range f.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AgentDefinition returns the raw definition for an agent ID.
func (f *Framework) AgentDefinition(id string) (string, bool) {
	def, ok := f.Agents[id]
	return def, ok
}

// Loader resolves and loads framework content. Agent definitions are
// overlaid across three tiers, later tiers winning by file stem:
// the framework tree, then UserAgentsDir, then ProjectAgentsDir.
type Loader struct {
	// Root overrides discovery when set.
	Root string
	// WorkDir is where override files (INSTRUCTIONS.md, CLAUDE.md) are
	// looked up. Defaults to the current directory.
	WorkDir string
	// UserAgentsDir is the user agent tier. Empty means
	// ~/.claude-mpm/agents.
	UserAgentsDir string
	// ProjectAgentsDir is the project agent tier. Empty means
	// <WorkDir>/.claude-mpm/agents.
	ProjectAgentsDir string
}

// NewLoader creates a loader with default discovery.
func NewLoader() *Loader {
	return &Loader{}
}

var (
	versionMarker  = regexp.MustCompile(`<!--\s*FRAMEWORK_VERSION:?\s*([^\s>]+)\s*-->`)
	modifiedMarker = regexp.MustCompile(`<!--\s*LAST_MODIFIED:?\s*([^>]+?)\s*-->`)
)

// DiscoverRoot walks up from the executable's directory until a directory
// containing the marker path exists.
func DiscoverRoot() (string, bool) {
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	dir := filepath.Dir(exe)
	for {
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(markerDir))); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load resolves the framework tree and returns its content. A missing
// tree yields the built-in minimal framework rather than an error.
func (l *Loader) Load() *Framework {
	log := logger.ForComponent("framework")

	root := l.Root
	if root == "" {
		var ok bool
		root, ok = DiscoverRoot()
		if !ok {
			log.Debug().Msg("no framework root found, using built-in minimal framework")
			return l.minimal()
		}
	}

	agentsDir := filepath.Join(root, filepath.FromSlash(markerDir))
	fw := &Framework{Agents: make(map[string]string)}

	instructions, err := os.ReadFile(filepath.Join(agentsDir, "INSTRUCTIONS.md"))
	if err != nil {
		log.Debug().Str("root", root).Msg("framework root has no INSTRUCTIONS.md, using built-in minimal framework")
		return l.minimal()
	}
	fw.Instructions = string(instructions)
	fw.Version, fw.LastModified = parseMarkers(fw.Instructions)

	// templates/ takes precedence over the flat agents dir.
	agentDir := filepath.Join(agentsDir, "templates")
	usedTemplates := true
	if entries, err := os.ReadDir(agentDir); err != nil || len(mdEntries(entries)) == 0 {
		agentDir = agentsDir
		usedTemplates = false
	}
	l.loadAgentDir(fw, agentDir)

	if usedTemplates {
		if _, ok := fw.Agents["base_agent"]; !ok {
			if def, err := os.ReadFile(filepath.Join(agentsDir, "base_agent.md")); err == nil {
				fw.Agents["base_agent"] = string(def)
			}
		}
	}
	l.overlayLocalAgents(fw)

	log.Info().
		Str("version", fw.Version).
		Int("agents", len(fw.Agents)).
		Msg("framework loaded")
	return fw
}

func mdEntries(entries []os.DirEntry) []os.DirEntry {
	var out []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			out = append(out, e)
		}
	}
	return out
}

// overlayLocalAgents applies the user and project agent tiers over the
// loaded set. Project beats user beats the framework tree.
func (l *Loader) overlayLocalAgents(fw *Framework) {
	for _, dir := range []string{l.userAgentsDir(), l.projectAgentsDir()} {
		if dir != "" {
			l.loadAgentDir(fw, dir)
		}
	}
}

func (l *Loader) userAgentsDir() string {
	if l.UserAgentsDir != "" {
		return l.UserAgentsDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude-mpm", "agents")
}

func (l *Loader) projectAgentsDir() string {
	if l.ProjectAgentsDir != "" {
		return l.ProjectAgentsDir
	}
	dir := l.WorkDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ".claude-mpm", "agents")
}

func (l *Loader) loadAgentDir(fw *Framework, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range mdEntries(entries) {
		stem := strings.TrimSuffix(e.Name(), ".md")
		if strings.EqualFold(stem, "README") || e.Name() == "INSTRUCTIONS.md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		fw.Agents[stem] = string(data)
	}
}

// parseMarkers pulls version and last-modified comment markers out of
// instruction text. An unparseable version is kept verbatim but logged.
func parseMarkers(text string) (version, modified string) {
	if m := versionMarker.FindStringSubmatch(text); m != nil {
		version = m[1]
		if _, err := semver.NewVersion(version); err != nil {
			logger.Get().Warn().Str("version", version).Msg("framework version is not valid semver")
		}
	}
	if m := modifiedMarker.FindStringSubmatch(text); m != nil {
		modified = m[1]
	}
	return version, modified
}

// Instructions returns the full injectable prompt: framework content,
// the loaded agent definitions, then any working-directory override
// section.
func (l *Loader) Instructions() string {
	fw := l.Load()
	out := fw.Instructions

	if len(fw.Agents) > 0 {
		var b strings.Builder
		b.WriteString("\n\n## Agent Definitions\n")
		for _, id := range fw.AgentIDs() {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", id, strings.TrimSpace(fw.Agents[id]))
		}
		out += b.String()
	}

	if override := l.workDirOverride(); override != "" {
		out += "\n\n## Working Directory Instructions\n\n" + override
	}
	return out
}

func (l *Loader) workDirOverride() string {
	dir := l.WorkDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	for _, name := range []string{"INSTRUCTIONS.md", "CLAUDE.md"} {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func (l *Loader) minimal() *Framework {
	fw := &Framework{
		Instructions: MinimalFramework,
		Version:      "0.0.0",
		Minimal:      true,
		Agents:       map[string]string{},
	}
	// Locally installed agents still apply without a framework tree.
	l.overlayLocalAgents(fw)
	return fw
}

// MinimalFramework is the built-in fallback when no framework tree is
// installed.
const MinimalFramework = `# Claude PM Framework

You are a multi-agent Project Manager. Break the user's request into
tasks and delegate each task to a specialist agent. Available agents:
engineer, qa, documentation, research, security, ops, version-control,
data-engineer.
`

// DelegationFramework is the compact prompt used for non-interactive PM
// runs. It ends with an explicit instruction to emit the delegation
// format so the output can be parsed.
const DelegationFramework = MinimalFramework + `
When delegating, write each delegation on its own line exactly as:

**<Agent>**: <task description>

Do not perform the tasks yourself. List the delegations, then stop.
`

// ValidateVersion checks that a framework version string is valid semver.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("framework version is empty")
	}
	if _, err := semver.NewVersion(version); err != nil {
		return fmt.Errorf("invalid framework version %q: %w", version, err)
	}
	return nil
}
