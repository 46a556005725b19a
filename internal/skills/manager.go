// Package skills loads named markdown skills from a three-tier overlay
// and merges them into agent prompts.
package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"mpm/pkg/logger"
)

// Source identifies which tier a skill came from.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceUser    Source = "user"
	SourceProject Source = "project"
)

const maxDescriptionLen = 200

// Skill is one loaded markdown skill.
type Skill struct {
	Name        string   `json:"name"`
	Source      Source   `json:"source"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	AgentTypes  []string `json:"agent_types,omitempty"`
	Path        string   `json:"path"`
}

// AppliesTo reports whether the skill is available to an agent type. An
// empty agent_types list means every agent.
func (s *Skill) AppliesTo(agentType string) bool {
	if len(s.AgentTypes) == 0 {
		return true
	}
	for _, t := range s.AgentTypes {
		if strings.EqualFold(t, agentType) {
			return true
		}
	}
	return false
}

// Manager resolves skills across the bundled, user, and project tiers.
// Later tiers override earlier ones by filename.
type Manager struct {
	bundledDir string
	userDir    string
	projectDir string
	log        zerolog.Logger

	mu       sync.Mutex
	skills   map[string]*Skill   // by name
	mappings map[string][]string // agent type -> skill names
	loaded   bool
}

// NewManager creates a manager over the three tier directories. Any of
// them may be missing.
func NewManager(bundledDir, userDir, projectDir string) *Manager {
	return &Manager{
		bundledDir: bundledDir,
		userDir:    userDir,
		projectDir: projectDir,
		log:        logger.ForComponent("skills"),
		skills:     make(map[string]*Skill),
		mappings:   make(map[string][]string),
	}
}

// Reload re-reads every tier. Called lazily on first access.
func (m *Manager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked()
}

func (m *Manager) reloadLocked() {
	m.skills = make(map[string]*Skill)
	tiers := []struct {
		dir    string
		source Source
	}{
		{m.bundledDir, SourceBundled},
		{m.userDir, SourceUser},
		{m.projectDir, SourceProject},
	}
	for _, tier := range tiers {
		if tier.dir == "" {
			continue
		}
		m.loadTierLocked(tier.dir, tier.source)
	}
	m.loaded = true
	m.log.Debug().Int("skills", len(m.skills)).Msg("skills reloaded")
}

func (m *Manager) loadTierLocked(dir string, source Source) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.log.Warn().Err(err).Str("file", path).Msg("skill unreadable, skipping")
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		meta, body := splitFrontMatter(string(data))

		desc := meta.Description
		if desc == "" {
			desc = parseDescription(body)
		}
		m.skills[name] = &Skill{
			Name:        name,
			Source:      source,
			Description: desc,
			Content:     body,
			AgentTypes:  meta.AgentTypes,
			Path:        path,
		}
	}
}

type skillMeta struct {
	Description string   `yaml:"description"`
	AgentTypes  []string `yaml:"agent_types"`
}

// splitFrontMatter strips an optional leading YAML front matter block.
func splitFrontMatter(content string) (skillMeta, string) {
	var meta skillMeta
	if !strings.HasPrefix(content, "---\n") {
		return meta, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, content
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return skillMeta{}, content
	}
	body := rest[end+4:]
	return meta, strings.TrimPrefix(body, "\n")
}

// parseDescription takes the first non-heading paragraph, truncated.
func parseDescription(content string) string {
	for _, para := range strings.Split(content, "\n\n") {
		text := strings.TrimSpace(para)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.Join(strings.Fields(text), " ")
		if len(text) > maxDescriptionLen {
			text = text[:maxDescriptionLen]
		}
		return text
	}
	return ""
}

func (m *Manager) ensureLoaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		m.reloadLocked()
	}
}

// GetSkill looks a skill up by name.
func (m *Manager) GetSkill(name string) (*Skill, bool) {
	m.ensureLoaded()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[name]
	return s, ok
}

// ListSkills returns the loaded skills, optionally filtered by source,
// sorted by name.
func (m *Manager) ListSkills(source Source) []*Skill {
	m.ensureLoaded()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Skill
	for _, s := range m.skills {
		if source != "" && s.Source != source {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetSkillsForAgent returns the skills applicable to an agent type: those
// mapped to it plus any skill whose agent_types is empty.
func (m *Manager) GetSkillsForAgent(agentType string) []*Skill {
	m.ensureLoaded()
	m.mu.Lock()
	defer m.mu.Unlock()

	mapped := make(map[string]bool)
	for _, name := range m.mappings[strings.ToLower(agentType)] {
		mapped[name] = true
	}

	var out []*Skill
	for _, s := range m.skills {
		if mapped[s.Name] || s.AppliesTo(agentType) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnhanceAgentPrompt appends the applicable skills to a base prompt
// under a delimited section. include_all bypasses the agent filter.
func (m *Manager) EnhanceAgentPrompt(agentType, basePrompt string, includeAll bool) string {
	var applicable []*Skill
	if includeAll {
		applicable = m.ListSkills("")
	} else {
		applicable = m.GetSkillsForAgent(agentType)
	}
	if len(applicable) == 0 {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## 🎯 Available Skills\n")
	for _, s := range applicable {
		fmt.Fprintf(&b, "\n### %s (%s)\n", s.Name, s.Source)
		if s.Description != "" {
			fmt.Fprintf(&b, "%s\n", s.Description)
		}
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(s.Content))
	}
	return b.String()
}

// agentTemplate is the subset of a per-agent JSON template the mapping
// loader cares about.
type agentTemplate struct {
	AgentID   string   `json:"agent_id"`
	AgentType string   `json:"agent_type"`
	Skills    []string `json:"skills"`
}

// LoadAgentMappings reads agent→skills mappings out of per-agent JSON
// template files in a directory.
func (m *Manager) LoadAgentMappings(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var tpl agentTemplate
		if err := json.Unmarshal(data, &tpl); err != nil {
			m.log.Warn().Err(err).Str("file", e.Name()).Msg("agent template unparseable, skipping")
			continue
		}
		id := tpl.AgentID
		if id == "" {
			id = tpl.AgentType
		}
		if id == "" || len(tpl.Skills) == 0 {
			continue
		}
		m.mappings[strings.ToLower(id)] = tpl.Skills
	}
	return nil
}

// SetMapping replaces the skill list mapped to an agent type.
func (m *Manager) SetMapping(agentType string, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[strings.ToLower(agentType)] = names
}

// SaveUserMappings writes the current mapping table to a JSON file.
func (m *Manager) SaveUserMappings(path string) error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.mappings, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadUserMappings merges a user mapping JSON file over the current
// table.
func (m *Manager) LoadUserMappings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var mappings map[string][]string
	if err := json.Unmarshal(data, &mappings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for agent, names := range mappings {
		m.mappings[strings.ToLower(agent)] = names
	}
	return nil
}
