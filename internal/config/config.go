// Package config provides configuration loading for claude-mpm.
// Precedence: environment > config file > defaults.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mpm/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Version      string             `mapstructure:"version" yaml:"version"`
	Claude       ClaudeConfig       `mapstructure:"claude" yaml:"claude"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Hooks        HooksConfig        `mapstructure:"hooks" yaml:"hooks"`
	EventStream  EventStreamConfig  `mapstructure:"event_stream" yaml:"event_stream"`
	Hijacker     HijackerConfig     `mapstructure:"hijacker" yaml:"hijacker"`
	Sessions     SessionsConfig     `mapstructure:"sessions" yaml:"sessions"`
	Skills       SkillsConfig       `mapstructure:"skills" yaml:"skills"`
	Framework    FrameworkConfig    `mapstructure:"framework" yaml:"framework"`
	Monitor      MonitorConfig      `mapstructure:"monitor" yaml:"monitor"`
	Log          logger.LogConfig   `mapstructure:"log" yaml:"log"`
}

// ClaudeConfig configures the underlying Claude CLI invocation.
type ClaudeConfig struct {
	Path            string `mapstructure:"path" yaml:"path,omitempty"` // explicit executable path, empty = auto-detect
	Model           string `mapstructure:"model" yaml:"model"`
	SkipPermissions bool   `mapstructure:"skip_permissions" yaml:"skip_permissions"`
	UseStdin        bool   `mapstructure:"use_stdin" yaml:"use_stdin"`
	PMTimeout       string `mapstructure:"pm_timeout" yaml:"pm_timeout"`
	AgentTimeout    string `mapstructure:"agent_timeout" yaml:"agent_timeout"`
}

// GetPMTimeout parses PMTimeout, defaulting to 30 seconds.
func (c *ClaudeConfig) GetPMTimeout() time.Duration {
	return parseDuration(c.PMTimeout, 30*time.Second)
}

// GetAgentTimeout parses AgentTimeout, defaulting to 60 seconds.
func (c *ClaudeConfig) GetAgentTimeout() time.Duration {
	return parseDuration(c.AgentTimeout, 60*time.Second)
}

// OrchestratorConfig selects the orchestration strategy and its knobs.
type OrchestratorConfig struct {
	Subprocess            bool `mapstructure:"subprocess" yaml:"subprocess"`
	InteractiveSubprocess bool `mapstructure:"interactive_subprocess" yaml:"interactive_subprocess"`
	UseSystemPrompt       bool `mapstructure:"use_system_prompt" yaml:"use_system_prompt"`
	EnableTodoHijacking   bool `mapstructure:"enable_todo_hijacking" yaml:"enable_todo_hijacking"`
	Workers               int  `mapstructure:"workers" yaml:"workers"`
	TicketCreation        bool `mapstructure:"ticket_creation" yaml:"ticket_creation"`
	SavePrompts           bool `mapstructure:"save_prompts" yaml:"save_prompts"`
}

// GetWorkers returns the fan-out worker count, default 3, capped at 8.
func (c *OrchestratorConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 3
	}
	if c.Workers > 8 {
		return 8
	}
	return c.Workers
}

// HooksConfig configures the external hook service client.
type HooksConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// GetTimeout parses Timeout, defaulting to 30 seconds.
func (c *HooksConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// EventStreamConfig configures the lifecycle event stream pool.
type EventStreamConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Port           int    `mapstructure:"port" yaml:"port,omitempty"` // 0 = discover
	AuthToken      string `mapstructure:"auth_token" yaml:"auth_token"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	QueueCapacity  int    `mapstructure:"queue_capacity" yaml:"queue_capacity"`
}

// GetMaxConnections returns the pool cap, default 5.
func (c *EventStreamConfig) GetMaxConnections() int {
	if c.MaxConnections <= 0 {
		return 5
	}
	return c.MaxConnections
}

// GetQueueCapacity returns the pending-event queue bound, default 10000.
func (c *EventStreamConfig) GetQueueCapacity() int {
	if c.QueueCapacity <= 0 {
		return 10000
	}
	return c.QueueCapacity
}

// HijackerConfig configures the TODO inbox watcher.
type HijackerConfig struct {
	InboxDir       string `mapstructure:"inbox_dir" yaml:"inbox_dir,omitempty"` // empty = ~/.claude/todos
	RescanInterval string `mapstructure:"rescan_interval" yaml:"rescan_interval,omitempty"`
}

// GetRescanInterval parses RescanInterval, defaulting to 30 seconds.
func (c *HijackerConfig) GetRescanInterval() time.Duration {
	return parseDuration(c.RescanInterval, 30*time.Second)
}

// SessionsConfig configures where session artifacts are written.
type SessionsConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir,omitempty"`         // empty = ~/.claude-mpm/sessions
	PromptsDir string `mapstructure:"prompts" yaml:"prompts,omitempty"` // empty = ~/.claude-mpm/prompts
	TrackerDB  string `mapstructure:"tracker_db" yaml:"tracker_db,omitempty"`
}

// SkillsConfig configures the three skill tiers.
type SkillsConfig struct {
	BundledDir   string `mapstructure:"bundled_dir" yaml:"bundled_dir,omitempty"`
	UserDir      string `mapstructure:"user_dir" yaml:"user_dir,omitempty"` // empty = ~/.claude/skills
	ProjectDir   string `mapstructure:"project_dir" yaml:"project_dir,omitempty"`
	MappingFile  string `mapstructure:"mapping_file" yaml:"mapping_file,omitempty"`   // empty = ~/.claude-mpm/skill_mappings.json
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir,omitempty"` // empty = <framework root>/src/claude_mpm/agents/templates
}

// FrameworkConfig configures PM framework discovery.
type FrameworkConfig struct {
	Root string `mapstructure:"root" yaml:"root,omitempty"` // empty = walk up from executable
}

// MonitorConfig configures the optional local status server.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads configuration from the given path, applying defaults and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("MPM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, err
			}
			// Missing file falls through to defaults.
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyLegacyEnv(&cfg)

	globalConfig = &cfg
	return &cfg, nil
}

// applyLegacyEnv honors the environment variables recognized by the
// original tooling alongside the MPM_* viper bindings.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("CLAUDE_MPM_SOCKETIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.EventStream.Port = port
		}
	}
	if v := os.Getenv("CLAUDE_MPM_HOOKS_URL"); v != "" {
		cfg.Hooks.URL = v
		cfg.Hooks.Enabled = true
	}
}

// GetConfig returns the currently loaded configuration, or nil.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Save persists the loaded configuration back to its file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()

	if configPath == "" {
		return errors.New("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo writes a configuration snapshot to an arbitrary path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset clears loaded state. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
