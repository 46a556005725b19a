package config

import "github.com/spf13/viper"

// SetDefaults registers default values on the global viper instance.
func SetDefaults() {
	viper.SetDefault("version", "1")

	// Claude CLI
	viper.SetDefault("claude.model", "opus")
	viper.SetDefault("claude.skip_permissions", true)
	viper.SetDefault("claude.use_stdin", true)
	viper.SetDefault("claude.pm_timeout", "30s")
	viper.SetDefault("claude.agent_timeout", "60s")

	// Orchestration
	viper.SetDefault("orchestrator.subprocess", false)
	viper.SetDefault("orchestrator.interactive_subprocess", false)
	viper.SetDefault("orchestrator.use_system_prompt", true)
	viper.SetDefault("orchestrator.enable_todo_hijacking", false)
	viper.SetDefault("orchestrator.workers", 3)
	viper.SetDefault("orchestrator.ticket_creation", true)
	viper.SetDefault("orchestrator.save_prompts", false)

	// Hook service
	viper.SetDefault("hooks.enabled", false)
	viper.SetDefault("hooks.url", "http://localhost:5001")
	viper.SetDefault("hooks.timeout", "30s")

	// Event stream
	viper.SetDefault("event_stream.enabled", true)
	viper.SetDefault("event_stream.auth_token", "dev-token")
	viper.SetDefault("event_stream.max_connections", 5)
	viper.SetDefault("event_stream.queue_capacity", 10000)

	// TODO hijacker
	viper.SetDefault("hijacker.rescan_interval", "30s")

	// Monitor
	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.addr", "127.0.0.1:8766")

	// Logging
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}
