package orchestrator

import (
	"mpm/internal/config"
	"mpm/internal/skills"
)

// New selects a strategy from configuration flags:
// interactive_subprocess wins, then subprocess, then use_system_prompt,
// then Direct.
func New(cfg *config.Config, deps Deps, hij Hijacker, sk *skills.Manager) Orchestrator {
	switch {
	case cfg.Orchestrator.InteractiveSubprocess:
		return NewSubprocess(cfg, deps, hij, sk, true)
	case cfg.Orchestrator.Subprocess:
		return NewSubprocess(cfg, deps, hij, sk, false)
	case cfg.Orchestrator.UseSystemPrompt:
		return NewSystemPrompt(cfg, deps)
	default:
		return NewDirect(cfg, deps)
	}
}
