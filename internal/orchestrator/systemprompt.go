package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"mpm/internal/claude"
	"mpm/internal/config"
)

// SystemPrompt injects the framework via --append-system-prompt on every
// invocation, so no priming turn is needed. Delegations found in output
// are logged, not executed; real Task-tool runs stay Claude-internal.
type SystemPrompt struct {
	*Base
}

// NewSystemPrompt creates the strategy.
func NewSystemPrompt(cfg *config.Config, deps Deps) *SystemPrompt {
	return &SystemPrompt{Base: newBase(cfg, "system_prompt", deps)}
}

func (o *SystemPrompt) launchOptions() claude.LaunchOptions {
	return claude.LaunchOptions{
		Mode:            claude.ModeSystemPrompt,
		Model:           o.cfg.Claude.Model,
		SkipPermissions: o.cfg.Claude.SkipPermissions,
		UseStdin:        o.cfg.Claude.UseStdin,
		SystemPrompt:    o.GetFrameworkInstructions(),
	}
}

// RunInteractive launches the CLI with the framework as system prompt.
func (o *SystemPrompt) RunInteractive() error {
	defer o.Cleanup()

	o.emit("/session", "session_start", map[string]any{"session_type": o.state.SessionType})
	exitCode, _, err := o.cli.Launch(o.launchOptions())
	if err != nil {
		return err
	}
	o.LogInteraction("session_exit", fmt.Sprintf("exit_code=%d", exitCode))
	return nil
}

// RunNonInteractive runs one turn with the prompt over stdin and
// post-processes stdout for tickets and delegations.
func (o *SystemPrompt) RunNonInteractive(input string) error {
	defer o.Cleanup()

	o.LogInteraction("user_input", input)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Claude.GetPMTimeout())
	defer cancel()

	res, err := o.cli.Oneshot(ctx, o.launchOptions(), input)
	if err != nil {
		return err
	}

	fmt.Fprintln(o.out, res.Stdout)
	o.LogInteraction("response", res.Stdout)
	processLines(o.Base, res.Stdout)

	for _, d := range o.detector.Detect(res.Stdout) {
		o.log.Info().
			Str("agent", d.Agent).
			Str("task", d.Task).
			Msg("delegation observed (executed Claude-side)")
	}
	return nil
}

// processLines runs ProcessOutputLine over every line of a text block.
func processLines(b *Base, text string) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.ProcessOutputLine(scanner.Text())
	}
}
