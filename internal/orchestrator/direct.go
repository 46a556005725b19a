package orchestrator

import (
	"context"
	"fmt"

	"mpm/internal/claude"
	"mpm/internal/config"
)

// Direct primes Claude with the framework in a one-shot run, then hands
// the terminal over for a free interactive session. Extraction is
// best-effort from what the strategy can see.
type Direct struct {
	*Base
}

// NewDirect creates the strategy.
func NewDirect(cfg *config.Config, deps Deps) *Direct {
	return &Direct{Base: newBase(cfg, "direct", deps)}
}

func (o *Direct) launchOptions() claude.LaunchOptions {
	return claude.LaunchOptions{
		Model:           o.cfg.Claude.Model,
		SkipPermissions: o.cfg.Claude.SkipPermissions,
		UseStdin:        o.cfg.Claude.UseStdin,
	}
}

// RunInteractive primes with the framework, then continues the primed
// conversation interactively.
func (o *Direct) RunInteractive() error {
	defer o.Cleanup()

	instructions := o.GetFrameworkInstructions()
	o.savePrompt("framework", instructions)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Claude.GetPMTimeout())
	defer cancel()

	opts := o.launchOptions()
	opts.SessionID = o.state.SessionID

	o.emit("/session", "session_start", map[string]any{"session_type": o.state.SessionType})
	prime, err := o.cli.Oneshot(ctx, opts, instructions)
	if err != nil {
		return fmt.Errorf("framework priming failed: %w", err)
	}
	o.LogInteraction("framework_primed", prime.Stdout)

	interactiveOpts := o.launchOptions()
	if claude.ParseConversationFile(prime.Stderr) != "" {
		// The CLI reported a saved conversation; continue it.
		interactiveOpts.ContinueSession = true
	} else {
		interactiveOpts.SessionID = o.state.SessionID
	}

	exitCode, _, err := o.cli.Launch(interactiveOpts)
	if err != nil {
		return err
	}
	o.LogInteraction("session_exit", fmt.Sprintf("exit_code=%d", exitCode))
	return nil
}

// RunNonInteractive runs one framework-primed turn and post-processes
// the output.
func (o *Direct) RunNonInteractive(input string) error {
	defer o.Cleanup()

	prompt := o.GetFrameworkInstructions() + "\n\n## User Request\n\n" + input
	o.savePrompt("direct", prompt)
	o.LogInteraction("user_input", input)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Claude.GetPMTimeout())
	defer cancel()

	res, err := o.cli.Oneshot(ctx, o.launchOptions(), prompt)
	if err != nil {
		return err
	}

	fmt.Fprintln(o.out, res.Stdout)
	o.LogInteraction("response", res.Stdout)
	processLines(o.Base, res.Stdout)
	return nil
}
