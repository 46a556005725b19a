package claude

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"mpm/pkg/logger"
)

// OneshotResult carries the outcome of a blocking non-interactive run.
// On timeout the partial output is preserved and ExitCode is -1.
type OneshotResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// RunOneshot executes a single --print turn and blocks until the CLI
// exits or the context deadline fires. With opts.UseStdin the prompt is
// fed over stdin; otherwise it rides the argv as the positional prompt.
func RunOneshot(ctx context.Context, opts LaunchOptions, stdin string) (*OneshotResult, error) {
	bin, err := FindExecutable()
	if err != nil {
		return nil, err
	}

	opts.Mode = ModePrint
	opts, stdin = applyPromptTransport(opts, stdin)
	args := BuildArgv(opts)

	log := logger.Get()
	log.Debug().Str("bin", bin).Int("args", len(args)).Msg("running claude oneshot")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	runErr := cmd.Run()
	res := &OneshotResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		res.TimedOut = true
		log.Warn().Dur("elapsed", res.Duration).Msg("claude oneshot timed out, keeping partial output")
		return res, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, runErr
	}
	return res, nil
}

// applyPromptTransport decides how the one-shot prompt reaches the CLI.
// Without UseStdin the prompt is promoted onto the argv; an explicit
// opts.Prompt always wins over the stdin text.
func applyPromptTransport(opts LaunchOptions, stdin string) (LaunchOptions, string) {
	if opts.UseStdin {
		return opts, stdin
	}
	if opts.Prompt == "" && stdin != "" {
		opts.Prompt = stdin
		stdin = ""
	}
	return opts, stdin
}
