// Package claude locates and launches the Claude CLI, both interactively
// and in blocking one-shot mode.
package claude

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"mpm/pkg/logger"
)

// Mode selects how the CLI is driven.
type Mode string

const (
	// ModeInteractive hands the terminal to the CLI.
	ModeInteractive Mode = "interactive"
	// ModePrint runs a single non-interactive turn with --print.
	ModePrint Mode = "print"
	// ModeSystemPrompt is interactive with framework instructions injected
	// via --append-system-prompt.
	ModeSystemPrompt Mode = "system_prompt"
)

// LaunchOptions describe a single CLI invocation.
type LaunchOptions struct {
	Mode            Mode
	Model           string
	SessionID       string
	ContinueSession bool
	SkipPermissions bool
	SystemPrompt    string
	UseStdin        bool     // feed the one-shot prompt over stdin instead of argv
	Prompt          string   // positional prompt for --print mode
	ExtraArgs       []string // passed through verbatim, last
}

// wellKnownPaths are checked before $PATH so a broken shim earlier in the
// search path does not shadow a real install.
var wellKnownPaths = []string{
	"/usr/local/bin/claude",
	"/opt/homebrew/bin/claude",
	"/usr/bin/claude",
}

// FindExecutable locates the Claude CLI binary. The MPM_CLAUDE_PATH
// environment variable wins when set.
func FindExecutable() (string, error) {
	if p := os.Getenv("MPM_CLAUDE_PATH"); p != "" {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
		return "", fmt.Errorf("MPM_CLAUDE_PATH is set but %s is not an executable file", p)
	}

	home, _ := os.UserHomeDir()
	candidates := append([]string{}, wellKnownPaths...)
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".local", "bin", "claude"),
			filepath.Join(home, ".npm-global", "bin", "claude"),
		)
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	if p, err := exec.LookPath("claude"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("claude CLI not found; install it or set MPM_CLAUDE_PATH")
}

// BuildArgv assembles the CLI argument list for the given options. The
// binary name itself is not included.
func BuildArgv(opts LaunchOptions) []string {
	var args []string

	model := opts.Model
	if model == "" {
		model = "opus"
	}
	args = append(args, "--model", model)

	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	if opts.ContinueSession {
		args = append(args, "--continue")
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if opts.Mode == ModePrint {
		args = append(args, "--print")
		if opts.Prompt != "" {
			args = append(args, opts.Prompt)
		}
	}

	args = append(args, opts.ExtraArgs...)
	return args
}

// conversationFile matches the save path the CLI reports on stderr when a
// session ends.
var conversationFile = regexp.MustCompile(`(?i)(?:conversation saved to|saved to)[:\s]+(\S+)`)

// ParseConversationFile extracts the saved-conversation path from CLI
// stderr output. Empty when the CLI did not report one.
func ParseConversationFile(stderr string) string {
	m := conversationFile.FindStringSubmatch(stderr)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ".,")
}

// Launch runs the CLI interactively, wired to the current terminal, and
// blocks until it exits. Returns the exit code and captured stderr.
func Launch(opts LaunchOptions) (int, string, error) {
	bin, err := FindExecutable()
	if err != nil {
		return -1, "", err
	}

	args := BuildArgv(opts)
	logger.Get().Debug().Str("bin", bin).Strs("args", args).Msg("launching claude interactively")

	var stderr strings.Builder
	cmd := exec.Command(bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	// Tee stderr so the conversation file path survives the session.
	cmd.Stderr = &teeWriter{a: os.Stderr, b: &stderr}

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stderr.String(), nil
		}
		return -1, stderr.String(), fmt.Errorf("failed to run claude: %w", err)
	}
	return 0, stderr.String(), nil
}

type teeWriter struct {
	a, b interface{ Write(p []byte) (int, error) }
}

func (t *teeWriter) Write(p []byte) (int, error) {
	t.a.Write(p)
	return t.b.Write(p)
}
