package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mpm/internal/config"
	"mpm/internal/eventpool"
	"mpm/internal/framework"
	"mpm/internal/hijacker"
	"mpm/internal/hooks"
	"mpm/internal/monitor"
	"mpm/internal/orchestrator"
	"mpm/internal/skills"
	"mpm/internal/tracker"
	"mpm/pkg/logger"
)

// exitInterrupted is the conventional exit code for SIGINT.
const exitInterrupted = 130

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a PM session",
		Long: `Runs a project-manager session. With -i (inline text or a file
path) or piped stdin the session is non-interactive: one PM turn,
delegation fan-out, then a summary. Otherwise an interactive session is
started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, input)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input text or path to an input file (non-interactive)")
	return cmd
}

func runSession(cmd *cobra.Command, input string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	log := logger.Get()

	nonInteractive, text, err := resolveInput(input)
	if err != nil {
		return err
	}

	deps, shutdown := buildDeps(cfg)
	defer shutdown()

	hij := buildHijacker(cfg)
	sk := buildSkills(cfg)

	orch := orchestrator.New(cfg, deps, hij, sk)

	// SIGINT ends the session cleanly: cleanup still runs, exit is 130.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() {
		if nonInteractive {
			done <- orch.RunNonInteractive(text)
		} else {
			done <- orch.RunInteractive()
		}
	}()

	select {
	case err := <-done:
		printSummary(cmd.OutOrStdout(), orch.Summary())
		if err != nil {
			log.Error().Err(err).Msg("session failed")
			return err
		}
		return nil
	case <-sigCh:
		interruptSession(orch, shutdown, cmd.OutOrStdout())
		os.Exit(exitInterrupted)
		return nil
	}
}

// interruptSession runs the cleanup an os.Exit would otherwise skip:
// session persistence plus the collaborator closers (event pool,
// tracker, monitor).
func interruptSession(orch orchestrator.Orchestrator, shutdown func(), w io.Writer) {
	orch.Cleanup()
	shutdown()
	fmt.Fprintln(w, "Session interrupted by user")
}

// resolveInput decides the session mode. -i takes inline text or a file
// path; piped stdin is read whole.
func resolveInput(input string) (nonInteractive bool, text string, err error) {
	if input != "" {
		if info, statErr := os.Stat(input); statErr == nil && !info.IsDir() {
			data, readErr := os.ReadFile(input)
			if readErr != nil {
				return false, "", readErr
			}
			return true, strings.TrimSpace(string(data)), nil
		}
		return true, input, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			return false, "", readErr
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return true, text, nil
		}
	}
	return false, "", nil
}

// buildDeps assembles the optional collaborators from configuration and
// returns them with a shutdown function.
func buildDeps(cfg *config.Config) (orchestrator.Deps, func()) {
	log := logger.Get()
	var deps orchestrator.Deps
	var closers []func()

	if cfg.Hooks.Enabled && cfg.Hooks.URL != "" {
		deps.Hooks = hooks.NewClient(cfg.Hooks.URL, cfg.Hooks.GetTimeout())
	}

	if cfg.Framework.Root != "" {
		deps.Loader = &framework.Loader{Root: cfg.Framework.Root}
	}

	if cfg.EventStream.Enabled {
		deps.Pool = eventpool.GetPool(eventpool.Options{
			Port:           cfg.EventStream.Port,
			AuthToken:      cfg.EventStream.AuthToken,
			MaxConnections: cfg.EventStream.GetMaxConnections(),
			QueueCapacity:  cfg.EventStream.GetQueueCapacity(),
		})
		closers = append(closers, eventpool.StopPool)
	}

	trackerPath := cfg.Sessions.TrackerDB
	if trackerPath == "" {
		trackerPath, _ = config.DefaultTrackerPath()
	}
	if tr, err := tracker.Open(trackerPath); err != nil {
		log.Warn().Err(err).Msg("delegation tracker unavailable")
	} else {
		deps.Tracker = tr
		closers = append(closers, func() { tr.Close() })
	}

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg.Monitor.Addr, deps.Pool, deps.Tracker)
		if _, err := srv.Start(); err != nil {
			log.Warn().Err(err).Msg("monitor server unavailable")
		} else {
			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Stop(ctx)
			})
		}
	}

	return deps, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func buildHijacker(cfg *config.Config) orchestrator.Hijacker {
	if !cfg.Orchestrator.EnableTodoHijacking {
		return nil
	}
	inbox := cfg.Hijacker.InboxDir
	if inbox == "" {
		inbox, _ = config.DefaultTodoInbox()
	}
	return hijacker.New(inbox, cfg.Hijacker.GetRescanInterval(), nil)
}

func buildSkills(cfg *config.Config) *skills.Manager {
	userDir := cfg.Skills.UserDir
	if userDir == "" {
		userDir, _ = config.DefaultUserSkillsDir()
	}
	projectDir := cfg.Skills.ProjectDir
	if projectDir == "" {
		if wd, err := os.Getwd(); err == nil {
			projectDir = filepath.Join(wd, ".claude", "skills")
		}
	}

	m := skills.NewManager(cfg.Skills.BundledDir, userDir, projectDir)

	// Per-agent JSON templates seed the mapping table; the user mapping
	// file overrides it.
	if dir := skillTemplatesDir(cfg); dir != "" {
		if err := m.LoadAgentMappings(dir); err != nil && !os.IsNotExist(err) {
			logger.Get().Warn().Err(err).Str("dir", dir).Msg("agent skill templates unreadable")
		}
	}
	if path := skillMappingPath(cfg); path != "" {
		if err := m.LoadUserMappings(path); err != nil && !os.IsNotExist(err) {
			logger.Get().Warn().Err(err).Msg("skill mappings unreadable")
		}
	}
	return m
}

// skillTemplatesDir resolves where the per-agent JSON templates live:
// the configured dir, else the framework tree's agents/templates.
func skillTemplatesDir(cfg *config.Config) string {
	if cfg.Skills.TemplatesDir != "" {
		return cfg.Skills.TemplatesDir
	}
	root := cfg.Framework.Root
	if root == "" {
		var ok bool
		if root, ok = framework.DiscoverRoot(); !ok {
			return ""
		}
	}
	return filepath.Join(root, filepath.FromSlash("src/claude_mpm/agents"), "templates")
}

func skillMappingPath(cfg *config.Config) string {
	if cfg.Skills.MappingFile != "" {
		return cfg.Skills.MappingFile
	}
	path, _ := config.DefaultSkillMappingPath()
	return path
}

// printSummary reports ticket counts by type and delegation counts by
// agent.
func printSummary(w io.Writer, sum orchestrator.Summary) {
	total := 0
	for _, n := range sum.TicketCounts {
		total += n
	}

	fmt.Fprintf(w, "\n--- session summary (%.1fs) ---\n", sum.Duration.Seconds())
	fmt.Fprintf(w, "tickets: %d\n", total)
	for _, typ := range sortedKeys(sum.TicketCounts) {
		fmt.Fprintf(w, "  %s: %d\n", typ, sum.TicketCounts[typ])
	}

	delegated := 0
	for _, n := range sum.DelegationCounts {
		delegated += n
	}
	fmt.Fprintf(w, "delegations: %d\n", delegated)
	for _, agent := range sortedKeys(sum.DelegationCounts) {
		fmt.Fprintf(w, "  %s: %d\n", agent, sum.DelegationCounts[agent])
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
