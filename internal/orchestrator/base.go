// Package orchestrator drives a PM session against the Claude CLI:
// injecting the framework, detecting delegations, fanning out agent
// subprocesses, and persisting the session log. Observability work
// (hooks, events, ticket creation, session logging) is failure-isolated
// and never aborts the user-facing path.
package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mpm/internal/claude"
	"mpm/internal/config"
	"mpm/internal/delegation"
	"mpm/internal/eventpool"
	"mpm/internal/framework"
	"mpm/internal/hooks"
	"mpm/internal/tickets"
	"mpm/internal/tracker"
	"mpm/pkg/logger"
)

// Orchestrator is one session strategy.
type Orchestrator interface {
	RunInteractive() error
	RunNonInteractive(input string) error
	Cleanup()
	Summary() Summary
}

// cliRunner abstracts the Claude CLI for the strategies.
type cliRunner interface {
	Oneshot(ctx context.Context, opts claude.LaunchOptions, stdin string) (*claude.OneshotResult, error)
	Launch(opts claude.LaunchOptions) (exitCode int, stderr string, err error)
}

type realCLI struct{}

func (realCLI) Oneshot(ctx context.Context, opts claude.LaunchOptions, stdin string) (*claude.OneshotResult, error) {
	return claude.RunOneshot(ctx, opts, stdin)
}

func (realCLI) Launch(opts claude.LaunchOptions) (int, string, error) {
	return claude.Launch(opts)
}

// Deps are the collaborators an orchestrator works with. Hooks, pool,
// tracker, and store may be nil.
type Deps struct {
	Hooks   *hooks.Client
	Pool    *eventpool.Pool
	Tracker *tracker.Tracker
	Store   tickets.Store
	Loader  *framework.Loader
	CLI     cliRunner
	Out     io.Writer
}

// Base carries the state and collaborators shared by every strategy.
type Base struct {
	cfg       *config.Config
	loader    *framework.Loader
	extractor *tickets.Extractor
	detector  *delegation.Detector
	hooks     *hooks.Client
	pool      *eventpool.Pool
	tracker   *tracker.Tracker
	store     tickets.Store
	cli       cliRunner
	out       io.Writer
	state     *SessionState
	log       zerolog.Logger

	sessionsDir    string
	promptsDir     string
	savePrompts    bool
	ticketCreation bool
}

func newBase(cfg *config.Config, sessionType string, deps Deps) *Base {
	loader := deps.Loader
	if loader == nil {
		loader = framework.NewLoader()
	}
	cli := deps.CLI
	if cli == nil {
		cli = realCLI{}
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	store := deps.Store
	if store == nil {
		store = tickets.NewLogStore()
	}
	sessionsDir := cfg.Sessions.Dir
	if sessionsDir == "" {
		sessionsDir, _ = config.DefaultSessionsDir()
	}
	promptsDir := cfg.Sessions.PromptsDir
	if promptsDir == "" {
		promptsDir, _ = config.DefaultPromptsDir()
	}

	return &Base{
		cfg:            cfg,
		loader:         loader,
		extractor:      tickets.NewExtractor(),
		detector:       delegation.NewDetector(),
		hooks:          deps.Hooks,
		pool:           deps.Pool,
		tracker:        deps.Tracker,
		store:          store,
		cli:            cli,
		out:            out,
		state:          NewSessionState(uuid.NewString(), sessionType),
		log:            logger.ForComponent("orchestrator"),
		sessionsDir:    sessionsDir,
		promptsDir:     promptsDir,
		savePrompts:    cfg.Orchestrator.SavePrompts,
		ticketCreation: cfg.Orchestrator.TicketCreation,
	}
}

// SessionID returns the session's unique id.
func (b *Base) SessionID() string {
	return b.state.SessionID
}

// Summary reports ticket and delegation counts for the session.
func (b *Base) Summary() Summary {
	return b.state.Summary()
}

// LogInteraction records one (kind, content) pair with a timestamp.
func (b *Base) LogInteraction(kind, content string) {
	b.state.LogInteraction(kind, content)
}

// LineResult is what fell out of one output line.
type LineResult struct {
	Tickets     []tickets.Ticket
	Delegations []delegation.Delegation
}

// ProcessOutputLine fans one CLI output line to the ticket extractor,
// the delegation detector, and the ticket_extraction hook.
func (b *Base) ProcessOutputLine(line string) LineResult {
	var res LineResult
	res.Tickets = b.extractor.Extract(line)
	res.Delegations = b.detector.Detect(line)

	if b.hooks != nil {
		results := b.hooks.TicketExtraction(context.Background(), map[string]any{"line": line})
		for _, t := range hooks.ExtractedTickets(results) {
			if filled, ok := b.extractor.AddTicket(t); ok {
				res.Tickets = append(res.Tickets, filled)
			}
		}
	}

	b.state.AddTickets(res.Tickets)
	return res
}

// GetFrameworkInstructions loads the injectable framework prompt,
// letting a pre_delegation hook rewrite it.
func (b *Base) GetFrameworkInstructions() string {
	instructions := b.loader.Instructions()
	if b.hooks == nil {
		return instructions
	}

	results := b.hooks.PreDelegation(context.Background(), "system",
		map[string]any{"instructions": instructions, "agent_type": "system"})
	for _, r := range results {
		if !r.Modified {
			continue
		}
		rewritten := r.ModifiedPrompt
		if rewritten == "" {
			rewritten, _ = r.Data["instructions"].(string)
		}
		if rewritten != "" {
			b.log.Debug().Msg("framework instructions rewritten by hook")
			return rewritten
		}
	}
	return instructions
}

// savePrompt snapshots a prompt to the prompts directory when enabled.
func (b *Base) savePrompt(name, prompt string) {
	if !b.savePrompts {
		return
	}
	if err := os.MkdirAll(b.promptsDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(b.promptsDir, "prompt_"+time.Now().Format("20060102_150405")+"_"+name+".txt")
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		b.log.Debug().Err(err).Msg("prompt snapshot failed")
	}
}

// emit ships a lifecycle event when a pool is attached. Never blocks.
func (b *Base) emit(namespace, event string, data map[string]any) {
	if b.pool == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = b.state.SessionID
	b.pool.EmitEvent(namespace, event, data)
}

// Cleanup persists the session log, creates tickets in the external
// store, and fires the submit hook with session stats. Every step is
// isolated: a failure logs and moves on.
func (b *Base) Cleanup() {
	b.state.mu.Lock()
	ended := !b.state.End.IsZero()
	b.state.mu.Unlock()
	if ended {
		return
	}

	if path, err := b.state.Persist(b.sessionsDir); err != nil {
		b.log.Warn().Err(err).Msg("session log not persisted")
	} else {
		b.log.Info().Str("path", path).Msg("session log saved")
	}

	created := 0
	if b.ticketCreation {
		b.state.mu.Lock()
		extracted := make([]tickets.Ticket, len(b.state.TicketsExtracted))
		copy(extracted, b.state.TicketsExtracted)
		b.state.mu.Unlock()

		for _, t := range extracted {
			if _, err := b.store.CreateTicket(t.Title, t.Type, t.Description, "claude-mpm"); err != nil {
				b.log.Warn().Err(err).Str("title", t.Title).Msg("ticket creation failed")
				continue
			}
			created++
		}
	}

	if b.hooks != nil {
		b.hooks.Submit(context.Background(), map[string]any{
			"session_type":    b.state.SessionType,
			"duration_s":      time.Since(b.state.Start).Seconds(),
			"tickets_created": created,
		})
	}

	b.emit("/session", "session_end", map[string]any{
		"session_type":    b.state.SessionType,
		"tickets_created": created,
	})
}
