package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mpm/internal/claude"
	"mpm/internal/config"
	"mpm/internal/delegation"
	"mpm/internal/framework"
	"mpm/internal/hooks"
	"mpm/internal/skills"
	"mpm/internal/tickets"
)

// settleDelay lets late TODO files land after the PM run returns.
const settleDelay = 500 * time.Millisecond

// AgentResult is the outcome of one agent subprocess.
type AgentResult struct {
	Agent         string        `json:"agent"`
	Task          string        `json:"task"`
	Response      string        `json:"response"`
	ExecutionTime time.Duration `json:"execution_time"`
	Tokens        int           `json:"tokens"`
	Status        string        `json:"status"` // completed or failed
}

// Subprocess runs the PM as a one-shot subprocess, detects delegations
// in its output, and fans agent subprocesses out over a worker pool.
type Subprocess struct {
	*Base
	interactive bool
	hijack      bool
	hij         Hijacker
	skills      *skills.Manager
	workers     int
}

// Hijacker is the subset of the TODO hijacker the strategy drives.
type Hijacker interface {
	StartMonitoring() error
	StopMonitoring()
	GetPendingDelegations() []delegation.Delegation
	MarkDelegationCompleted(delegation.Delegation)
}

// NewSubprocess creates the strategy. hij and sk may be nil.
func NewSubprocess(cfg *config.Config, deps Deps, hij Hijacker, sk *skills.Manager, interactive bool) *Subprocess {
	sessionType := "subprocess"
	if interactive {
		sessionType = "interactive_subprocess"
	}
	return &Subprocess{
		Base:        newBase(cfg, sessionType, deps),
		interactive: interactive,
		hijack:      cfg.Orchestrator.EnableTodoHijacking && hij != nil,
		hij:         hij,
		skills:      sk,
		workers:     cfg.Orchestrator.GetWorkers(),
	}
}

func (o *Subprocess) launchOptions() claude.LaunchOptions {
	return claude.LaunchOptions{
		Model:           o.cfg.Claude.Model,
		SkipPermissions: o.cfg.Claude.SkipPermissions,
		UseStdin:        o.cfg.Claude.UseStdin,
	}
}

// RunNonInteractive executes the full PM-then-fan-out flow for one
// input.
func (o *Subprocess) RunNonInteractive(input string) error {
	defer o.Cleanup()

	if o.hooks != nil {
		o.hooks.Submit(context.Background(), map[string]any{"prompt": input})
	}
	o.emit("/session", "session_start", map[string]any{"session_type": o.state.SessionType})
	o.LogInteraction("user_input", input)

	if o.hijack {
		if err := o.hij.StartMonitoring(); err != nil {
			o.log.Warn().Err(err).Msg("todo hijacker unavailable")
			o.hijack = false
		} else {
			defer o.hij.StopMonitoring()
		}
	}

	pmOut, err := o.runPM(input)
	if err != nil {
		return err
	}

	fmt.Fprintln(o.out, pmOut)
	o.LogInteraction("pm_response", pmOut)
	processLines(o.Base, pmOut)

	delegations := o.detector.Detect(pmOut)
	if o.hijack {
		time.Sleep(settleDelay)
		delegations = append(delegations, o.hij.GetPendingDelegations()...)
	}

	if len(delegations) == 0 {
		o.log.Info().Msg("no delegations detected")
		return nil
	}
	o.state.AddDelegations(delegations)

	results := o.fanOut(delegations)
	for _, r := range results {
		o.printResult(r)
		processLines(o.Base, r.Response)
		o.LogInteraction("agent_response", fmt.Sprintf("[%s] %s", r.Agent, r.Response))
	}
	return nil
}

// runPM runs the PM one-shot with the compact delegation framework.
func (o *Subprocess) runPM(input string) (string, error) {
	prompt := framework.DelegationFramework + "\n## User Request\n\n" + input
	o.savePrompt("pm", prompt)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Claude.GetPMTimeout())
	defer cancel()

	o.emit("/agents", "pm_start", nil)
	res, err := o.cli.Oneshot(ctx, o.launchOptions(), prompt)
	if err != nil {
		o.emit("/errors", "pm_failed", map[string]any{"error": err.Error()})
		return "", fmt.Errorf("pm invocation failed: %w", err)
	}
	o.emit("/agents", "pm_end", map[string]any{"exit_code": res.ExitCode, "timed_out": res.TimedOut})

	if res.TimedOut {
		o.log.Warn().Msg("pm run timed out, continuing with partial output")
	}
	return res.Stdout, nil
}

// fanOut runs every delegation over a bounded worker pool and returns
// results in completion order.
func (o *Subprocess) fanOut(delegations []delegation.Delegation) []AgentResult {
	jobs := make(chan delegation.Delegation)
	results := make(chan AgentResult)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				results <- o.runAgent(d)
			}
		}()
	}

	go func() {
		for _, d := range delegations {
			jobs <- d
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	out := make([]AgentResult, 0, len(delegations))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// runAgent executes one delegation end to end: pre hook, agent prompt,
// one-shot run, post hook, audit record.
func (o *Subprocess) runAgent(d delegation.Delegation) AgentResult {
	task := d.Task

	if o.hooks != nil {
		results := o.hooks.PreDelegation(context.Background(), d.Agent, map[string]any{"task": task})
		if rewritten, ok := hooks.RewrittenTask(results); ok {
			task = rewritten
		}
	}

	prompt := o.buildAgentPrompt(d.Agent, task)
	o.savePrompt("agent_"+d.Agent, prompt)

	var trackID string
	if o.tracker != nil {
		if id, err := o.tracker.Start(o.state.SessionID, d); err == nil {
			trackID = id
		}
	}
	o.emit("/agents", "agent_start", map[string]any{"agent": d.Agent, "source": string(d.Source)})

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Claude.GetAgentTimeout())
	defer cancel()

	start := time.Now()
	res, err := o.cli.Oneshot(ctx, o.launchOptions(), prompt)
	elapsed := time.Since(start)

	result := AgentResult{
		Agent:         d.Agent,
		Task:          task,
		ExecutionTime: elapsed,
		Status:        "completed",
	}
	switch {
	case err != nil:
		result.Status = "failed"
		result.Response = err.Error()
	case res.TimedOut:
		result.Status = "failed"
		result.Response = fmt.Sprintf("agent timed out after %s\n%s", elapsed.Round(time.Second), res.Stdout)
	case res.ExitCode != 0:
		result.Status = "failed"
		result.Response = strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	default:
		result.Response = res.Stdout
	}
	result.Tokens = (len(prompt) + len(result.Response)) / 4

	if o.hooks != nil {
		post := o.hooks.PostDelegation(context.Background(), d.Agent, map[string]any{
			"task":           task,
			"response":       result.Response,
			"execution_time": elapsed.Seconds(),
			"tokens":         result.Tokens,
		})
		for _, t := range hooks.ExtractedTickets(post) {
			if filled, ok := o.extractor.AddTicket(t); ok {
				o.state.AddTickets([]tickets.Ticket{filled})
			}
		}
	}

	if o.tracker != nil && trackID != "" {
		var errMsg *string
		if result.Status == "failed" {
			msg := result.Response
			errMsg = &msg
		}
		o.tracker.Complete(trackID, result.Status, len(result.Response), result.Tokens, errMsg)
	}
	if o.hijack && d.TodoID != "" {
		o.hij.MarkDelegationCompleted(d)
	}
	o.emit("/agents", "agent_end", map[string]any{
		"agent":  d.Agent,
		"status": result.Status,
		"tokens": result.Tokens,
	})

	return result
}

const responseFormat = `Provide your response as:
1. A summary of the work performed
2. Concrete results or artifacts produced
3. Any problems encountered
4. Suggested follow-up tasks, if any`

// buildAgentPrompt assembles the full agent prompt from the framework
// definition, the skills overlay, and the task.
func (o *Subprocess) buildAgentPrompt(agent, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s Agent in the Claude PM Framework.\n\n", displayName(agent))

	if def, ok := o.loader.Load().AgentDefinition(agent); ok {
		b.WriteString(strings.TrimSpace(def))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## Current Task\n%s\n\n## Response Format\n%s\n\n", task, responseFormat)
	b.WriteString("Remember: You are an autonomous agent. Complete the task independently and report results.")

	if o.skills != nil {
		return o.skills.EnhanceAgentPrompt(agent, b.String(), false)
	}
	return b.String()
}

// displayName renders a canonical agent id for prose ("data-engineer"
// becomes "Data-Engineer", "qa" becomes "QA").
func displayName(agent string) string {
	if agent == delegation.AgentQA {
		return "QA"
	}
	parts := strings.Split(agent, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// printResult emits the Task-tool-styled block for one agent run.
func (o *Subprocess) printResult(r AgentResult) {
	prefix := r.Task
	if len(prefix) > 40 {
		prefix = prefix[:40] + "…"
	}
	fmt.Fprintf(o.out, "\n⏺ Task(%s)\n", prefix)
	fmt.Fprintf(o.out, "  ⎿ %d tokens · %.1fs · %s\n", r.Tokens, r.ExecutionTime.Seconds(), r.Status)
	fmt.Fprintf(o.out, "\n### %s Agent\n%s\n", r.Agent, strings.TrimSpace(r.Response))
}

// RunInteractive is the best-effort interactive variant: the CLI runs
// with the delegation framework injected as a system prompt, and the
// scrollback is processed after the session ends.
func (o *Subprocess) RunInteractive() error {
	defer o.Cleanup()

	if o.hijack {
		if err := o.hij.StartMonitoring(); err != nil {
			o.log.Warn().Err(err).Msg("todo hijacker unavailable")
			o.hijack = false
		} else {
			defer o.hij.StopMonitoring()
		}
	}

	opts := o.launchOptions()
	opts.Mode = claude.ModeSystemPrompt
	opts.SystemPrompt = o.GetFrameworkInstructions()
	opts.SessionID = o.state.SessionID

	o.emit("/session", "session_start", map[string]any{"session_type": o.state.SessionType})
	exitCode, stderr, err := o.cli.Launch(opts)
	if err != nil {
		return err
	}
	o.LogInteraction("session_exit", fmt.Sprintf("exit_code=%d", exitCode))

	// Delegations surfacing between turns cannot be intercepted here;
	// the TODO inbox is the reliable channel in interactive mode.
	if o.hijack {
		time.Sleep(settleDelay)
		pending := o.hij.GetPendingDelegations()
		if len(pending) > 0 {
			o.state.AddDelegations(pending)
			for _, r := range o.fanOut(pending) {
				o.printResult(r)
				processLines(o.Base, r.Response)
			}
		}
	}

	if conv := claude.ParseConversationFile(stderr); conv != "" {
		o.LogInteraction("conversation_file", conv)
	}
	return nil
}
