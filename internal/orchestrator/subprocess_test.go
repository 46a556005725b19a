package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm/internal/claude"
	"mpm/internal/config"
	"mpm/internal/delegation"
	"mpm/internal/hooks"
	"mpm/internal/tickets"
)

// fakeCLI scripts Oneshot responses: the first call gets pm, later
// calls are answered per-agent by matching the prompt.
type fakeCLI struct {
	mu       sync.Mutex
	calls    []string
	pmOut    string
	agentOut map[string]string // substring of prompt -> stdout
	failFor  string            // prompt substring that gets exit code 1
	errFor   string            // prompt substring that returns an error
}

func (f *fakeCLI) Oneshot(ctx context.Context, opts claude.LaunchOptions, stdin string) (*claude.OneshotResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stdin)
	first := len(f.calls) == 1
	f.mu.Unlock()

	if f.errFor != "" && strings.Contains(stdin, f.errFor) {
		return nil, errors.New("spawn failed")
	}
	if f.failFor != "" && strings.Contains(stdin, f.failFor) {
		return &claude.OneshotResult{Stdout: "partial", Stderr: "boom", ExitCode: 1}, nil
	}
	if first {
		return &claude.OneshotResult{Stdout: f.pmOut}, nil
	}
	for sub, out := range f.agentOut {
		if strings.Contains(stdin, sub) {
			return &claude.OneshotResult{Stdout: out}, nil
		}
	}
	return &claude.OneshotResult{Stdout: "done"}, nil
}

func (f *fakeCLI) Launch(opts claude.LaunchOptions) (int, string, error) {
	return 0, "", nil
}

func (f *fakeCLI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memStore struct {
	mu      sync.Mutex
	created []tickets.Ticket
	fail    bool
}

func (s *memStore) CreateTicket(title string, ticketType tickets.Type, description, source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("store down")
	}
	s.created = append(s.created, tickets.Ticket{Title: title, Type: ticketType, Description: description})
	return "T-1", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Orchestrator.Subprocess = true
	cfg.Orchestrator.TicketCreation = true
	cfg.Sessions.Dir = filepath.Join(t.TempDir(), "sessions")
	cfg.Sessions.PromptsDir = filepath.Join(t.TempDir(), "prompts")
	return cfg
}

func TestSubprocessFullFlow(t *testing.T) {
	cli := &fakeCLI{
		pmOut: "Here is the plan.\n\n" +
			"**Engineer**: Implement login endpoint\n\n" +
			"**QA**: Write unit tests for login\n\n" +
			"TODO: update the deployment guide\n",
		agentOut: map[string]string{
			"Implement login endpoint":  "Implemented.\nBUG: session cookie not httponly",
			"Write unit tests for login": "All tests written and passing.",
		},
	}
	store := &memStore{}
	var out bytes.Buffer

	cfg := testConfig(t)
	o := NewSubprocess(cfg, Deps{CLI: cli, Store: store, Out: &out}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("build a login feature"))

	// PM call plus one call per delegation.
	assert.Equal(t, 3, cli.callCount())

	text := out.String()
	assert.Contains(t, text, "Here is the plan.")
	assert.Contains(t, text, "⏺ Task(")
	assert.Contains(t, text, "### engineer Agent")
	assert.Contains(t, text, "### qa Agent")
	assert.Contains(t, text, "All tests written and passing.")

	// Tickets from the PM output and the agent output both land in the
	// store during cleanup.
	store.mu.Lock()
	titles := make([]string, 0, len(store.created))
	for _, tk := range store.created {
		titles = append(titles, tk.Title)
	}
	store.mu.Unlock()
	assert.Contains(t, titles, "update the deployment guide")
	assert.Contains(t, titles, "session cookie not httponly")

	sum := o.Summary()
	assert.Equal(t, 1, sum.DelegationCounts[delegation.AgentEngineer])
	assert.Equal(t, 1, sum.DelegationCounts[delegation.AgentQA])

	// Session log persisted.
	entries, err := os.ReadDir(cfg.Sessions.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(cfg.Sessions.Dir, entries[0].Name()))
	require.NoError(t, err)
	var logged map[string]any
	require.NoError(t, json.Unmarshal(data, &logged))
	assert.Equal(t, "subprocess", logged["orchestrator"])
	assert.NotEmpty(t, logged["interactions"])
}

func TestSubprocessAgentFailure(t *testing.T) {
	cli := &fakeCLI{
		pmOut:   "**Engineer**: Implement login endpoint\n",
		failFor: "Implement login endpoint",
	}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{CLI: cli, Out: &out}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("build it"))

	assert.Contains(t, out.String(), "failed")
	assert.Contains(t, out.String(), "boom")
}

func TestSubprocessSpawnErrorIsFailedResult(t *testing.T) {
	cli := &fakeCLI{
		pmOut:  "**Engineer**: Implement login endpoint\n",
		errFor: "Implement login endpoint",
	}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{CLI: cli, Out: &out}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("build it"))
	assert.Contains(t, out.String(), "spawn failed")
}

func TestSubprocessNoDelegations(t *testing.T) {
	cli := &fakeCLI{pmOut: "Nothing to delegate here."}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{CLI: cli, Out: &out}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("hi"))

	assert.Equal(t, 1, cli.callCount())
	assert.NotContains(t, out.String(), "⏺ Task(")
}

func TestObservabilityFailuresDoNotAbort(t *testing.T) {
	// Dead hook endpoint, failing ticket store: the run still completes.
	cli := &fakeCLI{pmOut: "**QA**: Write unit tests\n\nTODO: document the API\n"}
	store := &memStore{fail: true}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{
		CLI:   cli,
		Store: store,
		Out:   &out,
		Hooks: hooks.NewClient("http://127.0.0.1:1", time.Second),
	}, nil, nil, false)

	require.NoError(t, o.RunNonInteractive("test the feature"))
	assert.Contains(t, out.String(), "### qa Agent")
}

func TestPreDelegationTaskRewrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["hook_type"] == "pre_delegation" {
			if meta, _ := req["metadata"].(map[string]any); meta != nil && meta["agent"] == "engineer" {
				json.NewEncoder(w).Encode(map[string]any{
					"status": "ok",
					"results": []map[string]any{
						{"success": true, "modified": true, "data": map[string]any{"task": "Implement login endpoint with MFA"}},
					},
				})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	cli := &fakeCLI{pmOut: "**Engineer**: Implement login endpoint\n"}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{
		CLI:   cli,
		Out:   &out,
		Hooks: hooks.NewClient(srv.URL, time.Second),
	}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("build it"))

	// The rewritten task shows up in the agent prompt and the summary
	// block.
	cli.mu.Lock()
	agentPrompt := cli.calls[1]
	cli.mu.Unlock()
	assert.Contains(t, agentPrompt, "Implement login endpoint with MFA")
	assert.Contains(t, out.String(), "Implement login endpoint with MFA")
}

func TestPostDelegationTicketsAreNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["hook_type"] == "post_delegation" {
			json.NewEncoder(w).Encode(map[string]any{
				"status": "ok",
				"results": []map[string]any{
					{"success": true, "tickets": []map[string]any{
						{"type": "task", "title": "follow up on coverage"},
					}},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	cli := &fakeCLI{pmOut: "**QA**: Write unit tests\n"}
	store := &memStore{}
	var out bytes.Buffer

	o := NewSubprocess(testConfig(t), Deps{
		CLI:   cli,
		Store: store,
		Out:   &out,
		Hooks: hooks.NewClient(srv.URL, time.Second),
	}, nil, nil, false)
	require.NoError(t, o.RunNonInteractive("test it"))

	// Hook-injected tickets go through the extractor, so they reach the
	// session log normalized: label defaulted, timestamp set.
	o.state.mu.Lock()
	var injected *tickets.Ticket
	for i := range o.state.TicketsExtracted {
		if o.state.TicketsExtracted[i].Title == "follow up on coverage" {
			injected = &o.state.TicketsExtracted[i]
		}
	}
	o.state.mu.Unlock()
	require.NotNil(t, injected)
	assert.Equal(t, tickets.TypeTask, injected.Type)
	assert.Equal(t, "task", injected.Label)
	assert.False(t, injected.ExtractedAt.IsZero())

	// And they are created in the store during cleanup.
	store.mu.Lock()
	defer store.mu.Unlock()
	titles := make([]string, 0, len(store.created))
	for _, tk := range store.created {
		titles = append(titles, tk.Title)
	}
	assert.Contains(t, titles, "follow up on coverage")
}

type fakeHijacker struct {
	mu        sync.Mutex
	running   bool
	pending   []delegation.Delegation
	completed []string
}

func (f *fakeHijacker) StartMonitoring() error { f.mu.Lock(); f.running = true; f.mu.Unlock(); return nil }
func (f *fakeHijacker) StopMonitoring()        { f.mu.Lock(); f.running = false; f.mu.Unlock() }
func (f *fakeHijacker) GetPendingDelegations() []delegation.Delegation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}
func (f *fakeHijacker) MarkDelegationCompleted(d delegation.Delegation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, d.TodoID)
}

func TestSubprocessDrainsHijacker(t *testing.T) {
	hij := &fakeHijacker{pending: []delegation.Delegation{{
		Agent:  delegation.AgentOps,
		Task:   "deploy to staging",
		Source: delegation.SourceTodoHijacker,
		TodoID: "t1",
	}}}
	cli := &fakeCLI{pmOut: "No markdown delegations."}
	var out bytes.Buffer

	cfg := testConfig(t)
	cfg.Orchestrator.EnableTodoHijacking = true
	o := NewSubprocess(cfg, Deps{CLI: cli, Out: &out}, hij, nil, false)
	require.NoError(t, o.RunNonInteractive("whatever"))

	assert.Contains(t, out.String(), "### ops Agent")
	hij.mu.Lock()
	defer hij.mu.Unlock()
	assert.Equal(t, []string{"t1"}, hij.completed)
	assert.False(t, hij.running)
}

func TestBuildAgentPromptShape(t *testing.T) {
	o := NewSubprocess(testConfig(t), Deps{CLI: &fakeCLI{}}, nil, nil, false)
	prompt := o.buildAgentPrompt("qa", "write unit tests")

	assert.True(t, strings.HasPrefix(prompt, "You are the QA Agent in the Claude PM Framework."))
	assert.Contains(t, prompt, "## Current Task\nwrite unit tests")
	assert.Contains(t, prompt, "## Response Format")
	assert.Contains(t, prompt, "Remember: You are an autonomous agent.")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "QA", displayName("qa"))
	assert.Equal(t, "Engineer", displayName("engineer"))
	assert.Equal(t, "Data-Engineer", displayName("data-engineer"))
}
