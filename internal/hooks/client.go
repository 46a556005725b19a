// Package hooks is a synchronous HTTP client for the external hook
// service. Hook calls never raise: any transport failure yields an empty
// result list so the orchestrator's main path keeps moving.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mpm/internal/tickets"
	"mpm/pkg/logger"
)

// Stage identifies a hook invocation point. The set is closed.
type Stage string

const (
	StageSubmit           Stage = "submit"
	StagePreDelegation    Stage = "pre_delegation"
	StagePostDelegation   Stage = "post_delegation"
	StageTicketExtraction Stage = "ticket_extraction"
)

const (
	maxAttempts    = 3
	backoffBase    = time.Second
	defaultTimeout = 30 * time.Second
)

// Result is one hook's outcome within an execute response. Modified
// flags that the hook rewrote something: the rewritten values live in
// Data (or ModifiedPrompt for whole-prompt rewrites).
type Result struct {
	HookName       string           `json:"hook_name,omitempty"`
	Success        bool             `json:"success"`
	Data           map[string]any   `json:"data,omitempty"`
	Tickets        []map[string]any `json:"tickets,omitempty"`
	Modified       bool             `json:"modified,omitempty"`
	ModifiedPrompt string           `json:"modified_prompt,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// HealthStatus is the hook service's health response.
type HealthStatus struct {
	Status    string `json:"status"`
	HookCount int    `json:"hook_count,omitempty"`
}

// HookInfo describes one registered hook in a list response.
type HookInfo struct {
	Name     string `json:"name"`
	Priority int    `json:"priority,omitempty"`
}

type executeRequest struct {
	HookType Stage          `json:"hook_type"`
	Context  map[string]any `json:"context"`
	Metadata map[string]any `json:"metadata,omitempty"`
	HookName string         `json:"hook_name,omitempty"`
}

type executeResponse struct {
	Status  string   `json:"status"`
	Results []Result `json:"results,omitempty"`
}

// Client talks to one hook service endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a hook client for the given base URL. A zero timeout
// gets the 30 second default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Health checks service availability.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hook service health returned %d", resp.StatusCode)
	}

	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

// ListHooks returns the registered hooks grouped by stage.
func (c *Client) ListHooks(ctx context.Context) (map[Stage][]HookInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/hooks/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hook list returned %d", resp.StatusCode)
	}

	var body struct {
		Hooks map[Stage][]HookInfo `json:"hooks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Hooks, nil
}

// Execute runs every hook registered for a stage. Transport failures and
// non-2xx terminal responses come back as an empty result list, never an
// error to the caller.
func (c *Client) Execute(ctx context.Context, stage Stage, hookCtx, metadata map[string]any) []Result {
	log := logger.ForComponent("hooks")

	payload, err := json.Marshal(executeRequest{
		HookType: stage,
		Context:  hookCtx,
		Metadata: metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("stage", string(stage)).Msg("hook request marshal failed")
		return nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		results, retry, err := c.executeOnce(ctx, payload)
		if err == nil {
			return results
		}
		if !retry || attempt == maxAttempts {
			log.Warn().Err(err).Str("stage", string(stage)).Msg("hook execution failed, continuing without results")
			return nil
		}

		delay := backoffBase << (attempt - 1)
		log.Debug().
			Err(err).
			Str("stage", string(stage)).
			Dur("backoff", delay).
			Msg("retrying hook execution")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (c *Client) executeOnce(ctx context.Context, payload []byte) (results []Result, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hooks/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection errors are terminal: the service is likely down.
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("hook service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("hook service returned %d", resp.StatusCode)
	}

	var body executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, err
	}
	return body.Results, false, nil
}

// Submit fires the submit stage with the user's prompt.
func (c *Client) Submit(ctx context.Context, hookCtx map[string]any) []Result {
	return c.Execute(ctx, StageSubmit, hookCtx, nil)
}

// PreDelegation fires before an agent subprocess runs.
func (c *Client) PreDelegation(ctx context.Context, agent string, hookCtx map[string]any) []Result {
	meta := map[string]any{"agent": agent}
	return c.Execute(ctx, StagePreDelegation, hookCtx, meta)
}

// PostDelegation fires after an agent subprocess finishes.
func (c *Client) PostDelegation(ctx context.Context, agent string, hookCtx map[string]any) []Result {
	meta := map[string]any{"agent": agent}
	return c.Execute(ctx, StagePostDelegation, hookCtx, meta)
}

// TicketExtraction fires for each processed output line.
func (c *Client) TicketExtraction(ctx context.Context, hookCtx map[string]any) []Result {
	return c.Execute(ctx, StageTicketExtraction, hookCtx, nil)
}

// MergedData merges every result's data into one map, later results
// winning on key conflicts.
func MergedData(results []Result) map[string]any {
	merged := make(map[string]any)
	for _, r := range results {
		for k, v := range r.Data {
			merged[k] = v
		}
	}
	return merged
}

// RewrittenTask returns the first modified task across the results.
// First writer wins.
func RewrittenTask(results []Result) (string, bool) {
	for _, r := range results {
		if !r.Modified {
			continue
		}
		if task, ok := r.Data["task"].(string); ok && task != "" {
			return task, true
		}
	}
	return "", false
}

// ExtractedTickets flattens ticket lists out of hook results, both the
// result-level tickets field and data.tickets.
func ExtractedTickets(results []Result) []tickets.Ticket {
	var out []tickets.Ticket
	for _, r := range results {
		items := r.Tickets
		if list, ok := r.Data["tickets"].([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					items = append(items, m)
				}
			}
		}
		for _, m := range items {
			t := tickets.Ticket{
				Type:        tickets.Type(str(m["type"])),
				Title:       str(m["title"]),
				Label:       str(m["label"]),
				Description: str(m["description"]),
			}
			if t.Title == "" || t.Type == "" {
				continue
			}
			if t.Label == "" {
				t.Label = string(t.Type)
			}
			out = append(out, t)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
