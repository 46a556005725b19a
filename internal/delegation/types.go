// Package delegation detects agent-spawn requests in free-form text and
// converts TODO items into delegations for subprocess execution.
package delegation

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Source identifies where a delegation came from.
type Source string

// Delegation sources.
const (
	SourceDetectorMarkdown Source = "detector-markdown"
	SourceDetectorTaskTool Source = "detector-tasktool"
	SourceTodoHijacker     Source = "todo-hijacker"
	SourcePMTicket         Source = "pm-ticket"
)

// Delegation is a structured request to spawn an agent subprocess.
// Consumed exactly once by the fan-out executor.
type Delegation struct {
	Agent      string         `json:"agent"`
	Task       string         `json:"task"`
	Source     Source         `json:"source"`
	Confidence float64        `json:"confidence"`
	Priority   string         `json:"priority,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	TodoID     string         `json:"todo_id,omitempty"`
	TicketType string         `json:"ticket_type,omitempty"`
	Format     string         `json:"format,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"` // unknown fields preserved for hook pass-through
}

// Valid reports whether the delegation satisfies the basic invariants:
// a canonical agent name and a non-empty task.
func (d *Delegation) Valid() bool {
	return IsCanonicalAgent(d.Agent) && strings.TrimSpace(d.Task) != ""
}

// TodoItem is a filesystem-sourced work request from the TODO inbox.
type TodoItem struct {
	ID          string         `json:"id,omitempty"`
	Content     string         `json:"content,omitempty"`
	Task        string         `json:"task,omitempty"`
	Description string         `json:"description,omitempty"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body,omitempty"`
	Status      string         `json:"status,omitempty"`
	Done        bool           `json:"done,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskText resolves the item's task text from its alternative fields.
func (t *TodoItem) TaskText() string {
	for _, s := range []string{t.Content, t.Task, t.Description} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if strings.TrimSpace(t.Title) != "" {
		combined := strings.TrimSpace(t.Title)
		if strings.TrimSpace(t.Body) != "" {
			combined += " " + strings.TrimSpace(t.Body)
		}
		return combined
	}
	return ""
}

// Completed reports whether the item should be dropped.
func (t *TodoItem) Completed() bool {
	return t.Done || strings.EqualFold(t.Status, "completed")
}

// EffectiveID returns the item's ID, deriving one from the content hash
// and timestamp when absent.
func (t *TodoItem) EffectiveID() string {
	if t.ID != "" {
		return t.ID
	}
	h := fnv.New32a()
	h.Write([]byte(t.TaskText()))

	ts := t.CreatedAt
	if ts == "" {
		ts = t.Timestamp
	}
	if ts == "" {
		ts = strconv.FormatInt(time.Now().Unix(), 10)
	}
	return fmt.Sprintf("%08x-%s", h.Sum32(), ts)
}

// EffectiveLabels returns labels, falling back to tags.
func (t *TodoItem) EffectiveLabels() []string {
	if len(t.Labels) > 0 {
		return t.Labels
	}
	return t.Tags
}
