// Package tickets extracts tracked work items (TODO/BUG/FEATURE style
// markers) from agent output and hands them to an external ticket store.
package tickets

import "time"

// Type classifies an extracted ticket.
type Type string

// Ticket type constants.
const (
	TypeTask        Type = "task"
	TypeBug         Type = "bug"
	TypeFeature     Type = "feature"
	TypeIssue       Type = "issue"
	TypeEnhancement Type = "enhancement"
)

// Ticket is a single extracted work item.
type Ticket struct {
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Label       string    `json:"label"`    // raw pattern that matched, e.g. "todo"
	RawLine     string    `json:"raw_line"` // original line the ticket came from
	Description string    `json:"description,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Store is the external ticket store consumed by ID. Implementations must
// tolerate being called once per collected ticket at session cleanup.
type Store interface {
	CreateTicket(title string, ticketType Type, description, source string) (string, error)
}
