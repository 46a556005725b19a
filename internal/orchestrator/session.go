package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mpm/internal/delegation"
	"mpm/internal/tickets"
)

// Interaction is one logged session event.
type Interaction struct {
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState accumulates everything that happened in one session. It
// is owned by exactly one orchestrator; methods are safe for the fan-out
// workers to call concurrently.
type SessionState struct {
	mu sync.Mutex

	SessionID        string
	SessionType      string
	Start            time.Time
	End              time.Time
	Interactions     []Interaction
	TicketsExtracted []tickets.Ticket
	Delegations      []delegation.Delegation
}

// NewSessionState starts a session of the given type.
func NewSessionState(id, sessionType string) *SessionState {
	return &SessionState{
		SessionID:   id,
		SessionType: sessionType,
		Start:       time.Now(),
	}
}

// LogInteraction appends one interaction.
func (s *SessionState) LogInteraction(kind, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Interactions = append(s.Interactions, Interaction{
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// AddTickets appends extracted tickets.
func (s *SessionState) AddTickets(ts []tickets.Ticket) {
	if len(ts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TicketsExtracted = append(s.TicketsExtracted, ts...)
}

// AddDelegations appends executed delegations.
func (s *SessionState) AddDelegations(ds []delegation.Delegation) {
	if len(ds) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Delegations = append(s.Delegations, ds...)
}

// Summary is the end-of-session report printed to the user.
type Summary struct {
	TicketCounts     map[tickets.Type]int `json:"ticket_counts"`
	DelegationCounts map[string]int       `json:"delegation_counts"`
	Duration         time.Duration        `json:"duration"`
}

// Summary computes per-type ticket counts and per-agent delegation
// counts.
func (s *SessionState) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		TicketCounts:     make(map[tickets.Type]int),
		DelegationCounts: make(map[string]int),
	}
	for _, t := range s.TicketsExtracted {
		sum.TicketCounts[t.Type]++
	}
	for _, d := range s.Delegations {
		sum.DelegationCounts[d.Agent]++
	}
	end := s.End
	if end.IsZero() {
		end = time.Now()
	}
	sum.Duration = end.Sub(s.Start)
	return sum
}

type sessionLog struct {
	Orchestrator     string                  `json:"orchestrator"`
	SessionID        string                  `json:"session_id"`
	SessionStart     time.Time               `json:"session_start"`
	SessionEnd       time.Time               `json:"session_end"`
	Interactions     []Interaction           `json:"interactions"`
	TicketsExtracted []tickets.Ticket        `json:"tickets_extracted"`
	Delegations      []delegation.Delegation `json:"delegations,omitempty"`
}

// Persist writes the session log JSON into dir as
// session_<yyyymmdd_hhmmss>.json and returns the path.
func (s *SessionState) Persist(dir string) (string, error) {
	s.mu.Lock()
	if s.End.IsZero() {
		s.End = time.Now()
	}
	entry := sessionLog{
		Orchestrator:     s.SessionType,
		SessionID:        s.SessionID,
		SessionStart:     s.Start,
		SessionEnd:       s.End,
		Interactions:     s.Interactions,
		TicketsExtracted: s.TicketsExtracted,
		Delegations:      s.Delegations,
	}
	s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "session_"+entry.SessionStart.Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
