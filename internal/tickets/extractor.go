package tickets

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ticketPattern matches a work-item marker and captures the label and the
// remainder of the line as the title.
var ticketPattern = regexp.MustCompile(`(?i)\b(todo|bug|feature|fixme|issue|task|enhancement):\s*(.*)$`)

// labelTypes maps a matched label (lowercased) to the ticket type.
var labelTypes = map[string]Type{
	"todo":        TypeTask,
	"task":        TypeTask,
	"fixme":       TypeBug,
	"bug":         TypeBug,
	"feature":     TypeFeature,
	"issue":       TypeIssue,
	"enhancement": TypeEnhancement,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Extractor scans text for ticket markers and accumulates the results.
type Extractor struct {
	mu      sync.Mutex
	tickets []Ticket
}

// NewExtractor creates an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans a single line and returns any ticket found on it.
// A ticket is emitted only when the cleaned title is non-empty.
func (e *Extractor) Extract(line string) []Ticket {
	m := ticketPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	label := strings.ToLower(m[1])
	title := CleanTitle(m[2])
	if title == "" {
		return nil
	}

	t := Ticket{
		Type:        labelTypes[label],
		Title:       title,
		Label:       label,
		RawLine:     line,
		ExtractedAt: time.Now(),
	}

	e.mu.Lock()
	e.tickets = append(e.tickets, t)
	e.mu.Unlock()

	return []Ticket{t}
}

// ExtractText scans a block of text line-by-line. The result is the union
// of Extract over every line, in line order.
func (e *Extractor) ExtractText(text string) []Ticket {
	var out []Ticket
	for _, line := range strings.Split(text, "\n") {
		out = append(out, e.Extract(line)...)
	}
	return out
}

// AddTicket injects a ticket produced outside the extractor (hook results)
// and returns the normalized copy. Entries without a type or title are
// dropped with a warning. A missing label defaults to the type; a missing
// timestamp is filled in.
func (e *Extractor) AddTicket(t Ticket) (Ticket, bool) {
	if t.Type == "" || strings.TrimSpace(t.Title) == "" {
		log.Warn().
			Str("title", t.Title).
			Str("type", string(t.Type)).
			Msg("rejecting injected ticket without type or title")
		return Ticket{}, false
	}
	if t.Label == "" {
		t.Label = string(t.Type)
	}
	if t.ExtractedAt.IsZero() {
		t.ExtractedAt = time.Now()
	}

	e.mu.Lock()
	e.tickets = append(e.tickets, t)
	e.mu.Unlock()
	return t, true
}

// Tickets returns a copy of every ticket collected so far.
func (e *Extractor) Tickets() []Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Ticket, len(e.tickets))
	copy(out, e.tickets)
	return out
}

// Summary returns ticket counts keyed by type.
func (e *Extractor) Summary() map[Type]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	summary := make(map[Type]int)
	for _, t := range e.tickets {
		summary[t.Type]++
	}
	return summary
}

// CleanTitle applies the title cleaning pipeline: strip trailing
// punctuation, remove one pair of wrapping quotes, collapse whitespace.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.TrimRight(title, ".,;:")
	title = strings.TrimSpace(title)

	if len(title) >= 2 {
		first, last := title[0], title[len(title)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			title = title[1 : len(title)-1]
		}
	}

	title = whitespaceRun.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}
