package delegation

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mpm/internal/tickets"
)

// minConfidence is the floor below which a TODO is not worth delegating.
const minConfidence = 0.1

// Transformer maps TODO items and PM tickets to delegations via weighted
// keyword matching over the agent-keyword table.
type Transformer struct{}

// NewTransformer creates a transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform converts a single TODO item to a delegation. It returns nil
// when the item has no task text, is completed, or scores below the
// confidence floor.
func (t *Transformer) Transform(item *TodoItem) *Delegation {
	if item == nil || item.Completed() {
		return nil
	}

	task := item.TaskText()
	if task == "" {
		return nil
	}

	agent, score, ok := BestAgent(task)
	if !ok {
		log.Debug().Str("todo_id", item.EffectiveID()).Msg("no keyword match for todo, dropping")
		return nil
	}

	confidence := score
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < minConfidence {
		log.Debug().
			Str("todo_id", item.EffectiveID()).
			Float64("confidence", confidence).
			Msg("todo confidence below threshold, dropping")
		return nil
	}

	return &Delegation{
		Agent:      agent,
		Task:       task,
		Source:     SourceTodoHijacker,
		Confidence: confidence,
		Priority:   item.Priority,
		Labels:     item.EffectiveLabels(),
		TodoID:     item.EffectiveID(),
		Timestamp:  time.Now(),
		Metadata:   item.Metadata,
	}
}

// ticketTypeAgents maps explicit PM ticket types to agents.
var ticketTypeAgents = map[string]string{
	"feature":        AgentEngineer,
	"bug":            AgentEngineer,
	"test":           AgentQA,
	"docs":           AgentDocumentation,
	"documentation":  AgentDocumentation,
	"research":       AgentResearch,
	"security":       AgentSecurity,
	"deployment":     AgentOps,
	"infrastructure": AgentOps,
	"data":           AgentDataEngineer,
}

// TransformPMTicket converts an extracted PM ticket into a delegation.
// An explicit type match yields confidence 0.8; otherwise keyword scoring
// applies with the usual floor.
func (t *Transformer) TransformPMTicket(ticket tickets.Ticket) *Delegation {
	task := strings.TrimSpace(ticket.Title)
	if task == "" {
		return nil
	}
	if ticket.Description != "" {
		task += ": " + ticket.Description
	}

	if agent, ok := ticketTypeAgents[strings.ToLower(string(ticket.Type))]; ok {
		return &Delegation{
			Agent:      agent,
			Task:       task,
			Source:     SourcePMTicket,
			Confidence: 0.8,
			TicketType: string(ticket.Type),
			Timestamp:  time.Now(),
		}
	}

	agent, score, ok := BestAgent(task)
	if !ok || score < minConfidence {
		return nil
	}
	if score > 1.0 {
		score = 1.0
	}
	return &Delegation{
		Agent:      agent,
		Task:       task,
		Source:     SourcePMTicket,
		Confidence: score,
		TicketType: string(ticket.Type),
		Timestamp:  time.Now(),
	}
}
