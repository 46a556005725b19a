package tickets

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// LogStore is the fallback Store used when no external ticket system is
// wired in. It logs every ticket and fabricates an ID so cleanup can
// complete unconditionally.
type LogStore struct{}

// NewLogStore creates a logging ticket store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// CreateTicket logs the ticket and returns a synthetic ID.
func (s *LogStore) CreateTicket(title string, ticketType Type, description, source string) (string, error) {
	id := fmt.Sprintf("%s-%d", ticketType, time.Now().UnixMilli())
	log.Info().
		Str("id", id).
		Str("type", string(ticketType)).
		Str("title", title).
		Str("source", source).
		Msg("ticket created")
	return id, nil
}
