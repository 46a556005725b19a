// Package tracker persists a per-machine audit log of agent delegations
// in a local sqlite database.
package tracker

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mpm/internal/delegation"
)

const schema = `
CREATE TABLE IF NOT EXISTS delegations (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	agent           TEXT NOT NULL,
	task            TEXT NOT NULL,
	source          TEXT NOT NULL,
	confidence      REAL NOT NULL,
	status          TEXT NOT NULL,
	started_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP,
	response_length INTEGER NOT NULL DEFAULT 0,
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT
);
CREATE INDEX IF NOT EXISTS idx_delegations_session ON delegations(session_id);
CREATE INDEX IF NOT EXISTS idx_delegations_started ON delegations(started_at);
`

// Record is one delegation invocation in the audit log.
type Record struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Agent          string     `json:"agent"`
	Task           string     `json:"task"`
	Source         string     `json:"source"`
	Confidence     float64    `json:"confidence"`
	Status         string     `json:"status"` // running, completed, failed, timeout
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ResponseLength int        `json:"response_length"`
	TokensUsed     int        `json:"tokens_used"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// Tracker records delegation invocations.
type Tracker struct {
	db *sql.DB
}

// Open creates a tracker over the sqlite database at path, creating the
// schema when missing.
func Open(path string) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tracker schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Close releases the database handle.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// GenerateID creates a unique record id for a delegation invocation.
func GenerateID(sessionID, agent string) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("dlg_%s_%s_%d", prefix, agent, time.Now().UnixMilli())
}

// Start records a delegation beginning execution and returns its id.
func (t *Tracker) Start(sessionID string, d delegation.Delegation) (string, error) {
	id := GenerateID(sessionID, d.Agent)
	_, err := t.db.Exec(`
		INSERT INTO delegations
		(id, session_id, agent, task, source, confidence, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, d.Agent, d.Task, string(d.Source), d.Confidence,
		"running", time.Now())
	return id, err
}

// Complete finalizes a delegation record.
func (t *Tracker) Complete(id, status string, responseLength, tokensUsed int, errorMsg *string) error {
	_, err := t.db.Exec(`
		UPDATE delegations
		SET status = ?, completed_at = ?, response_length = ?, tokens_used = ?, error_message = ?
		WHERE id = ?`,
		status, time.Now(), responseLength, tokensUsed, errorMsg, id)
	return err
}

// GetBySession returns every record for one session, oldest first.
func (t *Tracker) GetBySession(sessionID string) ([]Record, error) {
	rows, err := t.db.Query(selectColumns+`
		WHERE session_id = ?
		ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRecent returns the most recent records across sessions, newest
// first. limit is capped at 200 and defaults to 50.
func (t *Tracker) GetRecent(limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := t.db.Query(selectColumns+`
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

const selectColumns = `
	SELECT id, session_id, agent, task, source, confidence, status,
	       started_at, completed_at, response_length, tokens_used, error_message
	FROM delegations`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var completedAt sql.NullTime
		var errorMsg sql.NullString
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Agent, &r.Task, &r.Source, &r.Confidence,
			&r.Status, &r.StartedAt, &completedAt, &r.ResponseLength,
			&r.TokensUsed, &errorMsg)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		if errorMsg.Valid {
			r.ErrorMessage = &errorMsg.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
