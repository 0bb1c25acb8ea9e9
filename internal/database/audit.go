package database

import (
	"time"

	"github.com/rs/zerolog"
)

// EngineCall is one recorded round trip to the allocation engine.
type EngineCall struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Stage     int    `json:"stage"`
	Outcome   string `json:"outcome"` // "success" or "error"
	Message   string `json:"message"`
	ElapsedMs int64  `json:"elapsed_ms"`
	CreatedAt string `json:"created_at"`
}

// AuditRepository records engine round trips for debugging and ops. It is
// intentionally fire-and-forget: a failed insert is logged, never surfaced
// into the simulation workflow.
type AuditRepository struct {
	db  *DB
	log zerolog.Logger
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *DB, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: log.With().Str("repository", "audit").Logger(),
	}
}

// RecordEngineCall inserts one engine-call record.
func (r *AuditRepository) RecordEngineCall(sessionID string, stage int, outcome string, message string, elapsed time.Duration) {
	_, err := r.db.Exec(`
		INSERT INTO engine_calls (session_id, stage, outcome, message, elapsed_ms)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, stage, outcome, message, elapsed.Milliseconds(),
	)
	if err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to record engine call")
	}
}

// RecentCalls returns the latest engine calls for a session, newest first.
func (r *AuditRepository) RecentCalls(sessionID string, limit int) ([]EngineCall, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, stage, outcome, message, elapsed_ms, created_at
		FROM engine_calls
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []EngineCall
	for rows.Next() {
		var c EngineCall
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Stage, &c.Outcome, &c.Message, &c.ElapsedMs, &c.CreatedAt); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
