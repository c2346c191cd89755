package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/carecall/internal/model"
)

// CallSessionStore persists the single active Call Session so the console can
// resume mid-call after a restart.
type CallSessionStore struct {
	db *sql.DB
}

func NewCallSessionStore(db *sql.DB) *CallSessionStore {
	return &CallSessionStore{db: db}
}

const callSessionCols = `status, callee_id, callee_name, callee_persona, room_name,
	transport_endpoint, transport_token, started_at, ended_at, poll_deadline, next_poll_at,
	poll_attempts, awaiting_decision, analysis, call_log_id, last_error, generation, updated_at`

func scanCallSession(scanner interface{ Scan(...any) error }) (model.CallSession, error) {
	var s model.CallSession
	var calleeID, calleeName, calleePersona sql.NullString
	var endpoint, token sql.NullString
	var startedAt, endedAt, pollDeadline, nextPollAt sql.NullTime
	var analysis sql.NullString
	var callLogID string

	err := scanner.Scan(
		&s.Status, &calleeID, &calleeName, &calleePersona, &s.RoomName,
		&endpoint, &token, &startedAt, &endedAt, &pollDeadline, &nextPollAt,
		&s.PollAttempts, &s.AwaitingDecision, &analysis, &callLogID, &s.LastError, &s.Generation, &s.UpdatedAt,
	)
	if err != nil {
		return model.CallSession{}, err
	}

	if calleeID.Valid {
		s.Callee = &model.Callee{ID: model.ID(calleeID.String), Name: calleeName.String, Persona: calleePersona.String}
	}
	if endpoint.Valid {
		s.Transport = &model.TransportCredentials{Endpoint: endpoint.String, Token: token.String}
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if pollDeadline.Valid {
		s.PollDeadline = &pollDeadline.Time
	}
	if nextPollAt.Valid {
		s.NextPollAt = &nextPollAt.Time
	}
	if analysis.Valid {
		var a model.Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return model.CallSession{}, fmt.Errorf("decode analysis: %w", err)
		}
		s.Analysis = &a
	}
	s.CallLogID = model.ID(callLogID)
	return s, nil
}

// Load returns the persisted session, or a fresh idle session if none has
// been saved yet.
func (s *CallSessionStore) Load() (model.CallSession, error) {
	row := s.db.QueryRow(`SELECT ` + callSessionCols + ` FROM call_session WHERE id = 1`)
	cs, err := scanCallSession(row)
	if err == sql.ErrNoRows {
		return model.NewCallSession(), nil
	}
	if err != nil {
		return model.CallSession{}, fmt.Errorf("load call session: %w", err)
	}
	return cs, nil
}

// Save replaces the persisted session.
func (s *CallSessionStore) Save(cs model.CallSession) error {
	var calleeID, calleeName, calleePersona sql.NullString
	if cs.Callee != nil {
		calleeID = sql.NullString{String: string(cs.Callee.ID), Valid: true}
		calleeName = sql.NullString{String: cs.Callee.Name, Valid: true}
		calleePersona = sql.NullString{String: cs.Callee.Persona, Valid: true}
	}
	var endpoint, token sql.NullString
	if cs.Transport != nil {
		endpoint = sql.NullString{String: cs.Transport.Endpoint, Valid: true}
		token = sql.NullString{String: cs.Transport.Token, Valid: true}
	}
	var analysis sql.NullString
	if cs.Analysis != nil {
		b, err := json.Marshal(cs.Analysis)
		if err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
		analysis = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO call_session (id, `+callSessionCols+`)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   callee_id = excluded.callee_id,
		   callee_name = excluded.callee_name,
		   callee_persona = excluded.callee_persona,
		   room_name = excluded.room_name,
		   transport_endpoint = excluded.transport_endpoint,
		   transport_token = excluded.transport_token,
		   started_at = excluded.started_at,
		   ended_at = excluded.ended_at,
		   poll_deadline = excluded.poll_deadline,
		   next_poll_at = excluded.next_poll_at,
		   poll_attempts = excluded.poll_attempts,
		   awaiting_decision = excluded.awaiting_decision,
		   analysis = excluded.analysis,
		   call_log_id = excluded.call_log_id,
		   last_error = excluded.last_error,
		   generation = excluded.generation,
		   updated_at = excluded.updated_at`,
		cs.Status, calleeID, calleeName, calleePersona, cs.RoomName,
		endpoint, token, nullTime(cs.StartedAt), nullTime(cs.EndedAt), nullTime(cs.PollDeadline), nullTime(cs.NextPollAt),
		cs.PollAttempts, cs.AwaitingDecision, analysis, string(cs.CallLogID), cs.LastError, cs.Generation, cs.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save call session: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
