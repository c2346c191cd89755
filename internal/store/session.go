package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/carecall/internal/model"
)

// SessionStore persists the single admin Session Record. There is exactly one
// row (id = 1); every write replaces it wholesale.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

// Write upserts the record.
func (s *SessionStore) Write(rec model.SessionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO session_record (id, authenticated, login_time, last_activity, expire_time, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   authenticated = excluded.authenticated,
		   login_time = excluded.login_time,
		   last_activity = excluded.last_activity,
		   expire_time = excluded.expire_time,
		   updated_at = excluded.updated_at`,
		rec.Authenticated, rec.LoginTime.UTC(), rec.LastActivity.UTC(), rec.ExpireTime.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return persistErr("write session record", err)
	}
	return nil
}

// Read returns the stored record, or nil if none exists. A row that cannot be
// decoded is reported as absent. Expiry is not checked here; that is the
// caller's decision.
func (s *SessionStore) Read() (*model.SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT authenticated, login_time, last_activity, expire_time FROM session_record WHERE id = 1`,
	)
	if err != nil {
		return nil, persistErr("read session record", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, persistErr("read session record", err)
		}
		return nil, nil
	}
	var rec model.SessionRecord
	if err := rows.Scan(&rec.Authenticated, &rec.LoginTime, &rec.LastActivity, &rec.ExpireTime); err != nil {
		slog.Warn("ignoring undecodable session record", "error", err)
		return nil, nil
	}
	return &rec, nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *SessionStore) Delete() error {
	if _, err := s.db.Exec(`DELETE FROM session_record WHERE id = 1`); err != nil {
		return persistErr("delete session record", err)
	}
	return nil
}
