package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
)

var _ scs.Store = (*SessionStore)(nil)

// SessionStore persists scs session blobs in the sessions table, so a
// restart does not log everyone out.
type SessionStore struct {
	conn *sql.DB
	now  func() time.Time
}

// Sessions returns the scs.Store backed by this database.
func (db *DB) Sessions() *SessionStore {
	return &SessionStore{conn: db.conn, now: time.Now}
}

// Find returns the data for a session token. Expired rows are treated as
// missing; scs then starts a fresh session.
func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	var data []byte
	err := s.conn.QueryRow(
		`SELECT data FROM sessions WHERE token = ? AND expiry > ?`,
		token, s.now().UnixNano(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlite: finding session: %w", err)
	}
	return data, true, nil
}

// Commit inserts or replaces the session data.
func (s *SessionStore) Commit(token string, data []byte, expiry time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO sessions (token, data, expiry) VALUES (?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET data = excluded.data, expiry = excluded.expiry`,
		token, data, expiry.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: committing session: %w", err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown token is not an error,
// which keeps logout idempotent.
func (s *SessionStore) Delete(token string) error {
	if _, err := s.conn.Exec(`DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions past their expiry and reports how many went.
func (s *SessionStore) DeleteExpired() (int64, error) {
	result, err := s.conn.Exec(`DELETE FROM sessions WHERE expiry <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}
