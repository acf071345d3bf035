package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Auth session states.
const (
	AuthLoggedOut = "logged_out"
	AuthLoggedIn  = "logged_in"
	AuthExpired   = "expired"
)

// AuthState is the single persisted upstream session.
type AuthState struct {
	Status      string
	Token       string
	CookieJSON  string
	AccountName string
	LastError   string
	UpdatedAt   time.Time
}

// GetAuthState returns the persisted session, or a logged-out state if the
// row was never written.
func (s *Store) GetAuthState() (*AuthState, error) {
	row := s.db.QueryRow(
		"SELECT status, token, cookie_json, account_name, last_error, updated_at FROM auth_state WHERE id = 1")
	var a AuthState
	var token, cookies, name, lastErr sql.NullString
	err := row.Scan(&a.Status, &token, &cookies, &name, &lastErr, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return &AuthState{Status: AuthLoggedOut}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth state: %w", err)
	}
	a.Token = strOf(token)
	a.CookieJSON = strOf(cookies)
	a.AccountName = strOf(name)
	a.LastError = strOf(lastErr)
	return &a, nil
}

// SaveAuthState replaces the persisted session.
func (s *Store) SaveAuthState(a *AuthState) error {
	_, err := s.db.Exec(
		`INSERT INTO auth_state (id, status, token, cookie_json, account_name, last_error, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, token = excluded.token,
			cookie_json = excluded.cookie_json, account_name = excluded.account_name,
			last_error = excluded.last_error, updated_at = CURRENT_TIMESTAMP`,
		a.Status, nullStr(a.Token), nullStr(a.CookieJSON), nullStr(a.AccountName), nullStr(a.LastError),
	)
	if err != nil {
		return fmt.Errorf("save auth state: %w", err)
	}
	return nil
}

// MarkAuthExpired flags the session invalid without discarding credentials,
// so the operator can see what expired.
func (s *Store) MarkAuthExpired(reason string) error {
	_, err := s.db.Exec(
		`UPDATE auth_state SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`,
		AuthExpired, reason,
	)
	return err
}

// ClearAuthState drops the session entirely.
func (s *Store) ClearAuthState() error {
	_, err := s.db.Exec("DELETE FROM auth_state WHERE id = 1")
	if err != nil {
		return fmt.Errorf("clear auth state: %w", err)
	}
	return nil
}
