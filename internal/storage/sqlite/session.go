package sqlite

import (
	"context"

	"github.com/bodhi-run/bodhi/internal/storage"
)

// CreateSession inserts a new browser session row.
func (s *Store) CreateSession(ctx context.Context, sess *storage.Session) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, access_token, refresh_token, expires_at, oauth_state, pkce_verifier)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt, sess.OAuthState, sess.PKCEVerifier,
	)
	return err
}

// GetSession looks up a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, access_token, refresh_token, expires_at, oauth_state, pkce_verifier
		 FROM sessions WHERE id = ?`, id,
	)
	var sess storage.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken, &sess.ExpiresAt,
		&sess.OAuthState, &sess.PKCEVerifier)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &sess, nil
}

// ReplaceSessionTokens swaps the access/refresh token pair in a single
// UPDATE so concurrent readers never observe a mixed old/new pair.
func (s *Store) ReplaceSessionTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt int64) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE sessions SET access_token=?, refresh_token=?, expires_at=? WHERE id=?`,
		accessToken, refreshToken, expiresAt, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "session")
}

// ClearOAuthState removes the one-time oauth_state/pkce_verifier pair
// after the callback has consumed them.
func (s *Store) ClearOAuthState(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE sessions SET oauth_state='', pkce_verifier='' WHERE id=?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "session")
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "session")
}
