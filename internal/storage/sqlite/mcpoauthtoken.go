package sqlite

import (
	"context"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// PutMCPOAuthToken replaces any existing token row for (ConfigID, UserID)
// with t in one transaction, never accumulating stale token pairs.
func (s *Store) PutMCPOAuthToken(ctx context.Context, t *gateway.MCPOAuthToken) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mcp_oauth_tokens WHERE config_id = ? AND user_id = ?`, t.ConfigID, t.UserID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mcp_oauth_tokens (token_id, config_id, user_id, access_token_enc, access_token_salt,
		 access_token_nonce, refresh_token_enc, refresh_token_salt, refresh_token_nonce, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenID, t.ConfigID, t.UserID, t.AccessTokenEnc, t.AccessTokenSalt, t.AccessTokenNonce,
		nullBytes(t.RefreshTokenEnc), nullBytes(t.RefreshTokenSalt), nullBytes(t.RefreshTokenNonce),
		timeToStr(t.ExpiresAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMCPOAuthToken looks up the token pair for (configID, userID).
func (s *Store) GetMCPOAuthToken(ctx context.Context, configID, userID string) (*gateway.MCPOAuthToken, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT token_id, config_id, user_id, access_token_enc, access_token_salt, access_token_nonce,
		 refresh_token_enc, refresh_token_salt, refresh_token_nonce, expires_at
		 FROM mcp_oauth_tokens WHERE config_id = ? AND user_id = ?`, configID, userID,
	)
	return scanMCPOAuthToken(row)
}

// DeleteMCPOAuthToken removes the token pair for (configID, userID).
func (s *Store) DeleteMCPOAuthToken(ctx context.Context, configID, userID string) error {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM mcp_oauth_tokens WHERE config_id=? AND user_id=?`, configID, userID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "mcp oauth token")
}

func scanMCPOAuthToken(sc scanner) (*gateway.MCPOAuthToken, error) {
	var t gateway.MCPOAuthToken
	var expiresAt string

	err := sc.Scan(
		&t.TokenID, &t.ConfigID, &t.UserID, &t.AccessTokenEnc, &t.AccessTokenSalt, &t.AccessTokenNonce,
		&t.RefreshTokenEnc, &t.RefreshTokenSalt, &t.RefreshTokenNonce, &expiresAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	t.ExpiresAt = parseTime(expiresAt)
	return &t, nil
}
