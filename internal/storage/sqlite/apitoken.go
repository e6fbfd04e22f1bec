package sqlite

import (
	"context"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// CreateToken inserts a new ApiToken.
func (s *Store) CreateToken(ctx context.Context, t *gateway.ApiToken) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_tokens (id, user_id, name, token_prefix, token_hash, scope, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.TokenPrefix, t.TokenHash, t.Scope.String(), string(t.Status),
		timeToStr(t.CreatedAt), timeToStr(t.UpdatedAt),
	)
	return err
}

// GetTokenByPrefix looks up an ApiToken by its token_prefix lookup key.
func (s *Store) GetTokenByPrefix(ctx context.Context, prefix string) (*gateway.ApiToken, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, name, token_prefix, token_hash, scope, status, created_at, updated_at
		 FROM api_tokens WHERE token_prefix = ?`, prefix,
	)
	return scanToken(row)
}

// GetToken looks up an ApiToken by its ID.
func (s *Store) GetToken(ctx context.Context, id string) (*gateway.ApiToken, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, name, token_prefix, token_hash, scope, status, created_at, updated_at
		 FROM api_tokens WHERE id = ?`, id,
	)
	return scanToken(row)
}

// ListTokens returns a user's tokens, newest first.
func (s *Store) ListTokens(ctx context.Context, userID string, offset, limit int) ([]*gateway.ApiToken, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, name, token_prefix, token_hash, scope, status, created_at, updated_at
		 FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*gateway.ApiToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// UpdateToken updates the mutable fields of an ApiToken: name and
// status. token_prefix/token_hash/scope never change after issuance.
func (s *Store) UpdateToken(ctx context.Context, t *gateway.ApiToken) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_tokens SET name=?, status=?, updated_at=? WHERE id=?`,
		t.Name, string(t.Status), timeToStr(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api token")
}

func scanToken(s scanner) (*gateway.ApiToken, error) {
	var t gateway.ApiToken
	var scopeStr, statusStr, createdAt, updatedAt string

	err := s.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenPrefix, &t.TokenHash, &scopeStr, &statusStr, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	scope, err := gateway.ParseTokenScope(scopeStr)
	if err != nil {
		return nil, err
	}
	t.Scope = scope
	t.Status = gateway.TokenStatus(statusStr)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
