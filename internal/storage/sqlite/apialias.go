package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bodhi-run/bodhi/internal/storage"
)

// CreateApiAlias inserts a new remote-provider ApiAlias row.
func (s *Store) CreateApiAlias(ctx context.Context, row *storage.ApiAliasRow) error {
	models, err := json.Marshal(row.Alias.Models)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO api_aliases (id, api_format, base_url, models_json, prefix, forward_all_with_prefix,
		 cache, api_key_enc, api_key_salt, api_key_nonce, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Alias.ID, row.Alias.ApiFormat, row.Alias.BaseURL, string(models),
		nullStr(row.Alias.Prefix), boolToInt(row.Alias.ForwardAllWithPrefix), boolToInt(row.Alias.Cache),
		nullBytes(row.APIKey.Enc), nullBytes(row.APIKey.Salt), nullBytes(row.APIKey.Nonce),
		timeToStr(row.Alias.CreatedAt), timeToStr(row.Alias.UpdatedAt),
	)
	return err
}

// GetApiAlias looks up an ApiAlias by ID.
func (s *Store) GetApiAlias(ctx context.Context, id string) (*storage.ApiAliasRow, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, api_format, base_url, models_json, prefix, forward_all_with_prefix, cache,
		 api_key_enc, api_key_salt, api_key_nonce, created_at, updated_at
		 FROM api_aliases WHERE id = ?`, id,
	)
	return scanApiAlias(row)
}

// ListApiAliases returns every configured ApiAlias.
func (s *Store) ListApiAliases(ctx context.Context) ([]*storage.ApiAliasRow, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, api_format, base_url, models_json, prefix, forward_all_with_prefix, cache,
		 api_key_enc, api_key_salt, api_key_nonce, created_at, updated_at
		 FROM api_aliases ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.ApiAliasRow
	for rows.Next() {
		r, err := scanApiAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateApiAlias replaces an existing ApiAlias row in full.
func (s *Store) UpdateApiAlias(ctx context.Context, row *storage.ApiAliasRow) error {
	models, err := json.Marshal(row.Alias.Models)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_aliases SET api_format=?, base_url=?, models_json=?, prefix=?,
		 forward_all_with_prefix=?, cache=?, api_key_enc=?, api_key_salt=?, api_key_nonce=?, updated_at=?
		 WHERE id=?`,
		row.Alias.ApiFormat, row.Alias.BaseURL, string(models), nullStr(row.Alias.Prefix),
		boolToInt(row.Alias.ForwardAllWithPrefix), boolToInt(row.Alias.Cache),
		nullBytes(row.APIKey.Enc), nullBytes(row.APIKey.Salt), nullBytes(row.APIKey.Nonce),
		timeToStr(row.Alias.UpdatedAt), row.Alias.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api alias")
}

// DeleteApiAlias removes an ApiAlias row.
func (s *Store) DeleteApiAlias(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_aliases WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api alias")
}

func scanApiAlias(sc scanner) (*storage.ApiAliasRow, error) {
	var r storage.ApiAliasRow
	var modelsJSON string
	var prefix sql.NullString
	var forwardAll, cache int
	var createdAt, updatedAt string

	err := sc.Scan(
		&r.Alias.ID, &r.Alias.ApiFormat, &r.Alias.BaseURL, &modelsJSON, &prefix,
		&forwardAll, &cache, &r.APIKey.Enc, &r.APIKey.Salt, &r.APIKey.Nonce,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if err := json.Unmarshal([]byte(modelsJSON), &r.Alias.Models); err != nil {
		return nil, err
	}
	r.Alias.Prefix = prefix.String
	r.Alias.ForwardAllWithPrefix = forwardAll != 0
	r.Alias.Cache = cache != 0
	r.Alias.CreatedAt = parseTime(createdAt)
	r.Alias.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
