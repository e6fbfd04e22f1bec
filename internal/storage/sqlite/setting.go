package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// GetSetting looks up a single app_settings override.
func (s *Store) GetSetting(ctx context.Context, key string) (value, valueType, source string, ok bool, err error) {
	row := s.read.QueryRowContext(ctx, `SELECT value, value_type, source FROM app_settings WHERE key = ?`, key)
	err = row.Scan(&value, &valueType, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", "", false, nil
	}
	if err != nil {
		return "", "", "", false, err
	}
	return value, valueType, source, true, nil
}

// PutSetting upserts a single app_settings override.
func (s *Store) PutSetting(ctx context.Context, key, value, valueType, source string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO app_settings (key, value, value_type, source) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, value_type=excluded.value_type, source=excluded.source`,
		key, value, valueType, source,
	)
	return err
}

// DeleteSetting removes an app_settings override, reverting to the
// config layer's default/env-derived value.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM app_settings WHERE key=?`, key)
	return err
}

// ListSettings returns every override as key -> value.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
