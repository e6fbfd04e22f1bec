package sqlite

import (
	"context"
	"database/sql"
	"errors"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// GetAppStatus reads the single-row app lifecycle state, defaulting to
// AppStatusSetup when the row has never been created.
func (s *Store) GetAppStatus(ctx context.Context) (gateway.AppStatus, error) {
	var status string
	err := s.read.QueryRowContext(ctx, `SELECT status FROM app_state WHERE id = 1`).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.AppStatusSetup, nil
	}
	if err != nil {
		return "", err
	}
	return gateway.AppStatus(status), nil
}

// SetAppStatus advances the app lifecycle state, creating the row on
// first use.
func (s *Store) SetAppStatus(ctx context.Context, status gateway.AppStatus) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO app_state (id, status) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
		string(status),
	)
	return err
}

// GetOrCreateMasterKey returns the persisted master key, generating and
// storing one via generate on first run. The INSERT OR IGNORE plus
// re-SELECT makes two racing first-run callers converge on the same key
// rather than one silently overwriting the other's.
func (s *Store) GetOrCreateMasterKey(ctx context.Context, generate func() ([]byte, error)) ([]byte, error) {
	var key []byte
	err := s.read.QueryRowContext(ctx, `SELECT master_key_enc FROM app_state WHERE id = 1`).Scan(&key)
	if err == nil && key != nil {
		return key, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	generated, err := generate()
	if err != nil {
		return nil, err
	}

	if _, err := s.write.ExecContext(ctx,
		`INSERT INTO app_state (id, status, master_key_enc) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET master_key_enc=COALESCE(app_state.master_key_enc, excluded.master_key_enc)`,
		string(gateway.AppStatusSetup), generated,
	); err != nil {
		return nil, err
	}

	var final []byte
	if err := s.read.QueryRowContext(ctx, `SELECT master_key_enc FROM app_state WHERE id = 1`).Scan(&final); err != nil {
		return nil, err
	}
	return final, nil
}
