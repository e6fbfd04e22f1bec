package sqlite

import (
	"context"
	"encoding/json"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// CreateMCPServerConfig inserts a new MCP server OAuth client config.
func (s *Store) CreateMCPServerConfig(ctx context.Context, c *gateway.MCPServerConfig) error {
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO mcp_server_configs (config_id, client_id, client_secret_enc, client_secret_salt,
		 client_secret_nonce, authorization_endpoint, token_endpoint, scopes_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ConfigID, c.ClientID, nullBytes(c.ClientSecretEnc), nullBytes(c.ClientSecretSalt),
		nullBytes(c.ClientSecretNonce), c.AuthorizationEndpoint, c.TokenEndpoint, string(scopes),
	)
	return err
}

// GetMCPServerConfig looks up an MCP server config by ID.
func (s *Store) GetMCPServerConfig(ctx context.Context, configID string) (*gateway.MCPServerConfig, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT config_id, client_id, client_secret_enc, client_secret_salt, client_secret_nonce,
		 authorization_endpoint, token_endpoint, scopes_json
		 FROM mcp_server_configs WHERE config_id = ?`, configID,
	)
	return scanMCPServerConfig(row)
}

// ListMCPServerConfigs returns every registered MCP server config.
func (s *Store) ListMCPServerConfigs(ctx context.Context) ([]*gateway.MCPServerConfig, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT config_id, client_id, client_secret_enc, client_secret_salt, client_secret_nonce,
		 authorization_endpoint, token_endpoint, scopes_json
		 FROM mcp_server_configs ORDER BY config_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.MCPServerConfig
	for rows.Next() {
		c, err := scanMCPServerConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteMCPServerConfig removes an MCP server config.
func (s *Store) DeleteMCPServerConfig(ctx context.Context, configID string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM mcp_server_configs WHERE config_id=?`, configID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "mcp server config")
}

func scanMCPServerConfig(sc scanner) (*gateway.MCPServerConfig, error) {
	var c gateway.MCPServerConfig
	var scopesJSON string

	err := sc.Scan(
		&c.ConfigID, &c.ClientID, &c.ClientSecretEnc, &c.ClientSecretSalt, &c.ClientSecretNonce,
		&c.AuthorizationEndpoint, &c.TokenEndpoint, &scopesJSON,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &c.Scopes); err != nil {
		return nil, err
	}
	return &c, nil
}
