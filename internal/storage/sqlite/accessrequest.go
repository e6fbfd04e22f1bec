package sqlite

import (
	"context"
	"database/sql"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// CreateAccessRequest inserts a new AppAccessRequest.
func (s *Store) CreateAccessRequest(ctx context.Context, r *gateway.AppAccessRequest) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO access_requests (id, requested_role, requested_scope, status, access_request_scope, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, roleToNull(r.RequestedRole), tokenScopeToNull(r.RequestedScope), string(r.Status),
		nullStrPtr(r.AccessRequestScope), timeToStr(r.CreatedAt), timeToStr(r.UpdatedAt),
	)
	return err
}

// UpdateAccessRequest updates the status/timestamps of an AppAccessRequest.
func (s *Store) UpdateAccessRequest(ctx context.Context, r *gateway.AppAccessRequest) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE access_requests SET requested_role=?, requested_scope=?, status=?, access_request_scope=?, updated_at=?
		 WHERE id=?`,
		roleToNull(r.RequestedRole), tokenScopeToNull(r.RequestedScope), string(r.Status),
		nullStrPtr(r.AccessRequestScope), timeToStr(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "access request")
}

// GetAccessRequest looks up an AppAccessRequest by ID.
func (s *Store) GetAccessRequest(ctx context.Context, id string) (*gateway.AppAccessRequest, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, requested_role, requested_scope, status, access_request_scope, created_at, updated_at
		 FROM access_requests WHERE id = ?`, id,
	)
	return scanAccessRequest(row)
}

// ListAccessRequests returns access requests filtered by status, newest first.
func (s *Store) ListAccessRequests(ctx context.Context, status gateway.AccessRequestStatus, offset, limit int) ([]*gateway.AppAccessRequest, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, requested_role, requested_scope, status, access_request_scope, created_at, updated_at
		 FROM access_requests WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.AppAccessRequest
	for rows.Next() {
		r, err := scanAccessRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAccessRequest(sc scanner) (*gateway.AppAccessRequest, error) {
	var r gateway.AppAccessRequest
	var roleStr, scopeStr, accessScope sql.NullString
	var statusStr, createdAt, updatedAt string

	err := sc.Scan(&r.ID, &roleStr, &scopeStr, &statusStr, &accessScope, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if roleStr.Valid {
		role, err := gateway.ParseRole(roleStr.String)
		if err != nil {
			return nil, err
		}
		r.RequestedRole = &role
	}
	if scopeStr.Valid {
		scope, err := gateway.ParseTokenScope(scopeStr.String)
		if err != nil {
			return nil, err
		}
		r.RequestedScope = &scope
	}
	r.Status = gateway.AccessRequestStatus(statusStr)
	r.AccessRequestScope = strPtr(accessScope)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func roleToNull(r *gateway.Role) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: r.String(), Valid: true}
}

func tokenScopeToNull(sc *gateway.TokenScope) sql.NullString {
	if sc == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: sc.String(), Valid: true}
}
