package sqlite

import (
	"context"
	"database/sql"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// CreateDownloadRequest inserts a new DownloadRequest.
func (s *Store) CreateDownloadRequest(ctx context.Context, d *gateway.DownloadRequest) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO download_requests (id, repo, filename, status, total_bytes, downloaded_bytes, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Repo, d.Filename, string(d.Status),
		int64PtrToNull(d.TotalBytes), int64PtrToNull(d.DownloadedBytes), nullStrPtr(d.Error),
		timeToStr(d.CreatedAt), timeToStr(d.UpdatedAt),
	)
	return err
}

// UpdateDownloadRequest updates progress/status fields of a DownloadRequest.
func (s *Store) UpdateDownloadRequest(ctx context.Context, d *gateway.DownloadRequest) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE download_requests SET status=?, total_bytes=?, downloaded_bytes=?, error=?, updated_at=?
		 WHERE id=?`,
		string(d.Status), int64PtrToNull(d.TotalBytes), int64PtrToNull(d.DownloadedBytes),
		nullStrPtr(d.Error), timeToStr(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "download request")
}

// GetDownloadRequest looks up a DownloadRequest by ID.
func (s *Store) GetDownloadRequest(ctx context.Context, id string) (*gateway.DownloadRequest, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, repo, filename, status, total_bytes, downloaded_bytes, error, created_at, updated_at
		 FROM download_requests WHERE id = ?`, id,
	)
	return scanDownloadRequest(row)
}

// ListDownloadRequests returns download requests newest first.
func (s *Store) ListDownloadRequests(ctx context.Context, offset, limit int) ([]*gateway.DownloadRequest, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, repo, filename, status, total_bytes, downloaded_bytes, error, created_at, updated_at
		 FROM download_requests ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.DownloadRequest
	for rows.Next() {
		d, err := scanDownloadRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDownloadRequest(sc scanner) (*gateway.DownloadRequest, error) {
	var d gateway.DownloadRequest
	var statusStr string
	var totalBytes, downloadedBytes sql.NullInt64
	var errStr sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(&d.ID, &d.Repo, &d.Filename, &statusStr, &totalBytes, &downloadedBytes, &errStr, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	d.Status = gateway.DownloadStatus(statusStr)
	d.TotalBytes = nullInt64ToInt64Ptr(totalBytes)
	d.DownloadedBytes = nullInt64ToInt64Ptr(downloadedBytes)
	d.Error = strPtr(errStr)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func int64PtrToNull(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt64ToInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
