package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// UpsertModelMetadata replaces any row keyed by (source, repo, filename,
// snapshot, api_model_id). When APIModelID is nil the unique index treats
// it as distinct from every other NULL, so ON CONFLICT can never target
// it -- delete the old row first, then insert, inside one transaction.
func (s *Store) UpsertModelMetadata(ctx context.Context, m *gateway.ModelMetadata) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	arch := rawJSONToNull(m.ArchitectureJSON)

	if m.APIModelID == nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM model_metadata WHERE source = ? AND repo IS ? AND filename IS ?
			 AND snapshot IS ? AND api_model_id IS NULL`,
			m.Source, nullStrPtr(m.Repo), nullStrPtr(m.Filename), nullStrPtr(m.Snapshot),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO model_metadata (source, repo, filename, snapshot, api_model_id,
			 cap_vision, cap_audio, cap_thinking, cap_function_call, cap_structured,
			 ctx_max_input, ctx_max_output, architecture_json, chat_template,
			 extracted_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Source, nullStrPtr(m.Repo), nullStrPtr(m.Filename), nullStrPtr(m.Snapshot),
			boolToInt(m.Capabilities.Vision), boolToInt(m.Capabilities.Audio), boolToInt(m.Capabilities.Thinking),
			boolToInt(m.Capabilities.FunctionCalling), boolToInt(m.Capabilities.StructuredOutput),
			intPtrToNull(m.Context.MaxInputTokens), intPtrToNull(m.Context.MaxOutputTokens),
			arch, nullStrPtr(m.ChatTemplate),
			timeToStr(m.ExtractedAt), timeToStr(m.CreatedAt), timeToStr(m.UpdatedAt),
		); err != nil {
			return err
		}
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM model_metadata WHERE source = ? AND repo IS ? AND filename IS ?
		 AND snapshot IS ? AND api_model_id = ?`,
		m.Source, nullStrPtr(m.Repo), nullStrPtr(m.Filename), nullStrPtr(m.Snapshot), *m.APIModelID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_metadata (source, repo, filename, snapshot, api_model_id,
		 cap_vision, cap_audio, cap_thinking, cap_function_call, cap_structured,
		 ctx_max_input, ctx_max_output, architecture_json, chat_template,
		 extracted_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Source, nullStrPtr(m.Repo), nullStrPtr(m.Filename), nullStrPtr(m.Snapshot), *m.APIModelID,
		boolToInt(m.Capabilities.Vision), boolToInt(m.Capabilities.Audio), boolToInt(m.Capabilities.Thinking),
		boolToInt(m.Capabilities.FunctionCalling), boolToInt(m.Capabilities.StructuredOutput),
		intPtrToNull(m.Context.MaxInputTokens), intPtrToNull(m.Context.MaxOutputTokens),
		arch, nullStrPtr(m.ChatTemplate),
		timeToStr(m.ExtractedAt), timeToStr(m.CreatedAt), timeToStr(m.UpdatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FindModelMetadata looks up a single row by its full key. api_model_id
// is always NULL for local model lookups.
func (s *Store) FindModelMetadata(ctx context.Context, source string, repo, filename, snapshot *string) (*gateway.ModelMetadata, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT source, repo, filename, snapshot, api_model_id, cap_vision, cap_audio, cap_thinking,
		 cap_function_call, cap_structured, ctx_max_input, ctx_max_output, architecture_json,
		 chat_template, extracted_at, created_at, updated_at
		 FROM model_metadata
		 WHERE source = ? AND repo IS ? AND filename IS ? AND snapshot IS ? AND api_model_id IS NULL`,
		source, nullStrPtr(repo), nullStrPtr(filename), nullStrPtr(snapshot),
	)
	return scanModelMetadata(row)
}

// BatchFindModelMetadata resolves (repo, filename, snapshot) triples to
// metadata in a single query, avoiding N+1 lookups during alias listing.
func (s *Store) BatchFindModelMetadata(ctx context.Context, keys [][3]string) (map[string]*gateway.ModelMetadata, error) {
	out := make(map[string]*gateway.ModelMetadata, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)*3)
	for i, k := range keys {
		placeholders[i] = "(?, ?, ?)"
		args = append(args, k[0], k[1], k[2])
	}

	query := fmt.Sprintf(
		`SELECT source, repo, filename, snapshot, api_model_id, cap_vision, cap_audio, cap_thinking,
		 cap_function_call, cap_structured, ctx_max_input, ctx_max_output, architecture_json,
		 chat_template, extracted_at, created_at, updated_at
		 FROM model_metadata
		 WHERE source = 'model' AND api_model_id IS NULL AND (repo, filename, snapshot) IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanModelMetadata(rows)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s|%s|%s", strPtrVal(m.Repo), strPtrVal(m.Filename), strPtrVal(m.Snapshot))
		out[key] = m
	}
	return out, rows.Err()
}

func scanModelMetadata(sc scanner) (*gateway.ModelMetadata, error) {
	var m gateway.ModelMetadata
	var repo, filename, snapshot, apiModelID, chatTemplate, archJSON sql.NullString
	var capVision, capAudio, capThinking, capFn, capStruct int
	var ctxMaxIn, ctxMaxOut sql.NullInt64
	var extractedAt, createdAt, updatedAt string

	err := sc.Scan(
		&m.Source, &repo, &filename, &snapshot, &apiModelID,
		&capVision, &capAudio, &capThinking, &capFn, &capStruct,
		&ctxMaxIn, &ctxMaxOut, &archJSON, &chatTemplate,
		&extractedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	m.Repo = strPtr(repo)
	m.Filename = strPtr(filename)
	m.Snapshot = strPtr(snapshot)
	m.APIModelID = strPtr(apiModelID)
	m.ChatTemplate = strPtr(chatTemplate)
	m.Capabilities = gateway.Capabilities{
		Vision:           capVision != 0,
		Audio:            capAudio != 0,
		Thinking:         capThinking != 0,
		FunctionCalling:  capFn != 0,
		StructuredOutput: capStruct != 0,
	}
	m.Context = gateway.ContextLimits{
		MaxInputTokens:  nullInt64ToIntPtr(ctxMaxIn),
		MaxOutputTokens: nullInt64ToIntPtr(ctxMaxOut),
	}
	if archJSON.Valid {
		m.ArchitectureJSON = []byte(archJSON.String)
	}
	m.ExtractedAt = parseTime(extractedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

func intPtrToNull(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64ToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func strPtrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func rawJSONToNull(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
