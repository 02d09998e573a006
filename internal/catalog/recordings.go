// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertRecording persists a recording row and returns its id.
func (s *Store) InsertRecording(ctx context.Context, r *Recording) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO recordings (show_id, session_id, created_at, title, artist, genre, description, duration_seconds, file_path)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ShowID,
		r.SessionID,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.Title, r.Artist, r.Genre, r.Description,
		r.DurationSeconds,
		r.FilePath,
	)
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	return res.LastInsertId()
}

// GetRecording fetches one recording, or nil when absent.
func (s *Store) GetRecording(ctx context.Context, id int64) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT r.id, r.show_id, COALESCE(sh.show_name, ''), r.session_id, r.created_at,
	       r.title, r.artist, r.genre, r.description, r.duration_seconds, r.file_path
	FROM recordings r
	LEFT JOIN shows sh ON sh.id = r.show_id
	WHERE r.id = ?
	`, id)

	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeleteRecording removes a recording row.
func (s *Store) DeleteRecording(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	return err
}

// ListRecordings applies the filter and returns one page plus the total
// match count. Search goes through the FTS index; everything else is plain
// predicates. Results are newest first.
func (s *Store) ListRecordings(ctx context.Context, f RecordingFilter) ([]Recording, int, error) {
	var (
		conds []string
		args  []any
	)

	if f.ShowName != "" {
		conds = append(conds, "sh.show_name = ?")
		args = append(args, f.ShowName)
	}
	if f.Genre != "" {
		conds = append(conds, "r.genre = ?")
		args = append(args, f.Genre)
	}
	if f.DateFrom != nil {
		conds = append(conds, "r.created_at >= ?")
		args = append(args, f.DateFrom.UTC().Format(time.RFC3339))
	}
	if f.DateTo != nil {
		conds = append(conds, "r.created_at <= ?")
		args = append(args, f.DateTo.UTC().Format(time.RFC3339))
	}
	if f.Search != "" {
		conds = append(conds, "r.id IN (SELECT rowid FROM recordings_fts WHERE recordings_fts MATCH ?)")
		args = append(args, ftsQuery(f.Search))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := fmt.Sprintf(`
	SELECT COUNT(*)
	FROM recordings r
	LEFT JOIN shows sh ON sh.id = r.show_id
	%s`, where)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recordings: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
	SELECT r.id, r.show_id, COALESCE(sh.show_name, ''), r.session_id, r.created_at,
	       r.title, r.artist, r.genre, r.description, r.duration_seconds, r.file_path
	FROM recordings r
	LEFT JOIN shows sh ON sh.id = r.show_id
	%s
	ORDER BY r.created_at DESC
	LIMIT ? OFFSET ?`, where)

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, *rec)
	}
	return recs, total, rows.Err()
}

// ftsQuery turns free text into an AND-of-prefixes MATCH expression,
// tokenizing on whitespace and punctuation.
func ftsQuery(search string) string {
	fields := strings.FieldsFunc(search, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	for i, f := range fields {
		fields[i] = `"` + f + `"*`
	}
	return strings.Join(fields, " ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var (
		rec       Recording
		createdAt string
	)
	if err := row.Scan(
		&rec.ID, &rec.ShowID, &rec.ShowName, &rec.SessionID, &createdAt,
		&rec.Title, &rec.Artist, &rec.Genre, &rec.Description,
		&rec.DurationSeconds, &rec.FilePath,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}
