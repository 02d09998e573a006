// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrShowNameTaken is returned when a show name collides with an existing one.
var ErrShowNameTaken = errors.New("show name already exists")

// CreateShow inserts a new show with a unique name.
func (s *Store) CreateShow(ctx context.Context, name string, description *string) (*Show, error) {
	show := &Show{
		ID:          uuid.NewString(),
		ShowName:    name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO shows (id, show_name, description, created_at) VALUES (?, ?, ?, ?)
	`, show.ID, show.ShowName, show.Description, show.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrShowNameTaken
		}
		return nil, fmt.Errorf("insert show: %w", err)
	}
	return show, nil
}

// GetShow fetches a show by id, or nil when absent.
func (s *Store) GetShow(ctx context.Context, id string) (*Show, error) {
	return s.getShow(ctx, "id = ?", id)
}

// GetShowByName fetches a show by its unique name, or nil when absent.
func (s *Store) GetShowByName(ctx context.Context, name string) (*Show, error) {
	return s.getShow(ctx, "show_name = ?", name)
}

func (s *Store) getShow(ctx context.Context, cond string, arg any) (*Show, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, show_name, description, created_at FROM shows WHERE `+cond, arg)

	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return show, err
}

// ListShows returns all shows ordered by name.
func (s *Store) ListShows(ctx context.Context) ([]Show, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, show_name, description, created_at FROM shows ORDER BY show_name`)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shows []Show
	for rows.Next() {
		sh, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		shows = append(shows, *sh)
	}
	return shows, rows.Err()
}

// UpdateShow renames a show and/or replaces its description. It reports
// whether a row existed.
func (s *Store) UpdateShow(ctx context.Context, id, name string, description *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE shows SET show_name = ?, description = ? WHERE id = ?
	`, name, description, id)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrShowNameTaken
		}
		return false, fmt.Errorf("update show: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteShow removes a show; recordings keep their rows with the association
// cleared. It reports whether a row existed.
func (s *Store) DeleteShow(ctx context.Context, id string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET show_id = NULL WHERE show_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("detach recordings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shows WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanShow(row rowScanner) (*Show, error) {
	var (
		show      Show
		createdAt string
	)
	if err := row.Scan(&show.ID, &show.ShowName, &show.Description, &createdAt); err != nil {
		return nil, err
	}
	show.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &show, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
