// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser records a user identity, keyed by id.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name
	`, u.ID, u.Email, u.DisplayName, u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id, or nil when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id)

	var (
		u         User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// SetSongAdminMetadata records tag overrides for an admin-enqueued song.
func (s *Store) SetSongAdminMetadata(ctx context.Context, m *SongAdminMetadata) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO songs_admin_metadata (file_path, title, artist, queue, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_path) DO UPDATE SET title = excluded.title, artist = excluded.artist, queue = excluded.queue
	`, m.FilePath, m.Title, m.Artist, m.Queue, m.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert song metadata: %w", err)
	}
	return nil
}

// GetSongAdminMetadata fetches overrides for a file, or nil when absent.
func (s *Store) GetSongAdminMetadata(ctx context.Context, filePath string) (*SongAdminMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT file_path, title, artist, queue, created_at
	FROM songs_admin_metadata WHERE file_path = ?
	`, filePath)

	var (
		m         SongAdminMetadata
		createdAt string
	)
	err := row.Scan(&m.FilePath, &m.Title, &m.Artist, &m.Queue, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// DeleteSongAdminMetadata drops overrides for a file.
func (s *Store) DeleteSongAdminMetadata(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM songs_admin_metadata WHERE file_path = ?`, filePath)
	return err
}
