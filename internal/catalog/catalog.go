// SPDX-License-Identifier: MIT

// Package catalog provides relational persistence for users, shows,
// recordings and webhook subscriptions, including the full-text index over
// recording metadata.
package catalog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store wraps the SQLite catalog database.
type Store struct {
	db *sql.DB
}

// Open initializes the catalog store and runs migrations.
// busy_timeout avoids "database locked" errors under concurrent writers.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks availability.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_users (
		token TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shows (
		id TEXT PRIMARY KEY,
		show_name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		show_id TEXT REFERENCES shows(id),
		session_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		title TEXT,
		artist TEXT,
		genre TEXT,
		description TEXT,
		duration_seconds REAL NOT NULL,
		file_path TEXT NOT NULL UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_show ON recordings(show_id);
	CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at DESC);

	CREATE TABLE IF NOT EXISTS webhooks (
		webhook_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		events TEXT NOT NULL,
		signing_key TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(url, events)
	);

	CREATE TABLE IF NOT EXISTS songs_admin_metadata (
		file_path TEXT PRIMARY KEY,
		title TEXT,
		artist TEXT,
		queue TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS recordings_fts USING fts5(
		title,
		artist,
		genre,
		description,
		content=recordings,
		content_rowid=id
	);

	CREATE TRIGGER IF NOT EXISTS recordings_ai AFTER INSERT ON recordings BEGIN
		INSERT INTO recordings_fts(rowid, title, artist, genre, description)
		VALUES (new.id, new.title, new.artist, new.genre, new.description);
	END;

	CREATE TRIGGER IF NOT EXISTS recordings_ad AFTER DELETE ON recordings BEGIN
		INSERT INTO recordings_fts(recordings_fts, rowid, title, artist, genre, description)
		VALUES ('delete', old.id, old.title, old.artist, old.genre, old.description);
	END;

	CREATE TRIGGER IF NOT EXISTS recordings_au AFTER UPDATE ON recordings BEGIN
		INSERT INTO recordings_fts(recordings_fts, rowid, title, artist, genre, description)
		VALUES ('delete', old.id, old.title, old.artist, old.genre, old.description);
		INSERT INTO recordings_fts(rowid, title, artist, genre, description)
		VALUES (new.id, new.title, new.artist, new.genre, new.description);
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}
