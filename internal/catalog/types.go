// SPDX-License-Identifier: MIT

package catalog

import "time"

// User is a registered account. Account management itself lives outside the
// core; the table exists so principal identities can be resolved to people.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// Show groups recordings under a named program.
type Show struct {
	ID          string
	ShowName    string
	Description *string
	CreatedAt   time.Time
}

// Recording is one archived livestream session.
type Recording struct {
	ID              int64
	ShowID          *string
	ShowName        string // resolved via join; empty when unassociated
	SessionID       string
	CreatedAt       time.Time
	Title           *string
	Artist          *string
	Genre           *string
	Description     *string
	DurationSeconds float64
	FilePath        string
}

// RecordingFilter narrows a recordings listing.
type RecordingFilter struct {
	ShowName string
	Search   string // full-text query over title/artist/genre/description
	Genre    string
	DateFrom *time.Time
	DateTo   *time.Time
	Offset   int
	Limit    int
}

// Webhook is a stored subscription. Events are kept sorted so that
// registration is idempotent on (url, events).
type Webhook struct {
	ID          string
	URL         string
	Events      []string
	SigningKey  string
	Description *string
	CreatedAt   time.Time
}

// SongAdminMetadata records tag overrides for admin-enqueued songs, which
// have no owning principal in the State Store.
type SongAdminMetadata struct {
	FilePath  string
	Title     *string
	Artist    *string
	Queue     string
	CreatedAt time.Time
}
