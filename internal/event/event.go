// SPDX-License-Identifier: MIT

// Package event defines the typed envelopes exchanged over the State Store
// pub/sub channels and the canonical JSON form webhook signatures are
// computed over.
package event

import (
	"time"
)

// Type identifies an event channel.
type Type string

const (
	TypeSongChanged       Type = "song_changed"
	TypeLivestreamStarted Type = "livestream_started"
	TypeLivestreamEnded   Type = "livestream_ended"
	TypeQueueSwitched     Type = "queue_switched"
	// TypeWebhookTest is only ever delivered synchronously by the test
	// endpoint; it has no pub/sub channel.
	TypeWebhookTest Type = "webhook_test"
)

// Types lists every event type carried on the bus.
func Types() []Type {
	return []Type{TypeSongChanged, TypeLivestreamStarted, TypeLivestreamEnded, TypeQueueSwitched}
}

// Channel returns the pub/sub channel name for the type.
func (t Type) Channel() string { return "events:" + string(t) }

// Valid reports whether t is a subscribable event type.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Envelope wraps every published event.
type Envelope struct {
	EventType   Type   `json:"event_type"`
	Description string `json:"description"`
	Data        any    `json:"data"`
	Timestamp   string `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the publish time.
func NewEnvelope(t Type, description string, data any) Envelope {
	return Envelope{
		EventType:   t,
		Description: description,
		Data:        data,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Metadata is the tag tuple reported for the audible source. Nil fields mean
// the source carried no such tag (a livestream without embedded metadata).
type Metadata struct {
	Title       *string `json:"title"`
	Artist      *string `json:"artist"`
	Genre       *string `json:"genre"`
	Description *string `json:"description"`
}

// SongChanged is emitted when the audible song identity changes.
type SongChanged struct {
	Source   string   `json:"source"`
	SongID   string   `json:"song_id,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// LivestreamStarted is emitted once per accepted session.
type LivestreamStarted struct {
	PrincipalID          string `json:"principal_id"`
	SessionID            string `json:"session_id"`
	ShowID               string `json:"show_id,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration"`
}

// LivestreamEnded is emitted exactly once per session, whatever ended it.
type LivestreamEnded struct {
	PrincipalID     string `json:"principal_id"`
	SessionID       string `json:"session_id"`
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason"` // client, limit or admin
}

// QueueSwitched is emitted when the active source changes.
type QueueSwitched struct {
	From string `json:"from"`
	To   string `json:"to"`
}
