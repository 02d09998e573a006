// SPDX-License-Identifier: MIT

package mixer

import (
	"context"
	"strconv"
)

// Source names as they appear in events and metadata.
const (
	SourceUser     = "user"
	SourceFallback = "fallback"
	SourceLive     = "livestream"
)

// Song id prefixes distinguish which queue an id belongs to.
const (
	UserSongPrefix     = "u-"
	FallbackSongPrefix = "f-"
)

// Now describes what a source is currently playing.
type Now struct {
	SongID string // prefixed queue song id; empty for live
	File   string
	Title  string
	Artist string
}

// Source is a playback origin the observer can poll.
type Source interface {
	Name() string
	// Current reports what is playing, or false when the source is idle.
	Current(ctx context.Context) (*Now, bool, error)
}

// QueueSource adapts an MPD daemon to the Source interface, tagging song ids
// with the queue's prefix.
type QueueSource struct {
	name   string
	prefix string
	mpd    *MPD
}

// NewUserSource wraps the user-queue daemon.
func NewUserSource(mpd *MPD) *QueueSource {
	return &QueueSource{name: SourceUser, prefix: UserSongPrefix, mpd: mpd}
}

// NewFallbackSource wraps the fallback-queue daemon.
func NewFallbackSource(mpd *MPD) *QueueSource {
	return &QueueSource{name: SourceFallback, prefix: FallbackSongPrefix, mpd: mpd}
}

func (q *QueueSource) Name() string { return q.name }

// Queue returns the underlying daemon client.
func (q *QueueSource) Queue() *MPD { return q.mpd }

// SongID formats a raw MPD id into this queue's namespaced form.
func (q *QueueSource) SongID(id int) string {
	return q.prefix + strconv.Itoa(id)
}

func (q *QueueSource) Current(ctx context.Context) (*Now, bool, error) {
	st, err := q.mpd.Status(ctx)
	if err != nil {
		return nil, false, err
	}
	if st.State != "play" {
		return nil, false, nil
	}
	song, err := q.mpd.CurrentSong(ctx)
	if err != nil {
		return nil, false, err
	}
	if song == nil {
		return nil, false, nil
	}
	return &Now{
		SongID: q.SongID(song.ID),
		File:   song.File,
		Title:  song.Title,
		Artist: song.Artist,
	}, true, nil
}
