// SPDX-License-Identifier: MIT

// Package mixer speaks to the audio plane: the two MPD queue daemons and the
// liquidsoap telnet console. The control plane never touches audio itself;
// everything here is command-and-status plumbing.
package mixer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const dialTimeout = 2 * time.Second

// Song is one entry in an MPD playlist.
type Song struct {
	ID     int
	Pos    int
	File   string
	Title  string
	Artist string
}

// Status is a subset of the MPD status response.
type Status struct {
	State          string // play, pause, stop
	SongPos        int    // -1 when no current song
	SongID         int    // -1 when no current song
	PlaylistLength int
}

// MPD is a client for one MPD instance. Each call dials a fresh connection;
// the daemons are local and the command rate is low.
type MPD struct {
	addr string
}

// NewMPD returns a client for the daemon at addr (host:port).
func NewMPD(addr string) *MPD {
	return &MPD{addr: addr}
}

// Addr returns the daemon address, for logging.
func (m *MPD) Addr() string { return m.addr }

// command dials, runs one command and parses the key: value response lines
// up to OK. ACK lines become errors.
func (m *MPD) command(ctx context.Context, cmd string) ([][2]string, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return nil, fmt.Errorf("dial mpd %s: %w", m.addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	r := bufio.NewReader(conn)

	// Greeting: "OK MPD <version>"
	greeting, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read mpd greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "OK MPD") {
		return nil, fmt.Errorf("unexpected mpd greeting %q", strings.TrimSpace(greeting))
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return nil, fmt.Errorf("write mpd command: %w", err)
	}

	var pairs [][2]string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read mpd response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "OK":
			return pairs, nil
		case strings.HasPrefix(line, "ACK "):
			return nil, fmt.Errorf("mpd: %s", line)
		default:
			if k, v, ok := strings.Cut(line, ": "); ok {
				pairs = append(pairs, [2]string{k, v})
			}
		}
	}
}

// Status fetches playback state.
func (m *MPD) Status(ctx context.Context) (*Status, error) {
	pairs, err := m.command(ctx, "status")
	if err != nil {
		return nil, err
	}
	st := &Status{SongPos: -1, SongID: -1}
	for _, kv := range pairs {
		switch kv[0] {
		case "state":
			st.State = kv[1]
		case "song":
			st.SongPos, _ = strconv.Atoi(kv[1])
		case "songid":
			st.SongID, _ = strconv.Atoi(kv[1])
		case "playlistlength":
			st.PlaylistLength, _ = strconv.Atoi(kv[1])
		}
	}
	return st, nil
}

// CurrentSong returns the playing song, or nil when the playlist is idle.
func (m *MPD) CurrentSong(ctx context.Context) (*Song, error) {
	pairs, err := m.command(ctx, "currentsong")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	return parseSongs(pairs)[0], nil
}

// Playlist returns all queued songs in playlist order.
func (m *MPD) Playlist(ctx context.Context) ([]*Song, error) {
	pairs, err := m.command(ctx, "playlistinfo")
	if err != nil {
		return nil, err
	}
	return parseSongs(pairs), nil
}

// AddID appends a file to the playlist and returns its song id.
func (m *MPD) AddID(ctx context.Context, file string) (int, error) {
	pairs, err := m.command(ctx, fmt.Sprintf("addid %s", quote(file)))
	if err != nil {
		return 0, err
	}
	for _, kv := range pairs {
		if kv[0] == "Id" {
			return strconv.Atoi(kv[1])
		}
	}
	return 0, fmt.Errorf("mpd addid: no Id in response")
}

// DeleteID removes a song by id.
func (m *MPD) DeleteID(ctx context.Context, id int) error {
	_, err := m.command(ctx, fmt.Sprintf("deleteid %d", id))
	return err
}

// Clear empties the playlist.
func (m *MPD) Clear(ctx context.Context) error {
	_, err := m.command(ctx, "clear")
	return err
}

// Play starts playback.
func (m *MPD) Play(ctx context.Context) error {
	_, err := m.command(ctx, "play")
	return err
}

// Pause suspends playback.
func (m *MPD) Pause(ctx context.Context) error {
	_, err := m.command(ctx, "pause 1")
	return err
}

// Resume continues paused playback.
func (m *MPD) Resume(ctx context.Context) error {
	_, err := m.command(ctx, "pause 0")
	return err
}

// SetConsume toggles consume mode, where finished songs leave the playlist.
func (m *MPD) SetConsume(ctx context.Context, on bool) error {
	_, err := m.command(ctx, "consume "+boolArg(on))
	return err
}

// SetRepeat toggles playlist repeat.
func (m *MPD) SetRepeat(ctx context.Context, on bool) error {
	_, err := m.command(ctx, "repeat "+boolArg(on))
	return err
}

// SetRandom toggles shuffled playback.
func (m *MPD) SetRandom(ctx context.Context, on bool) error {
	_, err := m.command(ctx, "random "+boolArg(on))
	return err
}

// Update rescans the music directory.
func (m *MPD) Update(ctx context.Context) error {
	_, err := m.command(ctx, "update")
	return err
}

func parseSongs(pairs [][2]string) []*Song {
	var songs []*Song
	var cur *Song
	for _, kv := range pairs {
		if kv[0] == "file" {
			cur = &Song{ID: -1, Pos: -1, File: kv[1]}
			songs = append(songs, cur)
			continue
		}
		if cur == nil {
			continue
		}
		switch kv[0] {
		case "Id":
			cur.ID, _ = strconv.Atoi(kv[1])
		case "Pos":
			cur.Pos, _ = strconv.Atoi(kv[1])
		case "Title":
			cur.Title = kv[1]
		case "Artist":
			cur.Artist = kv[1]
		}
	}
	return songs
}

func boolArg(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// quote wraps an argument in MPD double-quote syntax.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
