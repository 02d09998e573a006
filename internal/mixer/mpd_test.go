// SPDX-License-Identifier: MIT

package mixer

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMPD answers one command per connection from a canned response table
// and records every command it saw.
type fakeMPD struct {
	ln        net.Listener
	mu        sync.Mutex
	responses map[string]string // command -> body (without trailing OK)
	commands  []string
}

func newFakeMPD(t *testing.T) *fakeMPD {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeMPD{ln: ln, responses: map[string]string{}}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeMPD) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_, _ = conn.Write([]byte("OK MPD 0.23.5\n"))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	cmd := strings.TrimRight(line, "\r\n")

	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	body, ok := f.responses[cmd]
	f.mu.Unlock()

	if !ok {
		_, _ = conn.Write([]byte("ACK [5@0] {} unknown command\n"))
		return
	}
	if body != "" {
		_, _ = conn.Write([]byte(body))
	}
	_, _ = conn.Write([]byte("OK\n"))
}

func (f *fakeMPD) respond(cmd, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = body
}

func (f *fakeMPD) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func TestMPD_Status(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("status", "state: play\nsong: 2\nsongid: 17\nplaylistlength: 5\n")

	st, err := NewMPD(f.ln.Addr().String()).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "play", st.State)
	assert.Equal(t, 2, st.SongPos)
	assert.Equal(t, 17, st.SongID)
	assert.Equal(t, 5, st.PlaylistLength)
}

func TestMPD_StatusStopped(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("status", "state: stop\nplaylistlength: 0\n")

	st, err := NewMPD(f.ln.Addr().String()).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stop", st.State)
	assert.Equal(t, -1, st.SongID, "no current song")
}

func TestMPD_CurrentSongEmpty(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("currentsong", "")

	song, err := NewMPD(f.ln.Addr().String()).CurrentSong(context.Background())
	require.NoError(t, err)
	assert.Nil(t, song)
}

func TestMPD_Playlist(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("playlistinfo",
		"file: a.mp3\nTitle: First\nArtist: One\nPos: 0\nId: 10\n"+
			"file: b.mp3\nPos: 1\nId: 11\n")

	songs, err := NewMPD(f.ln.Addr().String()).Playlist(context.Background())
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "a.mp3", songs[0].File)
	assert.Equal(t, "First", songs[0].Title)
	assert.Equal(t, 10, songs[0].ID)
	assert.Equal(t, "b.mp3", songs[1].File)
	assert.Empty(t, songs[1].Title)
}

func TestMPD_AddID(t *testing.T) {
	f := newFakeMPD(t)
	f.respond(`addid "song one.mp3"`, "Id: 42\n")

	id, err := NewMPD(f.ln.Addr().String()).AddID(context.Background(), "song one.mp3")
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestMPD_ACKBecomesError(t *testing.T) {
	f := newFakeMPD(t)

	_, err := NewMPD(f.ln.Addr().String()).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACK")
}

func TestMPD_ToggleCommands(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("consume 1", "")
	f.respond("repeat 0", "")
	f.respond("pause 0", "")

	m := NewMPD(f.ln.Addr().String())
	ctx := context.Background()
	require.NoError(t, m.SetConsume(ctx, true))
	require.NoError(t, m.SetRepeat(ctx, false))
	require.NoError(t, m.Resume(ctx))

	assert.Equal(t, []string{"consume 1", "repeat 0", "pause 0"}, f.seen())
}

func TestMPD_DialFailure(t *testing.T) {
	_, err := NewMPD("127.0.0.1:1").Status(context.Background())
	assert.Error(t, err)
}

func TestTelnet_Kick(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		buf := make([]byte, 128)
		n, _ := conn.Read(buf)
		got <- string(buf[:n])
	}()

	tn := NewTelnet(ln.Addr().String(), "live")
	require.NoError(t, tn.Kick(context.Background()))

	assert.Equal(t, "live.stop\nquit\n", <-got)
}

func TestQueueSource_Current(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("status", "state: play\nsong: 0\nsongid: 7\nplaylistlength: 1\n")
	f.respond("currentsong", "file: track.mp3\nTitle: T\nArtist: A\nPos: 0\nId: 7\n")

	src := NewUserSource(NewMPD(f.ln.Addr().String()))
	now, playing, err := src.Current(context.Background())
	require.NoError(t, err)
	require.True(t, playing)
	assert.Equal(t, "u-7", now.SongID)
	assert.Equal(t, "track.mp3", now.File)
}

func TestQueueSource_IdleWhenPaused(t *testing.T) {
	f := newFakeMPD(t)
	f.respond("status", "state: pause\nsong: 0\nsongid: 7\nplaylistlength: 1\n")

	src := NewFallbackSource(NewMPD(f.ln.Addr().String()))
	_, playing, err := src.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, playing)
}
