// SPDX-License-Identifier: MIT

package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/state"
)

// fakeCapture writes a marker file on start; Stop is a no-op.
type fakeCapturer struct {
	started []string
	failure error
}

type fakeHandle struct{ stopped bool }

func (h *fakeHandle) Stop() error {
	h.stopped = true
	return nil
}

func (c *fakeCapturer) Start(_ context.Context, destPath string) (CaptureHandle, error) {
	if c.failure != nil {
		return nil, c.failure
	}
	if err := os.WriteFile(destPath, []byte("ogg data"), 0o644); err != nil {
		return nil, err
	}
	c.started = append(c.started, destPath)
	return &fakeHandle{}, nil
}

// fakeProber returns a fixed duration, shortened once trimmed.
type fakeProber struct {
	dur     time.Duration
	trimmed *time.Duration
}

func (p *fakeProber) Duration(context.Context, string) (time.Duration, error) {
	if p.trimmed != nil {
		return *p.trimmed, nil
	}
	return p.dur, nil
}

type fakeTrimmer struct {
	calls int
	after time.Duration
	p     *fakeProber
}

func (t *fakeTrimmer) TrimSilence(context.Context, string) error {
	t.calls++
	if t.after > 0 {
		t.p.trimmed = &t.after
	}
	return nil
}

type fixture struct {
	w      *Worker
	cat    *catalog.Store
	cap    *fakeCapturer
	prober *fakeProber
	trim   *fakeTrimmer
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := state.NewFromClient(client, zerolog.Nop())

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	dir := t.TempDir()
	capturer := &fakeCapturer{}
	prober := &fakeProber{dur: 20 * time.Second}
	trim := &fakeTrimmer{p: prober}

	w := New(st, cat, capturer, prober, trim, dir, zerolog.Nop())
	require.NoError(t, os.MkdirAll(w.tmpDir(), 0o755))

	return &fixture{w: w, cat: cat, cap: capturer, prober: prober, trim: trim, dir: dir}
}

func started(sessionID string) event.LivestreamStarted {
	return event.LivestreamStarted{PrincipalID: "p1", SessionID: sessionID, MinRecordingDuration: 10}
}

func ended(sessionID string) event.LivestreamEnded {
	return event.LivestreamEnded{PrincipalID: "p1", SessionID: sessionID, Reason: "client"}
}

func (f *fixture) recordings(t *testing.T) []catalog.Recording {
	t.Helper()
	recs, _, err := f.cat.ListRecordings(context.Background(), catalog.RecordingFilter{})
	require.NoError(t, err)
	return recs
}

func TestCapture_BelowThresholdDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.prober.dur = 4 * time.Second
	f.w.handleStarted(ctx, started("s1"))
	f.w.handleEnded(ctx, ended("s1"))

	assert.Empty(t, f.recordings(t), "short capture must not be archived")

	entries, err := os.ReadDir(f.w.tmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "short capture file must be removed")
	assert.Zero(t, f.trim.calls, "discarded captures are not trimmed")
}

func TestCapture_ArchivedWithTrimmedDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.prober.dur = 20 * time.Second
	f.trim.after = 18 * time.Second

	f.w.handleStarted(ctx, started("s1"))
	f.w.handleEnded(ctx, ended("s1"))

	recs := f.recordings(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0].SessionID)
	assert.InDelta(t, 18, recs[0].DurationSeconds, 0.001, "archived duration is post-trim")
	assert.Equal(t, 1, f.trim.calls)

	// The row points at the final location, never into tmp.
	assert.Equal(t, f.dir, filepath.Dir(recs[0].FilePath))
	assert.Equal(t, ".ogg", filepath.Ext(recs[0].FilePath))
	_, statErr := os.Stat(recs[0].FilePath)
	assert.NoError(t, statErr)

	entries, err := os.ReadDir(f.w.tmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCapture_MetadataLastSeenWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.handleStarted(ctx, started("s1"))

	first, second := "Opening Set", "Closing Set"
	f.w.handleMetadata(event.Metadata{Title: &first})
	f.w.handleMetadata(event.Metadata{Title: &second})

	f.w.handleEnded(ctx, ended("s1"))

	recs := f.recordings(t)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Title)
	assert.Equal(t, "Closing Set", *recs[0].Title)
}

func TestCapture_ShowAssociation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	show, err := f.cat.CreateShow(ctx, "Jazz Hour", nil)
	require.NoError(t, err)

	ev := started("s1")
	ev.ShowID = "Jazz Hour"
	f.w.handleStarted(ctx, ev)
	f.w.handleEnded(ctx, ended("s1"))

	recs := f.recordings(t)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ShowID)
	assert.Equal(t, show.ID, *recs[0].ShowID)
	assert.Equal(t, "Jazz Hour", recs[0].ShowName)
}

func TestStarted_ReplayedForSameSessionKeepsCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.handleStarted(ctx, started("s1"))
	f.w.handleStarted(ctx, started("s1"))

	assert.Len(t, f.cap.started, 1, "replayed start must not restart the capture")

	f.w.handleEnded(ctx, ended("s1"))
	assert.Len(t, f.recordings(t), 1, "the original capture survives the replay")
}

func TestEnded_InsertFailureLeavesNoFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.handleStarted(ctx, started("s1"))
	require.NoError(t, f.cat.Close())
	f.w.handleEnded(ctx, ended("s1"))

	// Neither a half-archived file nor a tmp leftover remains.
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "unexpected file %s", e.Name())
	}
	tmpEntries, err := os.ReadDir(f.w.tmpDir())
	require.NoError(t, err)
	assert.Empty(t, tmpEntries)
}

func TestEnded_UnknownSessionIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.w.handleStarted(ctx, started("s1"))
	f.w.handleEnded(ctx, ended("other"))

	assert.Empty(t, f.recordings(t), "mismatched session must not finalize the capture")
}

func TestStarted_CaptureFailureDoesNotCrash(t *testing.T) {
	f := newFixture(t)
	f.cap.failure = os.ErrPermission

	f.w.handleStarted(context.Background(), started("s1"))
	f.w.handleEnded(context.Background(), ended("s1"))

	assert.Empty(t, f.recordings(t))
}

func TestReapOrphans(t *testing.T) {
	f := newFixture(t)

	orphan := filepath.Join(f.w.tmpDir(), "dead-session.ogg")
	require.NoError(t, os.WriteFile(orphan, []byte("leftover"), 0o644))

	f.w.reapOrphans()

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}
