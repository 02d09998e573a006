// SPDX-License-Identifier: MIT

// Package recorder captures the mixer output for every accepted live session
// and archives recordings that meet the session's minimum duration.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/media"
	"github.com/mpetters/radiod/internal/metrics"
	"github.com/mpetters/radiod/internal/state"
)

// Worker owns the capture lifecycle, keyed by session id. At most one
// session is live at a time, mirroring the slot invariant.
type Worker struct {
	st            *state.Store
	cat           *catalog.Store
	capturer      Capturer
	prober        media.Prober
	trimmer       media.Trimmer
	recordingsDir string
	logger        zerolog.Logger

	mu     sync.Mutex
	active *session
}

type session struct {
	sessionID    string
	principalID  string
	showName     string
	minRecording int
	tmpPath      string
	handle       CaptureHandle
	startedAt    time.Time
	meta         event.Metadata
}

// New wires a Worker.
func New(st *state.Store, cat *catalog.Store, capturer Capturer, prober media.Prober,
	trimmer media.Trimmer, recordingsDir string, logger zerolog.Logger) *Worker {
	return &Worker{
		st:            st,
		cat:           cat,
		capturer:      capturer,
		prober:        prober,
		trimmer:       trimmer,
		recordingsDir: recordingsDir,
		logger:        logger,
	}
}

func (w *Worker) tmpDir() string { return filepath.Join(w.recordingsDir, "tmp") }

// Run consumes livestream lifecycle events until ctx is cancelled. Orphaned
// temporary captures from a previous crash are reaped first.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.tmpDir(), 0o755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	w.reapOrphans()

	sub := w.st.Subscribe(ctx,
		event.TypeLivestreamStarted.Channel(),
		event.TypeLivestreamEnded.Channel(),
		event.TypeSongChanged.Channel(),
	)
	defer func() { _ = sub.Close() }()

	w.logger.Info().Str("dir", w.recordingsDir).Msg("recording worker started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			w.abortActive()
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			w.dispatch(ctx, []byte(msg.Payload))
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, payload []byte) {
	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return
	}

	switch env.EventType {
	case event.TypeLivestreamStarted:
		var data event.LivestreamStarted
		if json.Unmarshal(raw, &data) == nil {
			w.handleStarted(ctx, data)
		}
	case event.TypeLivestreamEnded:
		var data event.LivestreamEnded
		if json.Unmarshal(raw, &data) == nil {
			w.handleEnded(ctx, data)
		}
	case event.TypeSongChanged:
		var data event.SongChanged
		if json.Unmarshal(raw, &data) == nil && data.Source == "livestream" {
			w.handleMetadata(data.Metadata)
		}
	}
}

// handleStarted begins a capture for the session.
func (w *Worker) handleStarted(ctx context.Context, data event.LivestreamStarted) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		if w.active.sessionID == data.SessionID {
			// Replayed confirmation for the running session.
			return
		}
		// A stale capture means we missed an ended event; drop it.
		w.logger.Warn().Str("session_id", w.active.sessionID).Msg("abandoning stale capture")
		w.stopAndDiscardLocked()
	}

	tmpPath := filepath.Join(w.tmpDir(), data.SessionID+".ogg")
	handle, err := w.capturer.Start(ctx, tmpPath)
	if err != nil {
		// A failed capture never affects the broadcast.
		w.logger.Error().Err(err).Str("session_id", data.SessionID).Msg("capture start failed")
		return
	}

	w.active = &session{
		sessionID:    data.SessionID,
		principalID:  data.PrincipalID,
		showName:     data.ShowID,
		minRecording: data.MinRecordingDuration,
		tmpPath:      tmpPath,
		handle:       handle,
		startedAt:    time.Now(),
	}
	w.logger.Info().Str("session_id", data.SessionID).Msg("capture started")
}

// handleMetadata keeps the last-seen embedded tags for the active session.
func (w *Worker) handleMetadata(meta event.Metadata) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active != nil {
		w.active.meta = meta
	}
}

// handleEnded stops the capture and decides whether to archive it.
func (w *Worker) handleEnded(ctx context.Context, data event.LivestreamEnded) {
	w.mu.Lock()
	sess := w.active
	if sess == nil || sess.sessionID != data.SessionID {
		w.mu.Unlock()
		return
	}
	w.active = nil
	w.mu.Unlock()

	if err := sess.handle.Stop(); err != nil {
		w.logger.Warn().Err(err).Str("session_id", sess.sessionID).Msg("capture stop")
	}
	w.finalize(ctx, sess)
}

// finalize measures, trims and archives one capture. The file reaches its
// final location before the row exists, so a crash at any point leaves at
// worst an orphaned file, never a row whose file is missing or still in tmp.
func (w *Worker) finalize(ctx context.Context, sess *session) {
	discard := func() { _ = os.Remove(sess.tmpPath) }

	dur, err := w.prober.Duration(ctx, sess.tmpPath)
	if err != nil {
		w.logger.Error().Err(err).Str("session_id", sess.sessionID).Msg("capture unreadable, discarding")
		discard()
		return
	}
	if dur < time.Duration(sess.minRecording)*time.Second {
		w.logger.Info().
			Str("session_id", sess.sessionID).
			Dur("duration", dur).
			Int("min_seconds", sess.minRecording).
			Msg("capture below retention threshold, discarding")
		discard()
		return
	}

	if err := w.trimmer.TrimSilence(ctx, sess.tmpPath); err != nil {
		// The untrimmed capture is still worth keeping.
		w.logger.Warn().Err(err).Str("session_id", sess.sessionID).Msg("silence trim failed")
	} else if trimmed, pErr := w.prober.Duration(ctx, sess.tmpPath); pErr == nil {
		dur = trimmed
	}

	var showID *string
	if sess.showName != "" {
		if show, sErr := w.cat.GetShowByName(ctx, sess.showName); sErr == nil && show != nil {
			showID = &show.ID
		}
	}

	finalPath := filepath.Join(w.recordingsDir, uuid.NewString()+".ogg")
	if err := os.Rename(sess.tmpPath, finalPath); err != nil {
		w.logger.Error().Err(err).Str("session_id", sess.sessionID).Msg("recording move failed, discarding")
		discard()
		return
	}

	rec := &catalog.Recording{
		ShowID:          showID,
		SessionID:       sess.sessionID,
		CreatedAt:       sess.startedAt.UTC(),
		Title:           sess.meta.Title,
		Artist:          sess.meta.Artist,
		Genre:           sess.meta.Genre,
		Description:     sess.meta.Description,
		DurationSeconds: dur.Seconds(),
		FilePath:        finalPath,
	}
	id, err := w.cat.InsertRecording(ctx, rec)
	if err != nil {
		// No phantom files either way: a failed insert takes the file with it.
		w.logger.Error().Err(err).Str("session_id", sess.sessionID).Msg("recording insert failed")
		_ = os.Remove(finalPath)
		return
	}

	w.logger.Info().
		Int64("recording_id", id).
		Str("session_id", sess.sessionID).
		Dur("duration", dur).
		Msg("recording archived")
	metrics.RecordingsArchived.Inc()
}

// reapOrphans removes temporary captures left behind by a crash. Rows only
// ever reference files outside tmp, so everything here is garbage.
func (w *Worker) reapOrphans() {
	entries, err := os.ReadDir(w.tmpDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.tmpDir(), e.Name())
		if err := os.Remove(path); err == nil {
			w.logger.Info().Str("file", e.Name()).Msg("reaped orphaned capture")
		}
	}
}

func (w *Worker) abortActive() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopAndDiscardLocked()
}

func (w *Worker) stopAndDiscardLocked() {
	if w.active == nil {
		return
	}
	_ = w.active.handle.Stop()
	_ = os.Remove(w.active.tmpPath)
	w.active = nil
}
