// SPDX-License-Identifier: MIT

// Package observer polls the two queue daemons and the livestream slot,
// derives the audible source and now-playing metadata, and emits
// queue_switched and song_changed transitions.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/livestream"
	"github.com/mpetters/radiod/internal/mixer"
	"github.com/mpetters/radiod/internal/state"
)

const (
	activeSourceKey = "metadata:active_source"
	liveMetadataKey = "metadata:live"
)

func sourceMetadataKey(source string) string { return "metadata:" + source }

// SlotChecker exposes the live session, if any.
type SlotChecker interface {
	CurrentSlot(ctx context.Context) (*livestream.Slot, error)
}

// Cleanup is notified when playback moves off a user-queue song.
type Cleanup interface {
	OnSongEnded(ctx context.Context, file string)
}

// Observer drives the poll loop. One instance runs at a time, enforced by a
// State Store lease.
type Observer struct {
	user     mixer.Source
	fallback mixer.Source
	slots    SlotChecker
	cleanup  Cleanup
	st       *state.Store
	bus      *event.Bus
	lease    *state.Lease
	interval time.Duration
	logger   zerolog.Logger

	// Previous observation; zero values mean nothing seen yet.
	prevSource   string
	prevIdentity string
	prevUserFile string
}

// New wires an Observer.
func New(user, fallback mixer.Source, slots SlotChecker, cleanup Cleanup,
	st *state.Store, bus *event.Bus, interval time.Duration, logger zerolog.Logger) *Observer {
	return &Observer{
		user:     user,
		fallback: fallback,
		slots:    slots,
		cleanup:  cleanup,
		st:       st,
		bus:      bus,
		lease:    state.NewLease(st, "observer", 3*interval),
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. A lost lease suspends observation;
// per-poll errors are logged and never stop the loop.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.lease.Release(releaseCtx)
	}()

	o.logger.Info().Dur("interval", o.interval).Msg("source observer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			held, err := o.lease.TryAcquire(ctx)
			if err != nil || !held {
				continue
			}
			o.observe(ctx)
		}
	}
}

// observe performs one poll step.
func (o *Observer) observe(ctx context.Context) {
	slot, err := o.slots.CurrentSlot(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("slot check failed, skipping poll")
		return
	}

	// A daemon outage makes that queue silent; it never crashes the loop.
	userNow, userPlaying := o.poll(ctx, o.user)
	fallbackNow, _ := o.poll(ctx, o.fallback)

	var (
		source   string
		identity string
		meta     event.Metadata
		songID   string
	)
	switch {
	case slot != nil:
		source = mixer.SourceLive
		meta = o.liveMetadata(ctx)
		identity = fmt.Sprintf("live:%s:%s", slot.SessionID, metadataIdentity(meta))
	case userPlaying:
		source = mixer.SourceUser
		songID = userNow.SongID
		meta = queueMetadata(userNow)
		identity = "user:" + userNow.File + ":" + userNow.SongID
	default:
		source = mixer.SourceFallback
		if fallbackNow != nil {
			songID = fallbackNow.SongID
			meta = queueMetadata(fallbackNow)
			identity = "fallback:" + fallbackNow.File + ":" + fallbackNow.SongID
		} else {
			identity = "fallback:silent"
		}
	}

	if o.prevSource != "" && source != o.prevSource {
		o.bus.Publish(ctx, event.TypeQueueSwitched,
			fmt.Sprintf("active source switched from %s to %s", o.prevSource, source),
			event.QueueSwitched{From: o.prevSource, To: source})
	}
	if o.prevIdentity != "" && identity != o.prevIdentity {
		o.bus.Publish(ctx, event.TypeSongChanged, "now playing changed", event.SongChanged{
			Source:   source,
			SongID:   songID,
			Metadata: meta,
		})
	}

	// Playback moved off a user-queue song: its file is done and can go.
	curUserFile := ""
	if userNow != nil {
		curUserFile = userNow.File
	}
	if o.prevUserFile != "" && curUserFile != o.prevUserFile {
		o.cleanup.OnSongEnded(ctx, o.prevUserFile)
	}

	o.writeProjection(ctx, source, meta)

	o.prevSource = source
	o.prevIdentity = identity
	o.prevUserFile = curUserFile
}

func (o *Observer) poll(ctx context.Context, src mixer.Source) (*mixer.Now, bool) {
	now, playing, err := src.Current(ctx)
	if err != nil {
		o.logger.Debug().Err(err).Str("source", src.Name()).Msg("queue poll failed, treating as silent")
		return nil, false
	}
	if !playing {
		return nil, false
	}
	return now, true
}

func (o *Observer) liveMetadata(ctx context.Context) event.Metadata {
	raw, ok, err := o.st.Get(ctx, liveMetadataKey)
	if err != nil || !ok {
		return event.Metadata{}
	}
	var meta event.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return event.Metadata{}
	}
	return meta
}

// writeProjection persists the now-playing view the public metadata endpoint
// reads.
func (o *Observer) writeProjection(ctx context.Context, source string, meta event.Metadata) {
	if err := o.st.Set(ctx, activeSourceKey, source, 0); err != nil {
		o.logger.Warn().Err(err).Msg("active source write failed")
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := o.st.Set(ctx, sourceMetadataKey(source), string(raw), 0); err != nil {
		o.logger.Warn().Err(err).Msg("metadata write failed")
	}
}

func queueMetadata(now *mixer.Now) event.Metadata {
	var meta event.Metadata
	if now.Title != "" {
		t := now.Title
		meta.Title = &t
	}
	if now.Artist != "" {
		a := now.Artist
		meta.Artist = &a
	}
	return meta
}

func metadataIdentity(m event.Metadata) string {
	return fmt.Sprintf("%s|%s|%s|%s", deref(m.Title), deref(m.Artist), deref(m.Genre), deref(m.Description))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SetLiveMetadata stores the tags reported by the mixer's metadata callback.
// Last-seen values win; the observer picks them up on its next poll.
func SetLiveMetadata(ctx context.Context, st *state.Store, meta event.Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return st.Set(ctx, liveMetadataKey, string(raw), 0)
}

// MergeLiveMetadata overlays the non-empty fields of update onto the stored
// livestream tags. Source clients often resend only the title.
func MergeLiveMetadata(ctx context.Context, st *state.Store, update event.Metadata) error {
	var current event.Metadata
	raw, ok, err := st.Get(ctx, liveMetadataKey)
	if err != nil {
		return err
	}
	if ok {
		_ = json.Unmarshal([]byte(raw), &current)
	}

	if update.Title != nil {
		current.Title = update.Title
	}
	if update.Artist != nil {
		current.Artist = update.Artist
	}
	if update.Genre != nil {
		current.Genre = update.Genre
	}
	if update.Description != nil {
		current.Description = update.Description
	}
	return SetLiveMetadata(ctx, st, current)
}

// ClearLiveMetadata drops the stored livestream tags, called when a live
// session ends so the next one starts clean.
func ClearLiveMetadata(ctx context.Context, st *state.Store) error {
	return st.Del(ctx, liveMetadataKey)
}

// NowPlaying reads the projection the observer maintains.
func NowPlaying(ctx context.Context, st *state.Store) (string, event.Metadata, error) {
	source, ok, err := st.Get(ctx, activeSourceKey)
	if err != nil {
		return "", event.Metadata{}, err
	}
	if !ok {
		return mixer.SourceFallback, event.Metadata{}, nil
	}

	var meta event.Metadata
	raw, ok, err := st.Get(ctx, sourceMetadataKey(source))
	if err != nil {
		return "", event.Metadata{}, err
	}
	if ok {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	return source, meta, nil
}
