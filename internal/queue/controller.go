// SPDX-License-Identifier: MIT

// Package queue admits media into the user and fallback queues, enforcing
// per-principal quotas and duplicate suppression, and cleans up user-queue
// songs once the mixer has played them out.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/auth"
	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/media"
	"github.com/mpetters/radiod/internal/metrics"
	"github.com/mpetters/radiod/internal/mixer"
	"github.com/mpetters/radiod/internal/state"
)

// quotaTTL bounds how long a principal's counters survive without activity.
// User tokens live at most a day, so a day of quiet means the principal is gone.
const quotaTTL = 24 * time.Hour

// State Store key builders for song bookkeeping. Keys are per-file so the
// observer can resolve ownership from the file alone after the MPD id is gone.
func fpKey(file string) string        { return "song:fp:" + file }
func ownerKey(songID string) string   { return "song:owner:" + songID }
func fileOwnerKey(file string) string { return "song:owner:file:" + file }

// Options carries the controller's tuning knobs.
type Options struct {
	MusicDir        string
	MaxSongDuration time.Duration
	DupWindow       int
}

// Controller owns both queues.
type Controller struct {
	opts       Options
	state      *state.Store
	catalog    *catalog.Store
	user       *mixer.QueueSource
	fallback   *mixer.QueueSource
	downloader media.Downloader
	prober     media.Prober
	logger     zerolog.Logger
}

// New wires a Controller.
func New(opts Options, st *state.Store, cat *catalog.Store, user, fallback *mixer.QueueSource,
	dl media.Downloader, prober media.Prober, logger zerolog.Logger) *Controller {
	return &Controller{
		opts:       opts,
		state:      st,
		catalog:    cat,
		user:       user,
		fallback:   fallback,
		downloader: dl,
		prober:     prober,
		logger:     logger,
	}
}

// AddInput describes one admission request. Exactly one of URL or UploadPath
// is set; UploadPath points at a caller-owned temporary file.
type AddInput struct {
	URL        string
	UploadPath string
	SongName   *string
	Artist     *string
}

// Added reports a completed admission.
type Added struct {
	SongID string
	Title  *string
	Artist *string
	Queue  string
}

// Entry is one row of a queue listing.
type Entry struct {
	SongID string  `json:"song_id"`
	Title  *string `json:"title,omitempty"`
	Artist *string `json:"artist,omitempty"`
	Queue  string  `json:"queue"`
}

// AddUser admits a song into the user queue for the given principal.
// Preconditions run in a fixed order and a failure at any step leaves no
// durable trace: counters are only claimed at the very end, atomically with
// the playlist insert, and any acquired file is removed on abort.
func (c *Controller) AddUser(ctx context.Context, claims *auth.UserClaims, in AddInput) (*Added, error) {
	// Cheap pre-checks before any download. The authoritative check is the
	// atomic reservation below; this only avoids wasted work.
	q, err := c.state.Quota(ctx, claims.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if q.Lifetime >= claims.MaxAddRequests {
		metrics.AdmissionRejections.WithLabelValues("quota_exhausted").Inc()
		return nil, apperr.New(apperr.KindForbidden, "quota_exhausted", "lifetime add limit reached")
	}
	if q.Queued >= claims.MaxQueueSongs {
		metrics.AdmissionRejections.WithLabelValues("queue_full").Inc()
		return nil, apperr.New(apperr.KindForbidden, "queue_full", "queue limit reached")
	}

	fingerprint, file, meta, err := c.acquire(ctx, in)
	if err != nil {
		return nil, err
	}
	abort := func() {
		_ = os.Remove(filepath.Join(c.opts.MusicDir, file))
	}

	dur, err := c.prober.Duration(ctx, filepath.Join(c.opts.MusicDir, file))
	if err != nil {
		abort()
		return nil, apperr.Wrap(apperr.KindBadInput, "unreadable_media", "could not determine duration", err)
	}
	if dur > c.opts.MaxSongDuration {
		abort()
		metrics.AdmissionRejections.WithLabelValues("too_long").Inc()
		return nil, apperr.New(apperr.KindBadInput, "too_long",
			"song is %s, limit is %s", dur.Round(time.Second), c.opts.MaxSongDuration)
	}

	dup, err := c.isDuplicate(ctx, fingerprint)
	if err != nil {
		abort()
		return nil, err
	}
	if dup {
		abort()
		metrics.AdmissionRejections.WithLabelValues("duplicate").Inc()
		return nil, apperr.New(apperr.KindForbidden, "duplicate", "song already queued")
	}

	if err := c.state.ReserveQuota(ctx, claims.UserID, claims.MaxAddRequests, claims.MaxQueueSongs, quotaTTL); err != nil {
		abort()
		switch {
		case errors.Is(err, state.ErrQuotaLifetime):
			return nil, apperr.New(apperr.KindForbidden, "quota_exhausted", "lifetime add limit reached")
		case errors.Is(err, state.ErrQuotaQueued):
			return nil, apperr.New(apperr.KindForbidden, "queue_full", "queue limit reached")
		default:
			return nil, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
		}
	}

	mpdID, err := c.insert(ctx, c.user.Queue(), file)
	if err != nil {
		// The reservation did not stick; roll both counters back.
		if rbErr := c.state.UnreserveQuota(ctx, claims.UserID); rbErr != nil {
			c.logger.Error().Err(rbErr).Str("principal", claims.UserID).Msg("quota rollback failed")
		}
		abort()
		return nil, apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "user queue unreachable", err)
	}

	songID := c.user.SongID(mpdID)
	_ = c.state.Set(ctx, fpKey(file), fingerprint, 0)
	_ = c.state.Set(ctx, ownerKey(songID), claims.UserID, 0)
	_ = c.state.Set(ctx, fileOwnerKey(file), claims.UserID, 0)

	title := in.SongName
	if title == nil && meta.Title != "" {
		t := meta.Title
		title = &t
	}
	artist := in.Artist
	if artist == nil && meta.Artist != "" {
		a := meta.Artist
		artist = &a
	}

	c.logger.Info().
		Str("song_id", songID).
		Str("principal", claims.UserID).
		Dur("duration", dur).
		Msg("song admitted to user queue")
	metrics.Admissions.WithLabelValues(mixer.SourceUser).Inc()

	return &Added{SongID: songID, Title: title, Artist: artist, Queue: mixer.SourceUser}, nil
}

// acquire resolves the input to a fingerprint and a file inside MusicDir.
func (c *Controller) acquire(ctx context.Context, in AddInput) (fingerprint, file string, meta media.DownloadResult, err error) {
	switch {
	case in.URL != "":
		normalized, nErr := media.NormalizeURL(in.URL)
		if nErr != nil {
			return "", "", meta, apperr.Wrap(apperr.KindBadInput, "bad_url", "malformed url", nErr)
		}
		fingerprint = media.URLFingerprint(normalized)

		base := uuid.NewString()
		res, dErr := c.downloader.Download(ctx, normalized, c.opts.MusicDir, base)
		if dErr != nil {
			return "", "", meta, apperr.Wrap(apperr.KindUnavailable, "download_failed", "media download failed", dErr)
		}
		return fingerprint, filepath.Base(res.FilePath), *res, nil

	case in.UploadPath != "":
		hash, hErr := media.FileHash(in.UploadPath)
		if hErr != nil {
			return "", "", meta, apperr.Wrap(apperr.KindBadInput, "unreadable_upload", "could not read upload", hErr)
		}
		fingerprint = media.FileFingerprint(hash)

		file = uuid.NewString() + strings.ToLower(filepath.Ext(in.UploadPath))
		dest := filepath.Join(c.opts.MusicDir, file)
		if mErr := moveFile(in.UploadPath, dest); mErr != nil {
			return "", "", meta, apperr.Wrap(apperr.KindInternal, "store_failed", "could not store upload", mErr)
		}
		return fingerprint, file, meta, nil

	default:
		return "", "", meta, apperr.New(apperr.KindBadInput, "missing_source", "either url or file is required")
	}
}

// isDuplicate checks the fingerprint against the next DupWindow songs of the
// user queue.
func (c *Controller) isDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	songs, err := c.user.Queue().Playlist(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "user queue unreachable", err)
	}
	window := songs
	if len(window) > c.opts.DupWindow {
		window = window[:c.opts.DupWindow]
	}
	for _, s := range window {
		fp, ok, err := c.state.Get(ctx, fpKey(s.File))
		if err != nil {
			return false, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
		}
		if ok && fp == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// insert adds the file to a queue, triggering a library rescan first so the
// daemon can see a file that appeared moments ago.
func (c *Controller) insert(ctx context.Context, q *mixer.MPD, file string) (int, error) {
	_ = q.Update(ctx)
	id, err := q.AddID(ctx, file)
	if err != nil {
		return 0, err
	}
	// A silent queue should start playing once it has something.
	_ = q.Play(ctx)
	return id, nil
}

// Delete removes an owned song from the user queue. Only u- ids are
// deletable by users, and only by the principal that queued them.
func (c *Controller) Delete(ctx context.Context, claims *auth.UserClaims, songID string) error {
	if !strings.HasPrefix(songID, mixer.UserSongPrefix) {
		return apperr.New(apperr.KindForbidden, "not_user_song", "only user queue songs can be deleted")
	}
	owner, ok, err := c.state.Get(ctx, ownerKey(songID))
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "song_not_found", "no such song")
	}
	if owner != claims.UserID {
		return apperr.New(apperr.KindForbidden, "not_owner", "song belongs to another principal")
	}

	if err := c.removeFromQueue(ctx, c.user, songID); err != nil {
		return err
	}
	// Deletion frees a queue slot but never refunds the lifetime counter.
	if err := c.state.ReleaseQueued(ctx, owner); err != nil {
		c.logger.Error().Err(err).Str("principal", owner).Msg("queued counter release failed")
	}
	return nil
}

// AdminDelete removes any song from either queue, without ownership checks.
func (c *Controller) AdminDelete(ctx context.Context, songID string) error {
	src, err := c.sourceFor(songID)
	if err != nil {
		return err
	}
	if err := c.removeFromQueue(ctx, src, songID); err != nil {
		return err
	}
	// Free the owner's slot if a user principal queued it.
	owner, ok, _ := c.state.Get(ctx, ownerKey(songID))
	if ok {
		_ = c.state.ReleaseQueued(ctx, owner)
	}
	return nil
}

func (c *Controller) removeFromQueue(ctx context.Context, src *mixer.QueueSource, songID string) error {
	rawID, err := rawMPDID(songID)
	if err != nil {
		return err
	}

	// Resolve the file before deleting so its artifacts can be cleaned.
	var file string
	if songs, plErr := src.Queue().Playlist(ctx); plErr == nil {
		for _, s := range songs {
			if s.ID == rawID {
				file = s.File
				break
			}
		}
	}

	if err := src.Queue().DeleteID(ctx, rawID); err != nil {
		if strings.Contains(err.Error(), "ACK") {
			return apperr.New(apperr.KindNotFound, "song_not_found", "no such song")
		}
		return apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "queue unreachable", err)
	}

	if file != "" && src.Name() == mixer.SourceUser {
		c.cleanupSongFile(ctx, file)
	}
	_ = c.state.Del(ctx, ownerKey(songID))
	return nil
}

// AddAdmin admits a song into either queue, bypassing every precondition and
// touching no quota counters.
func (c *Controller) AddAdmin(ctx context.Context, queueName string, in AddInput) (*Added, error) {
	src, err := c.sourceByName(queueName)
	if err != nil {
		return nil, err
	}

	_, file, meta, err := c.acquire(ctx, in)
	if err != nil {
		return nil, err
	}

	mpdID, err := c.insert(ctx, src.Queue(), file)
	if err != nil {
		_ = os.Remove(filepath.Join(c.opts.MusicDir, file))
		return nil, apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "queue unreachable", err)
	}

	title := in.SongName
	if title == nil && meta.Title != "" {
		t := meta.Title
		title = &t
	}
	artist := in.Artist
	if artist == nil && meta.Artist != "" {
		a := meta.Artist
		artist = &a
	}

	// Admin songs have no owning principal; tag overrides live in the catalog.
	if title != nil || artist != nil {
		_ = c.catalog.SetSongAdminMetadata(ctx, &catalog.SongAdminMetadata{
			FilePath:  file,
			Title:     title,
			Artist:    artist,
			Queue:     src.Name(),
			CreatedAt: time.Now().UTC(),
		})
	}

	songID := src.SongID(mpdID)
	c.logger.Info().Str("song_id", songID).Str("queue", src.Name()).Msg("song admitted by admin")
	metrics.Admissions.WithLabelValues(src.Name()).Inc()
	return &Added{SongID: songID, Title: title, Artist: artist, Queue: src.Name()}, nil
}

// List returns up to limit entries, user queue first, then fallback.
func (c *Controller) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 || limit > 20 {
		return nil, apperr.New(apperr.KindBadInput, "bad_limit", "limit must be between 1 and 20")
	}

	entries, err := c.ListQueue(ctx, mixer.SourceUser)
	if err != nil {
		return nil, err
	}
	if len(entries) < limit {
		fb, err := c.ListQueue(ctx, mixer.SourceFallback)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fb...)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ListQueue returns the full contents of one queue.
func (c *Controller) ListQueue(ctx context.Context, queueName string) ([]Entry, error) {
	src, err := c.sourceByName(queueName)
	if err != nil {
		return nil, err
	}
	songs, err := src.Queue().Playlist(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "queue unreachable", err)
	}

	entries := make([]Entry, 0, len(songs))
	for _, s := range songs {
		e := Entry{SongID: src.SongID(s.ID), Queue: src.Name()}
		if s.Title != "" {
			t := s.Title
			e.Title = &t
		}
		if s.Artist != "" {
			a := s.Artist
			e.Artist = &a
		}
		if e.Title == nil && e.Artist == nil {
			// Embedded tags can be absent; admin overrides fill the gap.
			if m, mErr := c.catalog.GetSongAdminMetadata(ctx, s.File); mErr == nil && m != nil {
				e.Title = m.Title
				e.Artist = m.Artist
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear empties one queue. User-queue files and their bookkeeping are removed.
func (c *Controller) Clear(ctx context.Context, queueName string) error {
	src, err := c.sourceByName(queueName)
	if err != nil {
		return err
	}

	if src.Name() == mixer.SourceUser {
		if songs, plErr := src.Queue().Playlist(ctx); plErr == nil {
			for _, s := range songs {
				c.cleanupSongFile(ctx, s.File)
				_ = c.state.Del(ctx, ownerKey(src.SongID(s.ID)))
			}
		}
	}

	if err := src.Queue().Clear(ctx); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "queue unreachable", err)
	}
	return nil
}

// Play, Pause and Resume map straight onto the queue daemon.

func (c *Controller) Play(ctx context.Context, queueName string) error {
	return c.control(ctx, queueName, (*mixer.MPD).Play)
}

func (c *Controller) Pause(ctx context.Context, queueName string) error {
	return c.control(ctx, queueName, (*mixer.MPD).Pause)
}

func (c *Controller) Resume(ctx context.Context, queueName string) error {
	return c.control(ctx, queueName, (*mixer.MPD).Resume)
}

func (c *Controller) control(ctx context.Context, queueName string, op func(*mixer.MPD, context.Context) error) error {
	src, err := c.sourceByName(queueName)
	if err != nil {
		return err
	}
	if err := op(src.Queue(), ctx); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "queue_unavailable", "queue unreachable", err)
	}
	return nil
}

// OnSongEnded is invoked by the observer when playback moves off a
// user-queue song. The daemon runs in consume mode so the playlist entry is
// already gone; this releases the owner's slot and removes the file.
func (c *Controller) OnSongEnded(ctx context.Context, file string) {
	owner, ok, err := c.state.Get(ctx, fileOwnerKey(file))
	if err != nil {
		c.logger.Error().Err(err).Str("file", file).Msg("owner lookup failed during cleanup")
		return
	}
	if ok {
		if err := c.state.ReleaseQueued(ctx, owner); err != nil {
			c.logger.Error().Err(err).Str("principal", owner).Msg("queued counter release failed")
		}
	}
	c.cleanupSongFile(ctx, file)
}

func (c *Controller) cleanupSongFile(ctx context.Context, file string) {
	if err := os.Remove(filepath.Join(c.opts.MusicDir, file)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("file", file).Msg("song file removal failed")
	}
	_ = c.state.Del(ctx, fpKey(file), fileOwnerKey(file))
	_ = c.catalog.DeleteSongAdminMetadata(ctx, file)
}

// Bootstrap puts both daemons into their operating modes: the user queue
// consumes songs as they finish, the fallback loops forever.
func (c *Controller) Bootstrap(ctx context.Context) error {
	uq := c.user.Queue()
	if err := uq.SetConsume(ctx, true); err != nil {
		return fmt.Errorf("user queue consume: %w", err)
	}
	_ = uq.SetRepeat(ctx, false)
	_ = uq.Play(ctx)

	fq := c.fallback.Queue()
	if err := fq.SetRepeat(ctx, true); err != nil {
		return fmt.Errorf("fallback queue repeat: %w", err)
	}
	_ = fq.SetConsume(ctx, false)
	_ = fq.SetRandom(ctx, true)
	_ = fq.Play(ctx)

	return nil
}

func (c *Controller) sourceByName(name string) (*mixer.QueueSource, error) {
	switch name {
	case mixer.SourceUser:
		return c.user, nil
	case mixer.SourceFallback:
		return c.fallback, nil
	default:
		return nil, apperr.New(apperr.KindBadInput, "bad_playlist", "playlist must be user or fallback")
	}
}

func (c *Controller) sourceFor(songID string) (*mixer.QueueSource, error) {
	switch {
	case strings.HasPrefix(songID, mixer.UserSongPrefix):
		return c.user, nil
	case strings.HasPrefix(songID, mixer.FallbackSongPrefix):
		return c.fallback, nil
	default:
		return nil, apperr.New(apperr.KindBadInput, "bad_song_id", "unrecognized song id")
	}
}

func rawMPDID(songID string) (int, error) {
	_, num, ok := strings.Cut(songID, "-")
	if !ok {
		return 0, apperr.New(apperr.KindBadInput, "bad_song_id", "unrecognized song id")
	}
	id, err := strconv.Atoi(num)
	if err != nil {
		return 0, apperr.New(apperr.KindBadInput, "bad_song_id", "unrecognized song id")
	}
	return id, nil
}

// moveFile renames when possible and falls back to an atomic copy across
// filesystems (uploads land in the OS temp dir). The destination must never
// be visible half-written: the queue daemon scans the directory.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
