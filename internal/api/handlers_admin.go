// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/mixer"
	"github.com/mpetters/radiod/internal/queue"
)

const (
	maxTokenDuration = 24 * time.Hour

	minStreamingSeconds = int64(60)
	maxStreamingSeconds = int64(28800)
	maxRecordingGate    = int64(3600)

	minSigningKeyLen = 16
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindBadInput, "bad_json", "malformed request body", err)
	}
	return nil
}

func (s *Server) handleIssueUserToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationSeconds int64 `json:"duration_seconds"`
		MaxQueueSongs   int64 `json:"max_queue_songs"`
		MaxAddRequests  int64 `json:"max_add_requests"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.DurationSeconds < 1 || time.Duration(body.DurationSeconds)*time.Second > maxTokenDuration {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_duration",
			"duration_seconds must be between 1 and %d", int64(maxTokenDuration/time.Second)))
		return
	}
	if body.MaxQueueSongs < 1 || body.MaxAddRequests < 1 {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_limits",
			"max_queue_songs and max_add_requests must be positive"))
		return
	}

	token, userID, err := s.auth.IssueUserToken(
		time.Duration(body.DurationSeconds)*time.Second, body.MaxQueueSongs, body.MaxAddRequests)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "user_id": userID})
}

func (s *Server) handleIssueLivestreamToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MaxStreamingSeconds  int64   `json:"max_streaming_seconds"`
		ShowName             *string `json:"show_name,omitempty"`
		MinRecordingDuration int64   `json:"min_recording_duration"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.MaxStreamingSeconds < minStreamingSeconds || body.MaxStreamingSeconds > maxStreamingSeconds {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_streaming_limit",
			"max_streaming_seconds must be between %d and %d", minStreamingSeconds, maxStreamingSeconds))
		return
	}
	if body.MinRecordingDuration < 0 || body.MinRecordingDuration > maxRecordingGate {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_recording_gate",
			"min_recording_duration must be between 0 and %d", maxRecordingGate))
		return
	}
	if body.ShowName != nil {
		show, err := s.catalog.GetShowByName(r.Context(), *body.ShowName)
		if err != nil {
			writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
			return
		}
		if show == nil {
			writeError(w, s.logger, apperr.New(apperr.KindNotFound, "show_not_found", "no show named %q", *body.ShowName))
			return
		}
	}

	token, userID, err := s.auth.IssueLivestreamToken(body.MaxStreamingSeconds, body.ShowName, body.MinRecordingDuration)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "user_id": userID})
}

// --- queue administration ---

func playlistParam(r *http.Request) string {
	if p := r.URL.Query().Get("playlist"); p != "" {
		return p
	}
	return mixer.SourceUser
}

func (s *Server) handleAdminQueueAdd(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.parseAddRequest(w, r)
	if err != nil {
		cleanup()
		writeError(w, s.logger, err)
		return
	}

	added, err := s.queue.AddAdmin(r.Context(), playlistParam(r), in)
	if err != nil {
		cleanup()
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queue.Entry{
		SongID: added.SongID,
		Title:  added.Title,
		Artist: added.Artist,
		Queue:  added.Queue,
	})
}

func (s *Server) handleAdminQueueList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.ListQueue(r.Context(), playlistParam(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": entries})
}

func (s *Server) handleAdminQueueDelete(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songID")
	if err := s.queue.AdminDelete(r.Context(), songID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": songID})
}

func (s *Server) handleAdminQueueClear(w http.ResponseWriter, r *http.Request) {
	playlist := playlistParam(r)
	if err := s.queue.Clear(r.Context(), playlist); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cleared": playlist})
}

func (s *Server) handleAdminPlayback(w http.ResponseWriter, r *http.Request) {
	playlist := playlistParam(r)
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "play":
		err = s.queue.Play(r.Context(), playlist)
	case "pause":
		err = s.queue.Pause(r.Context(), playlist)
	case "resume":
		err = s.queue.Resume(r.Context(), playlist)
	default:
		err = apperr.New(apperr.KindBadInput, "bad_action", "action must be play, pause or resume")
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action, "playlist": playlist})
}

func (s *Server) handleAdminRecordingDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_id", "recording id must be an integer"))
		return
	}

	rec, err := s.catalog.GetRecording(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if rec == nil {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "recording_not_found", "no such recording"))
		return
	}

	if err := s.catalog.DeleteRecording(r.Context(), id); err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", rec.FilePath).Msg("recording file removal failed")
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

// --- webhooks ---

// webhookJSON is the read shape. The signing key is write-only.
type webhookJSON struct {
	ID          string   `json:"webhook_id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description *string  `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func toWebhookJSON(h catalog.Webhook) webhookJSON {
	return webhookJSON{
		ID:          h.ID,
		URL:         h.URL,
		Events:      h.Events,
		Description: h.Description,
		CreatedAt:   h.CreatedAt.Format(time.RFC3339),
	}
}

func validEventTypes(requested []string) bool {
	for _, e := range requested {
		if !event.Type(e).Valid() {
			return false
		}
	}
	return true
}

func (s *Server) handleWebhookSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL         string   `json:"url"`
		Events      []string `json:"events"`
		SigningKey  string   `json:"signing_key"`
		Description *string  `json:"description,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	switch {
	case body.URL == "":
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_url", "url is required"))
		return
	case len(body.Events) == 0:
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_events", "at least one event type is required"))
		return
	case !validEventTypes(body.Events):
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "unknown_event", "unrecognized event type"))
		return
	case len(body.SigningKey) < minSigningKeyLen:
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "weak_signing_key",
			"signing_key must be at least %d characters", minSigningKeyLen))
		return
	}

	hook, created, err := s.catalog.UpsertWebhook(r.Context(), &catalog.Webhook{
		URL:         body.URL,
		Events:      body.Events,
		SigningKey:  body.SigningKey,
		Description: body.Description,
	})
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toWebhookJSON(*hook))
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.catalog.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	out := make([]webhookJSON, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, toWebhookJSON(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.catalog.DeleteWebhook(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if !existed {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "webhook_not_found", "no such webhook"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) lookupWebhook(w http.ResponseWriter, r *http.Request) *catalog.Webhook {
	hook, err := s.catalog.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return nil
	}
	if hook == nil {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "webhook_not_found", "no such webhook"))
		return nil
	}
	return hook
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	hook := s.lookupWebhook(w, r)
	if hook == nil {
		return
	}
	deliveries, err := s.dispatcher.Deliveries(r.Context(), hook.ID)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	hook := s.lookupWebhook(w, r)
	if hook == nil {
		return
	}
	stats, err := s.dispatcher.Stats(r.Context(), hook.ID)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	hook := s.lookupWebhook(w, r)
	if hook == nil {
		return
	}
	outcome, err := s.dispatcher.Test(r.Context(), hook)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// --- shows ---

type showJSON struct {
	ID          string  `json:"id"`
	ShowName    string  `json:"show_name"`
	Description *string `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toShowJSON(sh catalog.Show) showJSON {
	return showJSON{
		ID:          sh.ID,
		ShowName:    sh.ShowName,
		Description: sh.Description,
		CreatedAt:   sh.CreatedAt.Format(time.RFC3339),
	}
}

type showBody struct {
	ShowName    string  `json:"show_name"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleShowCreate(w http.ResponseWriter, r *http.Request) {
	var body showBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.ShowName == "" {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_show_name", "show_name is required"))
		return
	}

	show, err := s.catalog.CreateShow(r.Context(), body.ShowName, body.Description)
	if errors.Is(err, catalog.ErrShowNameTaken) {
		writeError(w, s.logger, apperr.New(apperr.KindConflict, "show_name_taken", "a show named %q already exists", body.ShowName))
		return
	}
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	writeJSON(w, http.StatusCreated, toShowJSON(*show))
}

func (s *Server) handleShowList(w http.ResponseWriter, r *http.Request) {
	shows, err := s.catalog.ListShows(r.Context())
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	out := make([]showJSON, 0, len(shows))
	for _, sh := range shows {
		out = append(out, toShowJSON(sh))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shows": out})
}

func (s *Server) handleShowGet(w http.ResponseWriter, r *http.Request) {
	show, err := s.catalog.GetShow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if show == nil {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "show_not_found", "no such show"))
		return
	}
	writeJSON(w, http.StatusOK, toShowJSON(*show))
}

func (s *Server) handleShowUpdate(w http.ResponseWriter, r *http.Request) {
	var body showBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.ShowName == "" {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_show_name", "show_name is required"))
		return
	}

	id := chi.URLParam(r, "id")
	existed, err := s.catalog.UpdateShow(r.Context(), id, body.ShowName, body.Description)
	if errors.Is(err, catalog.ErrShowNameTaken) {
		writeError(w, s.logger, apperr.New(apperr.KindConflict, "show_name_taken", "a show named %q already exists", body.ShowName))
		return
	}
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if !existed {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "show_not_found", "no such show"))
		return
	}

	show, err := s.catalog.GetShow(r.Context(), id)
	if err != nil || show == nil {
		writeJSON(w, http.StatusOK, map[string]string{"updated": id})
		return
	}
	writeJSON(w, http.StatusOK, toShowJSON(*show))
}

func (s *Server) handleShowDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.catalog.DeleteShow(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}
	if !existed {
		writeError(w, s.logger, apperr.New(apperr.KindNotFound, "show_not_found", "no such show"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
