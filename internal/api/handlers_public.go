// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/observer"
)

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_limit", "limit must be an integer"))
			return
		}
		limit = n
	}

	entries, err := s.queue.List(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": entries})
}

// recordingJSON is the public shape of a catalog recording.
type recordingJSON struct {
	ID              int64   `json:"id"`
	ShowName        *string `json:"show_name,omitempty"`
	SessionID       string  `json:"session_id"`
	CreatedAt       string  `json:"created_at"`
	Title           *string `json:"title,omitempty"`
	Artist          *string `json:"artist,omitempty"`
	Genre           *string `json:"genre,omitempty"`
	Description     *string `json:"description,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type showGroup struct {
	ShowName   string          `json:"show_name"`
	Recordings []recordingJSON `json:"recordings"`
}

func (s *Server) handleRecordingsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_page", "page must be >= 1"))
			return
		}
		page = n
	}
	pageSize := 20
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_page_size", "page_size must be between 1 and 100"))
			return
		}
		pageSize = n
	}

	filter := catalog.RecordingFilter{
		ShowName: q.Get("show_name"),
		Search:   q.Get("search"),
		Genre:    q.Get("genre"),
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize,
	}
	for param, dst := range map[string]**time.Time{"date_from": &filter.DateFrom, "date_to": &filter.DateTo} {
		if raw := q.Get(param); raw != "" {
			ts, err := parseDate(raw)
			if err != nil {
				writeError(w, s.logger, apperr.New(apperr.KindBadInput, "bad_date", "%s: expected YYYY-MM-DD or RFC 3339", param))
				return
			}
			*dst = &ts
		}
	}

	recs, total, err := s.catalog.ListRecordings(r.Context(), filter)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "catalog_unavailable", "catalog unreachable", err))
		return
	}

	// Group by show, preserving recency order of first appearance.
	var groups []showGroup
	index := map[string]int{}
	for _, rec := range recs {
		name := rec.ShowName
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, showGroup{ShowName: name})
		}
		groups[i].Recordings = append(groups[i].Recordings, toRecordingJSON(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"shows":     groups,
	})
}

func toRecordingJSON(rec catalog.Recording) recordingJSON {
	out := recordingJSON{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		Title:           rec.Title,
		Artist:          rec.Artist,
		Genre:           rec.Genre,
		Description:     rec.Description,
		DurationSeconds: rec.DurationSeconds,
	}
	if rec.ShowName != "" {
		name := rec.ShowName
		out.ShowName = &name
	}
	return out
}

func parseDate(raw string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
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

	f, err := os.Open(rec.FilePath)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindNotFound, "recording_missing", "recording file missing", err))
		return
	}
	defer func() { _ = f.Close() }()

	// ServeContent handles Range requests and conditional headers.
	w.Header().Set("Content-Type", "audio/ogg")
	http.ServeContent(w, r, "", rec.CreatedAt, f)
}

func (s *Server) handleMetadataNow(w http.ResponseWriter, r *http.Request) {
	source, meta, err := observer.NowPlaying(r.Context(), s.state)
	if err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Source   string         `json:"source"`
		Metadata event.Metadata `json:"metadata"`
	}{Source: source, Metadata: meta})
}
