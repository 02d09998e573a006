// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/queue"
)

// parseAddRequest reads a queue admission request. Uploads arrive as
// multipart form data; URL-only requests may use either multipart or a
// plain form body.
func (s *Server) parseAddRequest(w http.ResponseWriter, r *http.Request) (queue.AddInput, func(), error) {
	cleanup := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize)

	var in queue.AddInput
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return in, cleanup, apperr.New(apperr.KindBadInput, "file_too_large", "upload exceeds %d bytes", s.cfg.MaxFileSize)
			}
			return in, cleanup, apperr.Wrap(apperr.KindBadInput, "bad_form", "malformed multipart body", err)
		}

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			path, saveErr := saveUpload(file, header.Filename)
			_ = file.Close()
			if saveErr != nil {
				return in, cleanup, apperr.Wrap(apperr.KindInternal, "upload_failed", "upload could not be stored", saveErr)
			}
			in.UploadPath = path
			cleanup = func() { _ = os.Remove(path) }
		case errors.Is(err, http.ErrMissingFile):
			// URL admission, handled below.
		default:
			return in, cleanup, apperr.Wrap(apperr.KindBadInput, "bad_form", "malformed file field", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return in, cleanup, apperr.Wrap(apperr.KindBadInput, "bad_form", "malformed form body", err)
	}

	in.URL = r.FormValue("url")
	if v := r.FormValue("song_name"); v != "" {
		in.SongName = &v
	}
	if v := r.FormValue("artist"); v != "" {
		in.Artist = &v
	}

	if in.URL == "" && in.UploadPath == "" {
		return in, cleanup, apperr.New(apperr.KindBadInput, "missing_source", "either url or file is required")
	}
	if in.URL != "" && in.UploadPath != "" {
		return in, cleanup, apperr.New(apperr.KindBadInput, "ambiguous_source", "url and file are mutually exclusive")
	}
	return in, cleanup, nil
}

// saveUpload spools the upload to a temp file, keeping the original
// extension so format sniffing downstream still works.
func saveUpload(src io.Reader, name string) (string, error) {
	ext := filepath.Ext(filepath.Base(name))
	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.parseAddRequest(w, r)
	if err != nil {
		cleanup()
		writeError(w, s.logger, err)
		return
	}

	added, err := s.queue.AddUser(r.Context(), userFrom(r), in)
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

func (s *Server) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songID")
	if err := s.queue.Delete(r.Context(), userFrom(r), songID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": songID})
}
