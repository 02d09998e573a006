// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/observer"
)

// handleLivestreamAuth decides a source-client connection attempt. The mixer
// passes the client's password through; the username is ignored.
func (s *Server) handleLivestreamAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	result, err := s.arbiter.Auth(r.Context(), body.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLivestreamConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.SessionID == "" {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_session", "session_id is required"))
		return
	}

	if err := s.arbiter.Connect(r.Context(), body.SessionID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLivestreamDisconnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.SessionID == "" {
		writeError(w, s.logger, apperr.New(apperr.KindBadInput, "missing_session", "session_id is required"))
		return
	}

	if err := s.arbiter.Disconnect(r.Context(), body.SessionID, body.Reason); err != nil {
		writeError(w, s.logger, err)
		return
	}
	// The next session starts with clean tags.
	if err := observer.ClearLiveMetadata(r.Context(), s.state); err != nil {
		s.logger.Warn().Err(err).Msg("live metadata reset failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLivestreamMetadata(w http.ResponseWriter, r *http.Request) {
	var meta event.Metadata
	if err := decodeJSON(r, &meta); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := observer.MergeLiveMetadata(r.Context(), s.state, meta); err != nil {
		writeError(w, s.logger, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
