// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/auth"
)

type ctxKey int

const userClaimsKey ctxKey = iota

// requireUser admits only valid user JWTs and stashes the claims.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearer(r)
		if token == "" {
			writeError(w, s.logger, apperr.New(apperr.KindUnauthenticated, "missing_token", "bearer token required"))
			return
		}
		claims, err := s.auth.ParseUserToken(token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		ctx := context.WithValue(r.Context(), userClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) *auth.UserClaims {
	claims, _ := r.Context().Value(userClaimsKey).(*auth.UserClaims)
	return claims
}

// requireAdmin admits only configured admin tokens.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.IsAdmin(auth.ExtractBearer(r)) {
			writeError(w, s.logger, apperr.New(apperr.KindUnauthenticated, "invalid_token", "admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireInternal admits only the mixer callback credential.
func (s *Server) requireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.IsInternal(auth.ExtractBearer(r)) {
			writeError(w, s.logger, apperr.New(apperr.KindUnauthenticated, "invalid_token", "internal token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
