// SPDX-License-Identifier: MIT

// Package auth issues and verifies the bearer credentials of the three
// principal kinds: opaque admin/internal tokens and HS256 JWTs for user and
// livestream principals.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mpetters/radiod/internal/apperr"
)

const (
	tokenTypeUser       = "user"
	tokenTypeLivestream = "livestream"

	// Tokens outlive the operational limit they bound so a session can use
	// its full allowance; minFloor keeps very small limits workable.
	expiryFactor = 2
	minExpiry    = 10 * time.Minute
)

// UserClaims carries per-principal queue quotas inside a user JWT.
type UserClaims struct {
	TokenType      string `json:"token_type"`
	UserID         string `json:"user_id"`
	MaxQueueSongs  int64  `json:"max_queue_songs"`
	MaxAddRequests int64  `json:"max_add_requests"`
	jwt.RegisteredClaims
}

// LivestreamClaims carries streaming limits inside a livestream JWT.
type LivestreamClaims struct {
	TokenType            string  `json:"token_type"`
	UserID               string  `json:"user_id"`
	MaxStreamingSeconds  int64   `json:"max_streaming_seconds"`
	ShowName             *string `json:"show_name,omitempty"`
	MinRecordingDuration int64   `json:"min_recording_duration"`
	jwt.RegisteredClaims
}

// Manager verifies bearer credentials against the configured secrets.
type Manager struct {
	secret        []byte
	adminTokens   []string
	internalToken string
}

// NewManager builds a Manager from the configured credentials.
func NewManager(jwtSecret string, adminTokens []string, internalToken string) *Manager {
	return &Manager{
		secret:        []byte(jwtSecret),
		adminTokens:   adminTokens,
		internalToken: internalToken,
	}
}

// IsAdmin reports whether token matches one of the configured admin tokens.
func (m *Manager) IsAdmin(token string) bool {
	ok := false
	for _, t := range m.adminTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			ok = true
		}
	}
	return ok
}

// IsInternal reports whether token is the internal callback credential.
func (m *Manager) IsInternal(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.internalToken)) == 1
}

// IssueUserToken mints a user JWT with a fresh principal id and the given
// quotas, valid for the requested duration.
func (m *Manager) IssueUserToken(duration time.Duration, maxQueueSongs, maxAddRequests int64) (token, userID string, err error) {
	userID = uuid.NewString()
	now := time.Now()

	claims := UserClaims{
		TokenType:      tokenTypeUser,
		UserID:         userID,
		MaxQueueSongs:  maxQueueSongs,
		MaxAddRequests: maxAddRequests,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign user token: %w", err)
	}
	return token, userID, nil
}

// IssueLivestreamToken mints a livestream JWT. Validity is twice the
// streaming allowance so a holder can spend it across reconnects.
func (m *Manager) IssueLivestreamToken(maxStreamingSeconds int64, showName *string, minRecordingDuration int64) (token, userID string, err error) {
	userID = uuid.NewString()
	now := time.Now()

	validity := time.Duration(maxStreamingSeconds*expiryFactor) * time.Second
	if validity < minExpiry {
		validity = minExpiry
	}

	claims := LivestreamClaims{
		TokenType:            tokenTypeLivestream,
		UserID:               userID,
		MaxStreamingSeconds:  maxStreamingSeconds,
		ShowName:             showName,
		MinRecordingDuration: minRecordingDuration,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign livestream token: %w", err)
	}
	return token, userID, nil
}

// ParseUserToken verifies a user JWT and returns its claims.
func (m *Manager) ParseUserToken(token string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeUser {
		return nil, apperr.New(apperr.KindUnauthenticated, "wrong_token_type", "not a user token")
	}
	return claims, nil
}

// ParseLivestreamToken verifies a livestream JWT and returns its claims.
func (m *Manager) ParseLivestreamToken(token string) (*LivestreamClaims, error) {
	claims := &LivestreamClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeLivestream {
		return nil, apperr.New(apperr.KindUnauthenticated, "wrong_token_type", "not a livestream token")
	}
	return claims, nil
}

func (m *Manager) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return apperr.Wrap(apperr.KindUnauthenticated, "invalid_token", "token rejected", err)
	}
	return nil
}

// ExtractBearer pulls the bearer token off a request, or "" when absent.
func ExtractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
