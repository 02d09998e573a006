// SPDX-License-Identifier: MIT

package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetters/radiod/internal/apperr"
)

func newManager() *Manager {
	return NewManager("test-secret", []string{"admin-1", "admin-2"}, "internal-1")
}

func TestAdminToken_SetMembership(t *testing.T) {
	m := newManager()

	assert.True(t, m.IsAdmin("admin-1"))
	assert.True(t, m.IsAdmin("admin-2"))
	assert.False(t, m.IsAdmin("admin-3"))
	assert.False(t, m.IsAdmin(""))
}

func TestInternalToken(t *testing.T) {
	m := newManager()

	assert.True(t, m.IsInternal("internal-1"))
	assert.False(t, m.IsInternal("admin-1"))
}

func TestUserToken_Roundtrip(t *testing.T) {
	m := newManager()

	token, userID, err := m.IssueUserToken(time.Hour, 5, 10)
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	claims, err := m.ParseUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.EqualValues(t, 5, claims.MaxQueueSongs)
	assert.EqualValues(t, 10, claims.MaxAddRequests)
}

func TestUserToken_Expired(t *testing.T) {
	m := newManager()

	token, _, err := m.IssueUserToken(-time.Minute, 1, 1)
	require.NoError(t, err)

	_, err = m.ParseUserToken(token)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestUserToken_WrongSecret(t *testing.T) {
	token, _, err := newManager().IssueUserToken(time.Hour, 1, 1)
	require.NoError(t, err)

	other := NewManager("other-secret", nil, "x")
	_, err = other.ParseUserToken(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestTokenTypes_NotInterchangeable(t *testing.T) {
	m := newManager()

	userTok, _, err := m.IssueUserToken(time.Hour, 1, 1)
	require.NoError(t, err)
	_, err = m.ParseLivestreamToken(userTok)
	assert.Error(t, err, "user token must not pass as livestream")

	liveTok, _, err := m.IssueLivestreamToken(3600, nil, 0)
	require.NoError(t, err)
	_, err = m.ParseUserToken(liveTok)
	assert.Error(t, err, "livestream token must not pass as user")
}

func TestLivestreamToken_Claims(t *testing.T) {
	m := newManager()
	show := "Jazz Hour"

	token, userID, err := m.IssueLivestreamToken(300, &show, 10)
	require.NoError(t, err)

	claims, err := m.ParseLivestreamToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.EqualValues(t, 300, claims.MaxStreamingSeconds)
	assert.EqualValues(t, 10, claims.MinRecordingDuration)
	require.NotNil(t, claims.ShowName)
	assert.Equal(t, "Jazz Hour", *claims.ShowName)

	// Validity covers at least twice the streaming allowance.
	remaining := time.Until(claims.ExpiresAt.Time)
	assert.GreaterOrEqual(t, remaining, 599*time.Second)
}

func TestParse_RejectsAlgNone(t *testing.T) {
	m := newManager()

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{
		TokenType: "user", UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ParseUserToken(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestExtractBearer(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractBearer(r))

	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", ExtractBearer(r))

	r.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", ExtractBearer(r), "scheme is case-insensitive")

	r.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, ExtractBearer(r))
}
