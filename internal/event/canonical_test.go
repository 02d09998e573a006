// SPDX-License-Identifier: MIT

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsKeysAtEveryLevel(t *testing.T) {
	env := Envelope{
		EventType:   TypeSongChanged,
		Description: "now playing changed",
		Data: map[string]any{
			"source":  "user",
			"song_id": "u-3",
			"nested":  map[string]any{"zeta": 1, "alpha": 2},
		},
		Timestamp: "2026-08-24T12:00:00Z",
	}

	out, err := Canonical(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": {"nested": {"alpha": 2, "zeta": 1}, "song_id": "u-3", "source": "user"},
		"description": "now playing changed",
		"event_type": "song_changed",
		"timestamp": "2026-08-24T12:00:00Z"
	}`, string(out))

	// Byte order is the contract: data < description < event_type < timestamp.
	assert.Equal(t, `{"data":{"nested":{"alpha":2,"zeta":1},"song_id":"u-3","source":"user"},`+
		`"description":"now playing changed","event_type":"song_changed",`+
		`"timestamp":"2026-08-24T12:00:00Z"}`, string(out))
}

func TestCanonical_Deterministic(t *testing.T) {
	env := NewEnvelope(TypeQueueSwitched, "active source switched", QueueSwitched{From: "user", To: "fallback"})

	a, err := Canonical(env)
	require.NoError(t, err)
	b, err := Canonical(env)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonical_NumbersSurviveRoundTrip(t *testing.T) {
	out, err := Canonical(map[string]any{"duration_seconds": 42, "ratio": 0.5})
	require.NoError(t, err)
	assert.Equal(t, `{"duration_seconds":42,"ratio":0.5}`, string(out))
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeSongChanged.Valid())
	assert.True(t, TypeQueueSwitched.Valid())
	// The synchronous test event has no channel and is not subscribable.
	assert.False(t, TypeWebhookTest.Valid())
	assert.False(t, Type("bogus").Valid())
}
