// SPDX-License-Identifier: MIT

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/state"
)

type fixture struct {
	st  *state.Store
	cat *catalog.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	return &fixture{st: state.NewFromClient(client, zerolog.Nop()), cat: cat}
}

// receiver records signed requests.
type receiver struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	stamps []string
	status int
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()

	r := &receiver{status: http.StatusOK}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.sigs = append(r.sigs, req.Header.Get("X-Webhook-Signature"))
		r.stamps = append(r.stamps, req.Header.Get("X-Webhook-Timestamp"))
		status := r.status
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func songChangedPayload(t *testing.T) []byte {
	t.Helper()
	title := "Track"
	env := event.NewEnvelope(event.TypeSongChanged, "song changed", event.SongChanged{
		Source:   "user",
		SongID:   "u-1",
		Metadata: event.Metadata{Title: &title},
	})
	payload, err := event.Canonical(env)
	require.NoError(t, err)
	return payload
}

func TestDeliver_SignatureRoundTrip(t *testing.T) {
	f := newFixture(t)
	rcv := newReceiver(t)
	key := strings.Repeat("k", 16)

	_, _, err := f.cat.UpsertWebhook(context.Background(), &catalog.Webhook{
		URL: rcv.srv.URL, Events: []string{"song_changed"}, SigningKey: key,
	})
	require.NoError(t, err)

	d := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	d.handle(context.Background(), songChangedPayload(t))

	require.Equal(t, 1, rcv.count())

	// The consumer recomputes the HMAC over the raw body bytes; the header
	// must match exactly.
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(rcv.bodies[0])
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, rcv.sigs[0])
	assert.NotEmpty(t, rcv.stamps[0])

	// The body is canonical JSON: keys sorted at every level.
	var env event.Envelope
	require.NoError(t, json.Unmarshal(rcv.bodies[0], &env))
	assert.Equal(t, event.TypeSongChanged, env.EventType)
	assert.Less(t, strings.Index(string(rcv.bodies[0]), `"data"`),
		strings.Index(string(rcv.bodies[0]), `"event_type"`))
}

func TestHandle_FiltersByEventType(t *testing.T) {
	f := newFixture(t)
	rcv := newReceiver(t)
	ctx := context.Background()

	_, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
		URL: rcv.srv.URL, Events: []string{"livestream_started"}, SigningKey: strings.Repeat("k", 16),
	})
	require.NoError(t, err)

	d := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	d.handle(ctx, songChangedPayload(t))

	assert.Zero(t, rcv.count(), "unsubscribed event type must not be delivered")
}

func TestHandle_RecordsOutcome(t *testing.T) {
	f := newFixture(t)
	rcv := newReceiver(t)
	ctx := context.Background()

	hook, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
		URL: rcv.srv.URL, Events: []string{"song_changed"}, SigningKey: strings.Repeat("k", 16),
	})
	require.NoError(t, err)

	d := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	d.handle(ctx, songChangedPayload(t))

	// A failing consumer is recorded as failed; the event source is never
	// affected.
	rcv.mu.Lock()
	rcv.status = http.StatusInternalServerError
	rcv.mu.Unlock()
	d.handle(ctx, songChangedPayload(t))

	deliveries, err := d.Deliveries(ctx, hook.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, StatusFailed, deliveries[0].Status, "newest first")
	require.NotNil(t, deliveries[0].StatusCode)
	assert.Equal(t, http.StatusInternalServerError, *deliveries[0].StatusCode)
	assert.Equal(t, StatusSuccess, deliveries[1].Status)

	stats, err := d.Stats(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failed)
	require.NotNil(t, stats.LastDelivery)
}

func TestHandle_UnreachableConsumerRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hook, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
		URL: "http://127.0.0.1:1/hook", Events: []string{"song_changed"}, SigningKey: strings.Repeat("k", 16),
	})
	require.NoError(t, err)

	d := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	d.handle(ctx, songChangedPayload(t))

	deliveries, err := d.Deliveries(ctx, hook.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, StatusFailed, deliveries[0].Status)
	require.NotNil(t, deliveries[0].Error)
}

func TestPartitioning_ExactlyOnceAcrossReplicas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var receivers []*receiver
	for i := 0; i < 4; i++ {
		rcv := newReceiver(t)
		receivers = append(receivers, rcv)
		_, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
			URL: rcv.srv.URL, Events: []string{"song_changed"}, SigningKey: strings.Repeat("k", 16),
		})
		require.NoError(t, err)
	}

	// Two replicas, each owning one partition, both see every event.
	d0 := NewDispatcher(f.st, f.cat, 2, 0, zerolog.Nop())
	d1 := NewDispatcher(f.st, f.cat, 2, 1, zerolog.Nop())

	payload := songChangedPayload(t)
	d0.handle(ctx, payload)
	d1.handle(ctx, payload)

	for i, rcv := range receivers {
		assert.Equal(t, 1, rcv.count(), "subscription %d must be delivered exactly once", i)
	}
}

func TestLease_SecondDispatcherStaysQuiet(t *testing.T) {
	f := newFixture(t)
	rcv := newReceiver(t)
	ctx := context.Background()

	_, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
		URL: rcv.srv.URL, Events: []string{"song_changed"}, SigningKey: strings.Repeat("k", 16),
	})
	require.NoError(t, err)

	d0 := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	d1 := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())

	payload := songChangedPayload(t)
	d0.handle(ctx, payload)
	d1.handle(ctx, payload)

	assert.Equal(t, 1, rcv.count(), "only the lease holder delivers")
}

func TestTest_SynchronousDelivery(t *testing.T) {
	f := newFixture(t)
	rcv := newReceiver(t)
	ctx := context.Background()

	hook, _, err := f.cat.UpsertWebhook(ctx, &catalog.Webhook{
		URL: rcv.srv.URL, Events: []string{"song_changed"}, SigningKey: strings.Repeat("k", 16),
	})
	require.NoError(t, err)

	d := NewDispatcher(f.st, f.cat, 1, 0, zerolog.Nop())
	out, err := d.Test(ctx, hook)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, http.StatusOK, *out.StatusCode)

	require.Equal(t, 1, rcv.count())
	var env event.Envelope
	require.NoError(t, json.Unmarshal(rcv.bodies[0], &env))
	assert.Equal(t, event.TypeWebhookTest, env.EventType)
}
