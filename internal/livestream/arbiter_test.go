// SPDX-License-Identifier: MIT

package livestream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetters/radiod/internal/auth"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/state"
)

// capturePub records published envelopes instead of going through pub/sub.
type capturePub struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newCapturePub() *capturePub {
	return &capturePub{msgs: map[string][][]byte{}}
}

func (p *capturePub) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs[channel] = append(p.msgs[channel], append([]byte(nil), payload...))
	return nil
}

func (p *capturePub) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[channel])
}

func (p *capturePub) last(t *testing.T, channel string) event.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.msgs[channel]
	require.NotEmpty(t, msgs, "no message on %s", channel)

	var env event.Envelope
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &env))
	return env
}

// fakeKicker counts forcible disconnects.
type fakeKicker struct {
	mu    sync.Mutex
	kicks int
}

func (k *fakeKicker) Kick(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kicks++
	return nil
}

func (k *fakeKicker) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

type fixture struct {
	arbiter *Arbiter
	st      *state.Store
	mr      *miniredis.Miniredis
	pub     *capturePub
	kicker  *fakeKicker
	am      *auth.Manager
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := state.NewFromClient(client, zerolog.Nop())
	pub := newCapturePub()
	kicker := &fakeKicker{}
	am := auth.NewManager("secret", []string{"admin"}, "internal")

	arbiter := New(st, event.NewBus(pub, zerolog.Nop()), am, kicker, zerolog.Nop())

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := &now
	arbiter.now = func() time.Time { return *clock }

	return &fixture{arbiter: arbiter, st: st, mr: mr, pub: pub, kicker: kicker, am: am, clock: clock}
}

// advance moves both the arbiter's clock and the store's TTL clock.
func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
	f.mr.FastForward(d)
}

func (f *fixture) token(t *testing.T, maxSecs int64) string {
	t.Helper()
	tok, _, err := f.am.IssueLivestreamToken(maxSecs, nil, 0)
	require.NoError(t, err)
	return tok
}

func TestAuth_AcceptsAndOccupiesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	assert.True(t, res.Accept)
	assert.NotEmpty(t, res.SessionID)

	slot, err := f.arbiter.CurrentSlot(ctx)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, res.SessionID, slot.SessionID)
	assert.EqualValues(t, 600, slot.MaxStreamingSeconds)
}

func TestAuth_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	res, err := f.arbiter.Auth(context.Background(), "garbage")
	require.NoError(t, err)
	assert.False(t, res.Accept)

	slot, err := f.arbiter.CurrentSlot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, slot, "rejected auth must not occupy the slot")
}

func TestAuth_SecondCallerLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res1, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	require.True(t, res1.Accept)

	res2, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	assert.False(t, res2.Accept)
	assert.Equal(t, "slot occupied", res2.Reason)
}

func TestAuth_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	accepts := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		tok := f.token(t, 600)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := f.arbiter.Auth(ctx, tok); err == nil && res.Accept {
				accepts <- res.SessionID
			}
		}()
	}
	wg.Wait()
	close(accepts)

	var winners []string
	for s := range accepts {
		winners = append(winners, s)
	}
	assert.Len(t, winners, 1, "exactly one concurrent auth may win")
}

func TestAuth_LoserWinsAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res1, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	require.True(t, res1.Accept)

	loserTok := f.token(t, 600)
	res2, err := f.arbiter.Auth(ctx, loserTok)
	require.NoError(t, err)
	require.False(t, res2.Accept)

	require.NoError(t, f.arbiter.Disconnect(ctx, res1.SessionID, "client"))

	res3, err := f.arbiter.Auth(ctx, loserTok)
	require.NoError(t, err)
	assert.True(t, res3.Accept)
}

func TestConnect_PublishesStartedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := event.TypeLivestreamStarted.Channel()

	res, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)

	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID), "connect is idempotent")

	assert.Equal(t, 1, f.pub.count(ch))

	env := f.pub.last(t, ch)
	assert.Equal(t, event.TypeLivestreamStarted, env.EventType)
	data := env.Data.(map[string]any)
	assert.Equal(t, res.SessionID, data["session_id"])
}

func TestConnect_IdempotentForLongSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := event.TypeLivestreamStarted.Channel()

	res, err := f.arbiter.Auth(ctx, f.token(t, 28800))
	require.NoError(t, err)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))

	// A duplicated confirmation hours into the session must still be
	// swallowed; sessions can run for a full allowance of eight hours.
	f.advance(11 * time.Minute)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))
	f.advance(7 * time.Hour)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))

	assert.Equal(t, 1, f.pub.count(ch), "one livestream_started per session")
}

func TestConnect_MarkerClearedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	_, ok, err := f.st.Get(ctx, startedKey(res.SessionID))
	require.NoError(t, err)
	assert.False(t, ok, "started marker must not outlive the session")
}

func TestConnect_UnknownSessionIgnored(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.arbiter.Connect(context.Background(), "nope"))
	assert.Zero(t, f.pub.count(event.TypeLivestreamStarted.Channel()))
}

func TestDisconnect_AccountsTimeAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))

	f.advance(42 * time.Second)
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	slot, err := f.arbiter.CurrentSlot(ctx)
	require.NoError(t, err)
	assert.Nil(t, slot, "slot must be free after disconnect")

	env := f.pub.last(t, event.TypeLivestreamEnded.Channel())
	data := env.Data.(map[string]any)
	assert.EqualValues(t, 42, data["duration_seconds"])
	assert.Equal(t, "client", data["reason"])
}

func TestDisconnect_LedgerAccumulatesAcrossSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, userID, err := f.am.IssueLivestreamToken(600, nil, 0)
	require.NoError(t, err)

	for _, secs := range []time.Duration{30 * time.Second, 50 * time.Second} {
		res, aErr := f.arbiter.Auth(ctx, tok)
		require.NoError(t, aErr)
		require.True(t, res.Accept)
		f.advance(secs)
		require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))
	}

	used, err := f.arbiter.Accumulated(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 80, used)
}

func TestDisconnect_AppliedOncePerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, userID, err := f.am.IssueLivestreamToken(600, nil, 0)
	require.NoError(t, err)

	res, err := f.arbiter.Auth(ctx, tok)
	require.NoError(t, err)
	f.advance(10 * time.Second)

	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	used, err := f.arbiter.Accumulated(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, used, "duplicate disconnect must not double-account")
	assert.Equal(t, 1, f.pub.count(event.TypeLivestreamEnded.Channel()))
}

func TestDisconnect_WithoutConnectStillReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.arbiter.Auth(ctx, f.token(t, 600))
	require.NoError(t, err)

	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	slot, err := f.arbiter.CurrentSlot(ctx)
	require.NoError(t, err)
	assert.Nil(t, slot)
	assert.Equal(t, 1, f.pub.count(event.TypeLivestreamEnded.Channel()))
}

func TestAuth_RefusedWhenAllowanceSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, _, err := f.am.IssueLivestreamToken(60, nil, 0)
	require.NoError(t, err)

	res, err := f.arbiter.Auth(ctx, tok)
	require.NoError(t, err)
	require.True(t, res.Accept)

	f.advance(90 * time.Second)
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	res, err = f.arbiter.Auth(ctx, tok)
	require.NoError(t, err)
	assert.False(t, res.Accept)
	assert.Equal(t, "streaming time exhausted", res.Reason)
}

func TestEnforceLimit_KicksWhenOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.arbiter.Auth(ctx, f.token(t, 5))
	require.NoError(t, err)
	require.NoError(t, f.arbiter.Connect(ctx, res.SessionID))

	// Still within the allowance.
	f.advance(3 * time.Second)
	require.NoError(t, f.arbiter.enforceLimit(ctx))
	assert.Zero(t, f.kicker.count())

	// Over the allowance: one kick, and repeated passes stay quiet.
	f.advance(4 * time.Second)
	require.NoError(t, f.arbiter.enforceLimit(ctx))
	require.NoError(t, f.arbiter.enforceLimit(ctx))
	assert.Equal(t, 1, f.kicker.count())

	// The disconnect the kick provokes reports the limit as its reason,
	// whatever the mixer says.
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))
	env := f.pub.last(t, event.TypeLivestreamEnded.Channel())
	data := env.Data.(map[string]any)
	assert.Equal(t, "limit", data["reason"])
	assert.EqualValues(t, 7, data["duration_seconds"])
}

func TestEnforceLimit_CountsPriorSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, _, err := f.am.IssueLivestreamToken(60, nil, 0)
	require.NoError(t, err)

	res, err := f.arbiter.Auth(ctx, tok)
	require.NoError(t, err)
	f.advance(50 * time.Second)
	require.NoError(t, f.arbiter.Disconnect(ctx, res.SessionID, "client"))

	// Reconnect: only 10 seconds remain.
	res, err = f.arbiter.Auth(ctx, tok)
	require.NoError(t, err)
	require.True(t, res.Accept)

	f.advance(5 * time.Second)
	require.NoError(t, f.arbiter.enforceLimit(ctx))
	assert.Zero(t, f.kicker.count())

	f.advance(6 * time.Second)
	require.NoError(t, f.arbiter.enforceLimit(ctx))
	assert.Equal(t, 1, f.kicker.count(), "allowance spans reconnects")
}

func TestEnforceLimit_IdleSlotIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.arbiter.enforceLimit(context.Background()))
	assert.Zero(t, f.kicker.count())
}
