// SPDX-License-Identifier: MIT

// Package livestream arbitrates the single global broadcast slot: atomic
// reservation, cumulative time accounting across reconnects, and forcible
// disconnect when a principal's streaming allowance runs out.
package livestream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/apperr"
	"github.com/mpetters/radiod/internal/auth"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/metrics"
	"github.com/mpetters/radiod/internal/state"
)

const (
	slotKey = "slot"

	// The ledger survives 30 days past its last update.
	ledgerTTL = 30 * 24 * time.Hour

	// Kick markers only need to outlive the disconnect callback.
	kickMarkerTTL = 10 * time.Minute
)

func ledgerKey(principalID string) string { return "ledger:" + principalID }
func appliedKey(sessionID string) string  { return "ledger:applied:" + sessionID }
func startedKey(sessionID string) string  { return "slot:started:" + sessionID }
func kickKey(sessionID string) string     { return "slot:kick:" + sessionID }

// Slot is the single global session record, stored as one JSON value so
// reservation is a single SetNX.
type Slot struct {
	PrincipalID          string  `json:"principal_id"`
	SessionID            string  `json:"session_id"`
	ConnectedAt          int64   `json:"connected_at"` // unix seconds
	MaxStreamingSeconds  int64   `json:"max_streaming_seconds"`
	MinRecordingDuration int64   `json:"min_recording_duration"`
	ShowName             *string `json:"show_name,omitempty"`
}

// Kicker forcibly disconnects the current mixer source.
type Kicker interface {
	Kick(ctx context.Context) error
}

// Arbiter owns the slot lifecycle.
type Arbiter struct {
	state  *state.Store
	bus    *event.Bus
	auth   *auth.Manager
	kicker Kicker
	logger zerolog.Logger
	now    func() time.Time
}

// New wires an Arbiter.
func New(st *state.Store, bus *event.Bus, am *auth.Manager, kicker Kicker, logger zerolog.Logger) *Arbiter {
	return &Arbiter{
		state:  st,
		bus:    bus,
		auth:   am,
		kicker: kicker,
		logger: logger,
		now:    time.Now,
	}
}

// AuthResult is the answer to a mixer auth callback.
type AuthResult struct {
	Accept    bool   `json:"accept"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Auth handles the mixer's auth callback. The credential arrives as the
// source-client password. Reservation is one atomic set-if-absent, so two
// concurrent callers can never both win.
func (a *Arbiter) Auth(ctx context.Context, credential string) (*AuthResult, error) {
	claims, err := a.auth.ParseLivestreamToken(credential)
	if err != nil {
		return &AuthResult{Accept: false, Reason: "invalid token"}, nil
	}

	// A principal that already spent its allowance is refused up front.
	used, err := a.state.GetInt(ctx, ledgerKey(claims.UserID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if used >= claims.MaxStreamingSeconds {
		return &AuthResult{Accept: false, Reason: "streaming time exhausted"}, nil
	}

	slot := Slot{
		PrincipalID:          claims.UserID,
		SessionID:            uuid.NewString(),
		ConnectedAt:          a.now().Unix(),
		MaxStreamingSeconds:  claims.MaxStreamingSeconds,
		MinRecordingDuration: claims.MinRecordingDuration,
		ShowName:             claims.ShowName,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode_slot", "slot encoding failed", err)
	}

	ok, err := a.state.SetNX(ctx, slotKey, string(raw), 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if !ok {
		return &AuthResult{Accept: false, Reason: "slot occupied"}, nil
	}

	a.logger.Info().
		Str("principal", slot.PrincipalID).
		Str("session_id", slot.SessionID).
		Msg("livestream slot reserved")
	metrics.LivestreamSessions.Inc()
	return &AuthResult{Accept: true, SessionID: slot.SessionID}, nil
}

// Connect confirms the session is live and publishes livestream_started at
// most once per session. A connect for an unknown session is ignored.
func (a *Arbiter) Connect(ctx context.Context, sessionID string) error {
	slot, err := a.currentSlot(ctx)
	if err != nil {
		return err
	}
	if slot == nil || slot.SessionID != sessionID {
		a.logger.Warn().Str("session_id", sessionID).Msg("connect for unknown session ignored")
		return nil
	}

	// The marker must outlive the longest allowed session, so it shares the
	// ledger's retention and is dropped on disconnect.
	first, err := a.state.SetNX(ctx, startedKey(sessionID), "1", ledgerTTL)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if !first {
		return nil
	}

	showID := ""
	if slot.ShowName != nil {
		showID = *slot.ShowName
	}
	a.bus.Publish(ctx, event.TypeLivestreamStarted, "livestream started", event.LivestreamStarted{
		PrincipalID:          slot.PrincipalID,
		SessionID:            slot.SessionID,
		ShowID:               showID,
		MinRecordingDuration: int(slot.MinRecordingDuration),
	})
	return nil
}

// Disconnect ends a session: accounts the elapsed time exactly once, frees
// the slot and publishes livestream_ended. Safe to call whether or not a
// connect was ever observed, and whether the trigger was the client, an
// admin, or the watchdog's forcible kick.
func (a *Arbiter) Disconnect(ctx context.Context, sessionID, reason string) error {
	slot, err := a.currentSlot(ctx)
	if err != nil {
		return err
	}
	if slot == nil || slot.SessionID != sessionID {
		a.logger.Warn().Str("session_id", sessionID).Msg("disconnect for unknown session ignored")
		return nil
	}

	// The ledger update is keyed by session so a duplicated callback (or a
	// watchdog/client race) accounts the time once.
	first, err := a.state.SetNX(ctx, appliedKey(sessionID), "1", ledgerTTL)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if !first {
		return nil
	}

	elapsed := a.now().Unix() - slot.ConnectedAt
	if elapsed < 0 {
		elapsed = 0
	}

	if _, err := a.state.IncrBy(ctx, ledgerKey(slot.PrincipalID), elapsed); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "ledger update failed", err)
	}
	if err := a.state.Expire(ctx, ledgerKey(slot.PrincipalID), ledgerTTL); err != nil {
		a.logger.Error().Err(err).Str("principal", slot.PrincipalID).Msg("ledger ttl refresh failed")
	}

	if err := a.state.Del(ctx, slotKey); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "slot release failed", err)
	}
	_ = a.state.Del(ctx, startedKey(sessionID))

	// A kick marker means the watchdog forced this disconnect; the mixer
	// itself only ever reports a client-side drop.
	if _, kicked, _ := a.state.Get(ctx, kickKey(sessionID)); kicked {
		reason = "limit"
		_ = a.state.Del(ctx, kickKey(sessionID))
	}
	if reason == "" {
		reason = "client"
	}

	a.logger.Info().
		Str("principal", slot.PrincipalID).
		Str("session_id", sessionID).
		Int64("duration_seconds", elapsed).
		Str("reason", reason).
		Msg("livestream ended")

	a.bus.Publish(ctx, event.TypeLivestreamEnded, "livestream ended", event.LivestreamEnded{
		PrincipalID:     slot.PrincipalID,
		SessionID:       sessionID,
		DurationSeconds: int(elapsed),
		Reason:          reason,
	})
	return nil
}

// CurrentSlot exposes the live session to the observer and recorder, or nil
// when the slot is free.
func (a *Arbiter) CurrentSlot(ctx context.Context) (*Slot, error) {
	return a.currentSlot(ctx)
}

func (a *Arbiter) currentSlot(ctx context.Context) (*Slot, error) {
	raw, ok, err := a.state.Get(ctx, slotKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "state_unavailable", "state store unreachable", err)
	}
	if !ok {
		return nil, nil
	}
	var slot Slot
	if err := json.Unmarshal([]byte(raw), &slot); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode_slot", "slot record corrupt", err)
	}
	return &slot, nil
}

// Accumulated reads a principal's lifetime streamed seconds.
func (a *Arbiter) Accumulated(ctx context.Context, principalID string) (int64, error) {
	return a.state.GetInt(ctx, ledgerKey(principalID))
}

// enforceLimit checks the current holder against its allowance and kicks the
// mixer source when it is spent. Called from the watchdog loop.
func (a *Arbiter) enforceLimit(ctx context.Context) error {
	slot, err := a.currentSlot(ctx)
	if err != nil {
		return err
	}
	if slot == nil {
		return nil
	}

	used, err := a.state.GetInt(ctx, ledgerKey(slot.PrincipalID))
	if err != nil {
		return err
	}
	elapsed := a.now().Unix() - slot.ConnectedAt
	if used+elapsed < slot.MaxStreamingSeconds {
		return nil
	}

	// Mark before kicking so the disconnect callback, whenever it lands,
	// reports reason=limit. Only the first watchdog pass issues the kick.
	first, err := a.state.SetNX(ctx, kickKey(slot.SessionID), "1", kickMarkerTTL)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	a.logger.Info().
		Str("principal", slot.PrincipalID).
		Str("session_id", slot.SessionID).
		Int64("used_seconds", used+elapsed).
		Int64("limit_seconds", slot.MaxStreamingSeconds).
		Msg("streaming allowance spent, kicking source")

	if err := a.kicker.Kick(ctx); err != nil {
		// The command is fire-and-forget; the disconnect callback is the
		// source of truth. Clear the marker so the next pass retries.
		_ = a.state.Del(ctx, kickKey(slot.SessionID))
		return err
	}
	metrics.WatchdogKicks.Inc()
	return nil
}
