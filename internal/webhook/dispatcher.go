// SPDX-License-Identifier: MIT

package webhook

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/metrics"
	"github.com/mpetters/radiod/internal/state"
)

func deliveriesKey(webhookID string) string { return "webhook:deliveries:" + webhookID }

// Delivery is one recorded delivery attempt, newest first in the history.
type Delivery struct {
	Timestamp  string  `json:"timestamp"`
	EventType  string  `json:"event_type"`
	URL        string  `json:"url"`
	Status     string  `json:"status"`
	StatusCode *int    `json:"status_code,omitempty"`
	Error      *string `json:"error,omitempty"`
	LatencyMS  int64   `json:"latency_ms"`
}

// Dispatcher consumes every event channel and fans deliveries out to
// matching subscriptions. With Partitions=1 a State Store lease keeps a
// single instance active; with more, each instance owns the webhook ids that
// hash to its partition and no lease is needed.
type Dispatcher struct {
	state     *state.Store
	catalog   *catalog.Store
	deliverer *Deliverer
	logger    zerolog.Logger

	partitions int
	index      int
	lease      *state.Lease
}

// NewDispatcher wires a Dispatcher for one partition of the subscription
// space.
func NewDispatcher(st *state.Store, cat *catalog.Store, partitions, index int, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		state:      st,
		catalog:    cat,
		deliverer:  NewDeliverer(),
		logger:     logger,
		partitions: partitions,
		index:      index,
	}
	if partitions <= 1 {
		d.partitions = 1
		d.lease = state.NewLease(st, "dispatcher", 30*time.Second)
	}
	return d
}

// owns reports whether this instance is responsible for a subscription.
func (d *Dispatcher) owns(ctx context.Context, webhookID string) bool {
	if d.lease != nil {
		held, err := d.lease.TryAcquire(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dispatcher lease acquisition failed")
			return false
		}
		return held
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(webhookID))
	return int(h.Sum32())%d.partitions == d.index
}

// Run subscribes to every event channel and dispatches until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	channels := make([]string, 0, len(event.Types()))
	for _, t := range event.Types() {
		channels = append(channels, t.Channel())
	}

	sub := d.state.Subscribe(ctx, channels...)
	defer func() { _ = sub.Close() }()
	if d.lease != nil {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = d.lease.Release(releaseCtx)
		}()
	}

	d.logger.Info().Int("partitions", d.partitions).Int("index", d.index).Msg("webhook dispatcher started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			d.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle fans one event out to its subscribers. The received payload is
// already in canonical form and is forwarded byte-for-byte, so signatures
// verify against exactly what consumers read.
func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Error().Err(err).Msg("undecodable event dropped")
		return
	}

	hooks, err := d.catalog.ListWebhooks(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("subscription lookup failed, event dropped")
		return
	}

	var wg sync.WaitGroup
	for i := range hooks {
		hook := hooks[i]
		if !subscribed(hook, env.EventType) || !d.owns(ctx, hook.ID) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliverOne(ctx, hook, env, payload)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, hook catalog.Webhook, env event.Envelope, payload []byte) {
	out := d.deliverer.Deliver(ctx, hook.URL, hook.SigningKey, env.Timestamp, payload)
	metrics.WebhookDeliveries.WithLabelValues(out.Status).Inc()
	metrics.WebhookLatency.Observe(float64(out.LatencyMS) / 1000)

	logEvt := d.logger.Debug()
	if out.Status == StatusFailed {
		logEvt = d.logger.Warn()
	}
	logEvt.
		Str("webhook_id", hook.ID).
		Str("event_type", string(env.EventType)).
		Str("status", out.Status).
		Int64("latency_ms", out.LatencyMS).
		Msg("webhook delivery")

	d.record(ctx, hook, string(env.EventType), out)
}

// record appends one delivery to the subscription's bounded history.
func (d *Dispatcher) record(ctx context.Context, hook catalog.Webhook, eventType string, out Outcome) {
	rec := Delivery{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		EventType:  eventType,
		URL:        hook.URL,
		Status:     out.Status,
		StatusCode: out.StatusCode,
		Error:      out.Error,
		LatencyMS:  out.LatencyMS,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := d.state.LogPush(ctx, deliveriesKey(hook.ID), string(raw), historyMaxEntries, historyTTL); err != nil {
		d.logger.Error().Err(err).Str("webhook_id", hook.ID).Msg("delivery record write failed")
	}
}

// Test synchronously delivers a webhook_test envelope to one subscription
// and returns the outcome to the caller. The attempt is recorded like any
// other delivery.
func (d *Dispatcher) Test(ctx context.Context, hook *catalog.Webhook) (Outcome, error) {
	env := event.NewEnvelope(event.TypeWebhookTest, "test delivery", map[string]any{
		"webhook_id": hook.ID,
	})
	payload, err := event.Canonical(env)
	if err != nil {
		return Outcome{}, err
	}

	out := d.deliverer.Deliver(ctx, hook.URL, hook.SigningKey, env.Timestamp, payload)
	d.record(ctx, *hook, string(event.TypeWebhookTest), out)
	return out, nil
}

// Deliveries returns a subscription's recorded history, newest first.
func (d *Dispatcher) Deliveries(ctx context.Context, webhookID string) ([]Delivery, error) {
	raw, err := d.state.LogRange(ctx, deliveriesKey(webhookID), historyMaxEntries)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(raw))
	for _, entry := range raw {
		var rec Delivery
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats summarizes a subscription's recorded history.
type Stats struct {
	Total        int     `json:"total"`
	Success      int     `json:"success"`
	Failed       int     `json:"failed"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	LastDelivery *string `json:"last_delivery,omitempty"`
}

// Stats aggregates the delivery history of one subscription.
func (d *Dispatcher) Stats(ctx context.Context, webhookID string) (Stats, error) {
	deliveries, err := d.Deliveries(ctx, webhookID)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	var latencySum int64
	for _, rec := range deliveries {
		s.Total++
		if rec.Status == StatusSuccess {
			s.Success++
		} else {
			s.Failed++
		}
		latencySum += rec.LatencyMS
	}
	if s.Total > 0 {
		s.AvgLatencyMS = float64(latencySum) / float64(s.Total)
		ts := deliveries[0].Timestamp
		s.LastDelivery = &ts
	}
	return s, nil
}

func subscribed(hook catalog.Webhook, t event.Type) bool {
	for _, e := range hook.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}
