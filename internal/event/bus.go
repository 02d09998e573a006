// SPDX-License-Identifier: MIT

package event

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/metrics"
)

// Publisher is the slice of the State Store the bus needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Bus publishes typed envelopes over State Store pub/sub channels. Publishing
// is fire-and-forget: failures are logged and never propagate back into the
// code path that raised the event.
type Bus struct {
	pub    Publisher
	logger zerolog.Logger
}

// NewBus wires a Bus onto a publisher.
func NewBus(pub Publisher, logger zerolog.Logger) *Bus {
	return &Bus{pub: pub, logger: logger}
}

// Publish stamps and serializes an envelope onto the type's channel.
func (b *Bus) Publish(ctx context.Context, t Type, description string, data any) {
	env := NewEnvelope(t, description, data)
	payload, err := Canonical(env)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", string(t)).Msg("event serialization failed")
		return
	}
	if err := b.pub.Publish(ctx, t.Channel(), payload); err != nil {
		b.logger.Error().Err(err).Str("event_type", string(t)).Msg("event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}
