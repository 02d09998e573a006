// SPDX-License-Identifier: MIT

// Package metrics exposes the process Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admissions counts songs admitted per queue.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_queue_admissions_total",
		Help: "Songs admitted into a queue.",
	}, []string{"queue"})

	// AdmissionRejections counts refused admissions by reason code.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_queue_admission_rejections_total",
		Help: "Admissions refused, by reason.",
	}, []string{"reason"})

	// LivestreamSessions counts accepted livestream sessions.
	LivestreamSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiod_livestream_sessions_total",
		Help: "Livestream sessions accepted.",
	})

	// WatchdogKicks counts forcible disconnects issued by the watchdog.
	WatchdogKicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiod_watchdog_kicks_total",
		Help: "Forcible livestream disconnects issued when the allowance ran out.",
	})

	// WebhookDeliveries counts delivery attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by outcome.",
	}, []string{"status"})

	// WebhookLatency observes delivery latency.
	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "radiod_webhook_delivery_seconds",
		Help:    "Webhook delivery latency.",
		Buckets: prometheus.DefBuckets,
	})

	// EventsPublished counts envelopes put on the bus per type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiod_events_published_total",
		Help: "Events published on the bus, by type.",
	}, []string{"type"})

	// RecordingsArchived counts recordings kept past the threshold.
	RecordingsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiod_recordings_archived_total",
		Help: "Livestream recordings archived.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
