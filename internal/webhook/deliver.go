// SPDX-License-Identifier: MIT

// Package webhook delivers signed event notifications to registered
// subscribers and keeps a bounded per-subscription delivery history.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

const (
	// Slow consumers are cut off; they are expected to ack fast and process
	// async.
	deliveryTimeout = 5 * time.Second

	// Delivery history retention per subscription.
	historyMaxEntries = 100
	historyTTL        = 7 * 24 * time.Hour
)

// Delivery statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Sign computes the hex HMAC-SHA256 of body under key. The body must already
// be in canonical form; consumers verify over the exact bytes received.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Outcome describes one delivery attempt.
type Outcome struct {
	Status     string  `json:"status"`
	StatusCode *int    `json:"status_code,omitempty"`
	Error      *string `json:"error,omitempty"`
	LatencyMS  int64   `json:"latency_ms"`
}

// Deliverer performs one signed POST per call. There are no retries; the
// outcome is recorded and consumers are expected to be idempotent.
type Deliverer struct {
	client *http.Client
}

// NewDeliverer builds a Deliverer with the contract timeout.
func NewDeliverer() *Deliverer {
	return &Deliverer{client: &http.Client{Timeout: deliveryTimeout}}
}

// Deliver POSTs body to url, signed with signingKey. A non-2xx response
// counts as failed; the status code is recorded either way when available.
func (d *Deliverer) Deliver(ctx context.Context, url, signingKey, timestamp string, body []byte) Outcome {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(err, start)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(signingKey, body))
	req.Header.Set("X-Webhook-Timestamp", timestamp)

	resp, err := d.client.Do(req)
	if err != nil {
		return failure(err, start)
	}
	defer func() { _ = resp.Body.Close() }()

	out := Outcome{
		StatusCode: &resp.StatusCode,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Status = StatusSuccess
	} else {
		out.Status = StatusFailed
	}
	return out
}

func failure(err error, start time.Time) Outcome {
	msg := err.Error()
	return Outcome{
		Status:    StatusFailed,
		Error:     &msg,
		LatencyMS: time.Since(start).Milliseconds(),
	}
}
