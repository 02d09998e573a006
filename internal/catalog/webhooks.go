// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// UpsertWebhook registers a subscription. Registration is idempotent on
// (url, events): re-registering an existing pair refreshes the signing key
// and description but keeps the original id and created_at. The returned
// bool reports whether a new subscription was created.
func (s *Store) UpsertWebhook(ctx context.Context, w *Webhook) (*Webhook, bool, error) {
	events := append([]string(nil), w.Events...)
	sort.Strings(events)
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, false, fmt.Errorf("encode events: %w", err)
	}

	existing, err := s.findWebhookByURLEvents(ctx, w.URL, string(eventsJSON))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET signing_key = ?, description = ? WHERE webhook_id = ?
		`, w.SigningKey, w.Description, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("update webhook: %w", err)
		}
		existing.SigningKey = w.SigningKey
		existing.Description = w.Description
		return existing, false, nil
	}

	created := &Webhook{
		ID:          uuid.NewString(),
		URL:         w.URL,
		Events:      events,
		SigningKey:  w.SigningKey,
		Description: w.Description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO webhooks (webhook_id, url, events, signing_key, description, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, created.ID, created.URL, string(eventsJSON), created.SigningKey,
		created.Description, created.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook: %w", err)
	}
	return created, true, nil
}

// GetWebhook fetches one subscription, or nil when absent.
func (s *Store) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT webhook_id, url, events, signing_key, description, created_at
	FROM webhooks WHERE webhook_id = ?
	`, id)

	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

// ListWebhooks returns all subscriptions, newest first.
func (s *Store) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT webhook_id, url, events, signing_key, description, created_at
	FROM webhooks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hooks []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *w)
	}
	return hooks, rows.Err()
}

// DeleteWebhook removes a subscription. It reports whether a row existed.
func (s *Store) DeleteWebhook(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) findWebhookByURLEvents(ctx context.Context, url, eventsJSON string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT webhook_id, url, events, signing_key, description, created_at
	FROM webhooks WHERE url = ? AND events = ?
	`, url, eventsJSON)

	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	var (
		w          Webhook
		eventsJSON string
		createdAt  string
	)
	if err := row.Scan(&w.ID, &w.URL, &eventsJSON, &w.SigningKey, &w.Description, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &w.Events); err != nil {
		return nil, fmt.Errorf("decode events for webhook %s: %w", w.ID, err)
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &w, nil
}
