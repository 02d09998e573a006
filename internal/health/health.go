// SPDX-License-Identifier: MIT

// Package health aggregates dependency probes for the health endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Manager runs registered checks on demand.
type Manager struct {
	mu     sync.Mutex
	checks map[string]Check
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{checks: map[string]Check{}}
}

// Register adds a named check.
func (m *Manager) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Status is the aggregate health report.
type Status struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

// Run executes all checks with a shared deadline.
func (m *Manager) Run(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	m.mu.Lock()
	checks := make(map[string]Check, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.Unlock()

	st := Status{Healthy: true, Checks: map[string]string{}}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			st.Healthy = false
			st.Checks[name] = err.Error()
		} else {
			st.Checks[name] = "ok"
		}
	}
	return st
}

// Handler serves the aggregate status; 503 when any check fails.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := m.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !st.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
