// SPDX-License-Identifier: MIT

// Package api exposes the HTTP control surface. Handlers parse and validate
// request shape, resolve the principal, delegate to the domain components
// and map error kinds to status codes; they hold no domain logic themselves.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/auth"
	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/config"
	"github.com/mpetters/radiod/internal/health"
	"github.com/mpetters/radiod/internal/livestream"
	"github.com/mpetters/radiod/internal/metrics"
	"github.com/mpetters/radiod/internal/queue"
	"github.com/mpetters/radiod/internal/state"
	"github.com/mpetters/radiod/internal/webhook"
)

// Server wires the HTTP surface over the domain components.
type Server struct {
	cfg        config.Config
	auth       *auth.Manager
	queue      *queue.Controller
	arbiter    *livestream.Arbiter
	dispatcher *webhook.Dispatcher
	catalog    *catalog.Store
	state      *state.Store
	health     *health.Manager
	logger     zerolog.Logger
}

// New builds a Server.
func New(cfg config.Config, am *auth.Manager, qc *queue.Controller, arb *livestream.Arbiter,
	disp *webhook.Dispatcher, cat *catalog.Store, st *state.Store, hm *health.Manager,
	logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		auth:       am,
		queue:      qc,
		arbiter:    arb,
		dispatcher: disp,
		catalog:    cat,
		state:      st,
		health:     hm,
		logger:     logger,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(150 * time.Second))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public, rate limited per client.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(60, time.Minute))

			r.Get("/health", s.health.Handler())
			r.Get("/queue/list", s.handleQueueList)
			r.Get("/recordings/list", s.handleRecordingsList)
			r.Get("/recordings/stream/{id}", s.handleRecordingStream)
			r.Get("/metadata/now", s.handleMetadataNow)
		})

		// User-principal surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/queue/add", s.handleQueueAdd)
			r.Delete("/queue/{songID}", s.handleQueueDelete)
		})

		// Admin surface.
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/token", s.handleIssueUserToken)
			r.Post("/livestream/token", s.handleIssueLivestreamToken)

			r.Post("/queue/add", s.handleAdminQueueAdd)
			r.Get("/queue/list", s.handleAdminQueueList)
			r.Delete("/queue/{songID}", s.handleAdminQueueDelete)
			r.Post("/queue/clear", s.handleAdminQueueClear)
			r.Post("/playback/{action}", s.handleAdminPlayback)

			r.Delete("/recordings/{id}", s.handleAdminRecordingDelete)

			r.Post("/webhooks/subscribe", s.handleWebhookSubscribe)
			r.Get("/webhooks/list", s.handleWebhookList)
			r.Delete("/webhooks/{id}", s.handleWebhookDelete)
			r.Get("/webhooks/{id}/deliveries", s.handleWebhookDeliveries)
			r.Get("/webhooks/{id}/stats", s.handleWebhookStats)
			r.Post("/webhooks/{id}/test", s.handleWebhookTest)

			r.Post("/shows", s.handleShowCreate)
			r.Get("/shows", s.handleShowList)
			r.Get("/shows/{id}", s.handleShowGet)
			r.Put("/shows/{id}", s.handleShowUpdate)
			r.Delete("/shows/{id}", s.handleShowDelete)
		})

		// Mixer callbacks. The reverse proxy blocks this prefix from the
		// outside; the token check here is defense in depth.
		r.Route("/internal", func(r chi.Router) {
			r.Use(s.requireInternal)

			r.Post("/livestream/auth", s.handleLivestreamAuth)
			r.Post("/livestream/connect", s.handleLivestreamConnect)
			r.Post("/livestream/disconnect", s.handleLivestreamDisconnect)
			r.Post("/livestream/metadata", s.handleLivestreamMetadata)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
