// SPDX-License-Identifier: MIT

// radiod is the station control plane: it admits songs into the queues,
// arbitrates the live slot, archives livestream recordings and serves the
// HTTP control surface. All coordination state lives in the State Store so
// multiple instances can run behind one mixer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mpetters/radiod/internal/api"
	"github.com/mpetters/radiod/internal/auth"
	"github.com/mpetters/radiod/internal/catalog"
	"github.com/mpetters/radiod/internal/config"
	"github.com/mpetters/radiod/internal/event"
	"github.com/mpetters/radiod/internal/health"
	"github.com/mpetters/radiod/internal/livestream"
	rdlog "github.com/mpetters/radiod/internal/log"
	"github.com/mpetters/radiod/internal/media"
	"github.com/mpetters/radiod/internal/mixer"
	"github.com/mpetters/radiod/internal/observer"
	"github.com/mpetters/radiod/internal/queue"
	"github.com/mpetters/radiod/internal/recorder"
	"github.com/mpetters/radiod/internal/state"
	"github.com/mpetters/radiod/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "radiod:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rdlog.Configure(rdlog.Config{Level: cfg.LogLevel, Service: "radiod"})
	logger := rdlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.MusicDir, cfg.RecordingsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st, err := state.New(cfg.StateStoreURL, rdlog.WithComponent("state"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("state store unreachable: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogStoreURL)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	am := auth.NewManager(cfg.JWTSecret, cfg.AdminTokens, cfg.InternalToken)
	bus := event.NewBus(st, rdlog.WithComponent("events"))

	userSrc := mixer.NewUserSource(mixer.NewMPD(cfg.UserQueueAddr))
	fallbackSrc := mixer.NewFallbackSource(mixer.NewMPD(cfg.FallbackQueueAddr))

	ffmpeg := &media.FFmpeg{}
	downloader := &media.YTDLPDownloader{Timeout: cfg.DownloadTimeout}

	qc := queue.New(queue.Options{
		MusicDir:        cfg.MusicDir,
		MaxSongDuration: cfg.MaxSongDuration,
		DupWindow:       cfg.DupWindow,
	}, st, cat, userSrc, fallbackSrc, downloader, ffmpeg, rdlog.WithComponent("queue"))
	if err := qc.Bootstrap(ctx); err != nil {
		logger.Warn().Err(err).Msg("queue bootstrap incomplete, daemons may be down")
	}

	kicker := mixer.NewTelnet(cfg.MixerTelnetAddr, cfg.MixerHarborID)
	arb := livestream.New(st, bus, am, kicker, rdlog.WithComponent("livestream"))
	watchdog := livestream.NewWatchdog(arb, st, cfg.WatchdogInterval, rdlog.WithComponent("watchdog"))

	disp := webhook.NewDispatcher(st, cat, cfg.WebhookPartitions, cfg.WebhookPartitionIndex,
		rdlog.WithComponent("webhooks"))

	obs := observer.New(userSrc, fallbackSrc, arb, qc, st, bus, cfg.PollInterval,
		rdlog.WithComponent("observer"))

	capturer := &recorder.StreamCapturer{StreamURL: cfg.MixerStreamURL}
	rec := recorder.New(st, cat, capturer, ffmpeg, ffmpeg, cfg.RecordingsDir,
		rdlog.WithComponent("recorder"))

	hm := health.NewManager()
	hm.Register("state", st.Ping)
	hm.Register("catalog", func(context.Context) error { return cat.Ping() })
	hm.Register("user_queue", func(ctx context.Context) error {
		_, err := userSrc.Queue().Status(ctx)
		return err
	})
	hm.Register("fallback_queue", func(ctx context.Context) error {
		_, err := fallbackSrc.Queue().Status(ctx)
		return err
	})

	srv := api.New(cfg, am, qc, arb, disp, cat, st, hm, rdlog.WithComponent("api"))

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("music_dir", cfg.MusicDir).
		Str("recordings_dir", cfg.RecordingsDir).
		Msg("starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return disp.Run(ctx) })
	g.Go(func() error { return obs.Run(ctx) })
	g.Go(func() error { return watchdog.Run(ctx) })
	g.Go(func() error { return rec.Run(ctx) })

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}
