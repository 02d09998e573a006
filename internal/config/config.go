// SPDX-License-Identifier: MIT

// Package config loads the radiod process configuration from the
// environment. An optional .env file is merged first; explicit environment
// variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the immutable process configuration.
type Config struct {
	ListenAddr string

	// Auth
	AdminTokens   []string // ADMIN_API_TOKEN, comma separated
	InternalToken string
	JWTSecret     string

	// Stores
	StateStoreURL   string // redis://...
	CatalogStoreURL string // sqlite file path or DSN

	// Mixer endpoints
	UserQueueAddr     string // user queue control socket (host:port)
	FallbackQueueAddr string // fallback queue control socket
	MixerTelnetAddr   string // telnet-style command channel
	MixerStreamURL    string // readable capture of the final output
	MixerHarborID     string // live input id addressed over telnet

	// Filesystem
	MusicDir      string
	RecordingsDir string

	// Tuning
	MaxSongDuration  time.Duration
	MaxFileSize      int64
	DupWindow        int
	WatchdogInterval time.Duration
	PollInterval     time.Duration
	DownloadTimeout  time.Duration

	// Webhook dispatcher partitioning. Partitions=1 means a single
	// dispatcher owns every subscription.
	WebhookPartitions     int
	WebhookPartitionIndex int

	LogLevel string
}

// Load reads configuration from the environment, merging an optional .env
// file beforehand. Missing required values yield an error.
func Load() (Config, error) {
	// .env is a convenience for development; absence is not an error.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:            envOr("LISTEN_ADDR", ":8000"),
		AdminTokens:           splitCSV(os.Getenv("ADMIN_API_TOKEN")),
		InternalToken:         os.Getenv("INTERNAL_API_TOKEN"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		StateStoreURL:         envOr("STATE_STORE_URL", "redis://localhost:6379/0"),
		CatalogStoreURL:       envOr("CATALOG_STORE_URL", "data/catalog.db"),
		UserQueueAddr:         envOr("USER_QUEUE_ADDR", "localhost:6600"),
		FallbackQueueAddr:     envOr("FALLBACK_QUEUE_ADDR", "localhost:6601"),
		MixerTelnetAddr:       envOr("MIXER_TELNET_ADDR", "localhost:1234"),
		MixerStreamURL:        envOr("MIXER_STREAM_URL", "http://localhost:8003/radio"),
		MixerHarborID:         envOr("MIXER_HARBOR_ID", "live"),
		MusicDir:              envOr("MUSIC_DIR", "data/music"),
		RecordingsDir:         envOr("RECORDINGS_DIR", "data/recordings"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		WebhookPartitions:     1,
		WebhookPartitionIndex: 0,
	}

	var err error
	if cfg.MaxSongDuration, err = envDuration("MAX_SONG_DURATION", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxFileSize, err = envInt64("MAX_FILE_SIZE", 50<<20); err != nil {
		return Config{}, err
	}
	if cfg.DupWindow, err = envInt("DUP_WINDOW", 5); err != nil {
		return Config{}, err
	}
	if cfg.WatchdogInterval, err = envDuration("WATCHDOG_INTERVAL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DownloadTimeout, err = envDuration("DOWNLOAD_TIMEOUT", 120*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WebhookPartitions, err = envInt("WEBHOOK_PARTITIONS", 1); err != nil {
		return Config{}, err
	}
	if cfg.WebhookPartitionIndex, err = envInt("WEBHOOK_PARTITION_INDEX", 0); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.AdminTokens) == 0 {
		return fmt.Errorf("config: ADMIN_API_TOKEN is required")
	}
	if c.InternalToken == "" {
		return fmt.Errorf("config: INTERNAL_API_TOKEN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.WebhookPartitions < 1 {
		return fmt.Errorf("config: WEBHOOK_PARTITIONS must be >= 1")
	}
	if c.WebhookPartitionIndex < 0 || c.WebhookPartitionIndex >= c.WebhookPartitions {
		return fmt.Errorf("config: WEBHOOK_PARTITION_INDEX %d out of range [0,%d)",
			c.WebhookPartitionIndex, c.WebhookPartitions)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// envDuration accepts either a Go duration string ("90s") or a bare number
// of seconds, which is how the original deployment expressed these knobs.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
