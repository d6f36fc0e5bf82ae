package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime tuning for the archiver. Every value has a
// default; a .env file or plain environment variables override them.
type Config struct {
	Listen   string // control API listen address
	DataDir  string // root for archive.db and media files
	LogLevel string

	// Remote API behaviour.
	PageSize       int           // notes per page, the protocol caps this at 20
	PageDelay      time.Duration // unconditional pause between pages
	RetryBaseDelay time.Duration // first backoff interval
	RetryMaxDelay  time.Duration // backoff ceiling
	MaxAttempts    int           // total tries per request, including the first
	HTTPTimeout    time.Duration
	UserAgent      string

	// Screenshot capture.
	ViewportWidth  int
	ViewportHeight int
	SettleDelay    time.Duration // wait after load before capturing
	CaptureTimeout time.Duration
	RenderIdle     time.Duration // loopback render server idle shutdown
}

// Load reads .env (if present) and the environment, falling back to
// defaults for anything unset.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Listen:   getString("ARCHIVER_LISTEN", "127.0.0.1:5757"),
		DataDir:  getString("ARCHIVER_DATA_DIR", "archive_data"),
		LogLevel: getString("ARCHIVER_LOG_LEVEL", "info"),

		PageSize:       getInt("ARCHIVER_PAGE_SIZE", 20),
		PageDelay:      getDuration("ARCHIVER_PAGE_DELAY", time.Second),
		RetryBaseDelay: getDuration("ARCHIVER_RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:  getDuration("ARCHIVER_RETRY_MAX_DELAY", 30*time.Second),
		MaxAttempts:    getInt("ARCHIVER_MAX_ATTEMPTS", 3),
		HTTPTimeout:    getDuration("ARCHIVER_HTTP_TIMEOUT", 30*time.Second),
		UserAgent:      getString("ARCHIVER_USER_AGENT", "FediArchiver/1.0"),

		ViewportWidth:  getInt("ARCHIVER_VIEWPORT_WIDTH", 700),
		ViewportHeight: getInt("ARCHIVER_VIEWPORT_HEIGHT", 900),
		SettleDelay:    getDuration("ARCHIVER_SETTLE_DELAY", 2*time.Second),
		CaptureTimeout: getDuration("ARCHIVER_CAPTURE_TIMEOUT", 20*time.Second),
		RenderIdle:     getDuration("ARCHIVER_RENDER_IDLE", 2*time.Minute),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
