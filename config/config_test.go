package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "127.0.0.1:5757", cfg.Listen)
	assert.Equal(t, "archive_data", cfg.DataDir)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, time.Second, cfg.PageDelay)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 700, cfg.ViewportWidth)
	assert.Equal(t, 900, cfg.ViewportHeight)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIVER_LISTEN", "0.0.0.0:9000")
	t.Setenv("ARCHIVER_PAGE_SIZE", "10")
	t.Setenv("ARCHIVER_PAGE_DELAY", "250ms")

	cfg := Load()
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.PageDelay)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ARCHIVER_PAGE_SIZE", "lots")
	t.Setenv("ARCHIVER_PAGE_DELAY", "soon")

	cfg := Load()
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, time.Second, cfg.PageDelay)
}
