package storage_test

import (
	"strings"
	"testing"

	"fediarchive/storage"
	"fediarchive/tests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostDirSanitizesKey(t *testing.T) {
	assert.Equal(t, "example_social_abc123", storage.PostDir("example.social/abc123"))
	assert.Equal(t, "_____", storage.PostDir("../.."))
}

func TestFilenameForIsDeterministic(t *testing.T) {
	assert.Equal(t, "f1.jpg", storage.FilenameFor("f1", "image/jpeg"))
	assert.Equal(t, "f1.jpg", storage.FilenameFor("f1", "image/jpeg"))
	assert.Equal(t, "f2.mp4", storage.FilenameFor("f2", "video/mp4"))
	assert.Equal(t, "f3.bin", storage.FilenameFor("f3", "application/x-mystery"))
	// Hostile ids cannot traverse out of the post directory.
	assert.Equal(t, "___etc_passwd.bin", storage.FilenameFor("../etc/passwd", ""))
}

func TestMediaStoreRoundTrip(t *testing.T) {
	store := tests.NewMemMediaStore()

	rel, err := store.Write("example.social/abc123", "f1.png", strings.NewReader("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, "example_social_abc123/f1.png", rel)
	assert.True(t, store.Exists(rel))

	raw, err := store.ReadFile(rel)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(raw))

	assert.False(t, store.Exists("example_social_abc123/missing.png"))
}
