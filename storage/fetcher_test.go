package storage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fediarchive/models"
	"fediarchive/storage"
	"fediarchive/tests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mediaRow(postID, fileID, url, mimeType string) models.Media {
	return models.Media{
		ID:       postID + "/" + fileID,
		PostID:   postID,
		Filename: "remote-name.png",
		URL:      url,
		MimeType: mimeType,
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/f1":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("one"))
		case "/f2":
			w.WriteHeader(http.StatusNotFound)
		case "/f3":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("three"))
		}
	}))
	defer server.Close()

	store := tests.NewMemMediaStore()
	fetcher := storage.NewFetcher(server.Client(), store, "test-agent", nil)

	postID := "example.social/abc123"
	media := []models.Media{
		mediaRow(postID, "f1", server.URL+"/f1", "image/png"),
		mediaRow(postID, "f2", server.URL+"/f2", "image/png"),
		mediaRow(postID, "f3", server.URL+"/f3", "image/jpeg"),
	}

	outcomes := fetcher.FetchAll(context.Background(), postID, media)
	require.Len(t, outcomes, 3)

	// One 404 never aborts its siblings.
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	assert.Equal(t, "example_social_abc123/f1.png", outcomes[0].Media.LocalPath)
	assert.True(t, outcomes[0].Media.Downloaded)
	assert.True(t, store.Exists(outcomes[0].Media.LocalPath))

	assert.False(t, outcomes[1].Media.Downloaded)
	assert.Empty(t, outcomes[1].Media.LocalPath)
	assert.NotEmpty(t, outcomes[1].Media.FetchError)

	assert.Equal(t, "example_social_abc123/f3.jpg", outcomes[2].Media.LocalPath)

	raw, err := store.ReadFile(outcomes[2].Media.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "three", string(raw))
}

func TestFetchAllUsesResponseContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("webp bytes"))
	}))
	defer server.Close()

	store := tests.NewMemMediaStore()
	fetcher := storage.NewFetcher(server.Client(), store, "test-agent", nil)

	postID := "example.social/n9"
	outcomes := fetcher.FetchAll(context.Background(), postID, []models.Media{
		mediaRow(postID, "f1", server.URL+"/f1", "application/octet-stream"),
	})
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "example_social_n9/f1.webp", outcomes[0].Media.LocalPath)
}

func TestFetchAllMissingURL(t *testing.T) {
	store := tests.NewMemMediaStore()
	fetcher := storage.NewFetcher(nil, store, "test-agent", nil)

	postID := "example.social/n1"
	outcomes := fetcher.FetchAll(context.Background(), postID, []models.Media{
		mediaRow(postID, "f1", "", "image/png"),
	})
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
	assert.Equal(t, "attachment has no source url", outcomes[0].Media.FetchError)
}
