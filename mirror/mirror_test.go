package mirror_test

import (
	"strings"
	"testing"
	"time"

	"fediarchive/mirror"
	"fediarchive/models"
	"fediarchive/tests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cw(s string) *string { return &s }

func samplePost() *models.Post {
	return &models.Post{
		ID:            "example.social/abc123",
		URL:           "https://example.social/notes/abc123",
		UserName:      "Alice",
		UserHandle:    "@alice",
		UserAvatar:    "https://example.social/avatar.png",
		Content:       "first line\nsecond line",
		Visibility:    "public",
		ReplyCount:    1,
		RenoteCount:   2,
		ReactionCount: 3,
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderDeterministic(t *testing.T) {
	post := samplePost()
	media := []models.Media{
		{ID: post.ID + "/f1", MimeType: "image/png", LocalPath: "p/f1.png", AltText: "a picture"},
		{ID: post.ID + "/f2", MimeType: "video/mp4", LocalPath: "p/f2.mp4"},
	}

	one, err := mirror.Render(post, media, mirror.ModeLink, nil)
	require.NoError(t, err)
	two, err := mirror.Render(post, media, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.Equal(t, one, two, "identical inputs must yield byte-identical output")
}

func TestRenderEscapesUserContent(t *testing.T) {
	post := samplePost()
	post.Content = `<script>alert("x")</script>`
	post.UserName = `<b>bold</b>`

	html, err := mirror.Render(post, nil, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>alert")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<b>bold</b>")
}

func TestRenderNewlinesBecomeBreaks(t *testing.T) {
	html, err := mirror.Render(samplePost(), nil, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.Contains(t, html, "first line<br>second line")
	assert.Contains(t, html, ">Posted: 2024-05-01<")
}

func TestRenderContentWarning(t *testing.T) {
	post := samplePost()
	post.CW = cw("spoilers & such")

	html, err := mirror.Render(post, nil, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.Contains(t, html, "cw-warning")
	assert.Contains(t, html, "spoilers &amp; such")
	assert.Contains(t, html, `class="content hidden"`, "content starts hidden behind the CW")

	plain, err := mirror.Render(samplePost(), nil, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.NotContains(t, plain, "cw-warning")
	assert.Contains(t, plain, `class="content"`)
}

func TestRenderSensitiveMedia(t *testing.T) {
	post := samplePost()
	media := []models.Media{
		{ID: post.ID + "/f1", MimeType: "image/png", LocalPath: "p/f1.png", IsSensitive: true},
	}
	html, err := mirror.Render(post, media, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.Contains(t, html, "media-item sensitive")
}

func TestRenderLinkMode(t *testing.T) {
	post := samplePost()
	media := []models.Media{
		{ID: post.ID + "/f1", MimeType: "image/png", LocalPath: "example_social_abc123/f1.png"},
		{ID: post.ID + "/f2", MimeType: "image/png", URL: "https://files.example.social/f2"},
	}
	html, err := mirror.Render(post, media, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.Contains(t, html, `src="/media/example_social_abc123/f1.png"`)
	// Never-downloaded media falls back to the remote reference.
	assert.Contains(t, html, `src="https://files.example.social/f2"`)
}

func TestRenderEmbedMode(t *testing.T) {
	store := tests.NewMemMediaStore()
	rel, err := store.Write("example.social/abc123", "f1.png", strings.NewReader("png bytes"))
	require.NoError(t, err)

	post := samplePost()
	media := []models.Media{
		{ID: post.ID + "/f1", MimeType: "image/png", LocalPath: rel},
	}
	html, err := mirror.Render(post, media, mirror.ModeEmbed, store)
	require.NoError(t, err)
	assert.Contains(t, html, "data:image/png;base64,")
	assert.NotContains(t, html, `src="/media/`)
}

func TestRenderRejectsHostileURLs(t *testing.T) {
	post := samplePost()
	post.UserAvatar = "javascript:alert(1)"
	media := []models.Media{
		{ID: post.ID + "/f1", MimeType: "image/png", URL: "javascript:alert(2)"},
	}
	html, err := mirror.Render(post, media, mirror.ModeLink, nil)
	require.NoError(t, err)
	assert.NotContains(t, html, "javascript:")
}
