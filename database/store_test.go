package database_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"fediarchive/database"
	"fediarchive/models"
	"fediarchive/tests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	testDB *gorm.DB
	store  *database.Store
)

func TestMain(m *testing.M) {
	var err error
	testDB, err = tests.SetupTestDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up test DB: %v\n", err)
		os.Exit(1)
	}
	store = database.NewStore(testDB)
	os.Exit(m.Run())
}

func samplePost(id string) *models.Post {
	return &models.Post{
		ID:         id,
		Instance:   "example.social",
		NoteID:     "abc123",
		URL:        "https://example.social/notes/abc123",
		UserName:   "Alice",
		UserHandle: "@alice",
		Content:    "hello fediverse",
		Visibility: "public",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ArchivedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		RawJSON:    `{"id":"abc123"}`,
	}
}

func sampleMedia(postID, fileID string) models.Media {
	return models.Media{
		ID:       postID + "/" + fileID,
		PostID:   postID,
		Filename: fileID + ".png",
		URL:      "https://files.example.social/" + fileID,
		MimeType: "image/png",
	}
}

func TestUpsertPostIdempotent(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, tests.ClearPosts(testDB)) })

	post := samplePost("example.social/abc123")
	media := []models.Media{sampleMedia(post.ID, "f1"), sampleMedia(post.ID, "f2")}

	first, err := store.UpsertPost(post, media)
	require.NoError(t, err)
	assert.Equal(t, post.ID, first.ID)
	assert.Len(t, first.Media, 2)

	// Second archive: updated counters, same identity, original
	// archive time preserved.
	again := samplePost(post.ID)
	again.ReplyCount = 7
	again.Content = "hello fediverse (edited)"
	again.ArchivedAt = time.Now().UTC()

	second, err := store.UpsertPost(again, []models.Media{sampleMedia(post.ID, "f1")})
	require.NoError(t, err)
	assert.Equal(t, 7, second.ReplyCount)
	assert.Equal(t, "hello fediverse (edited)", second.Content)
	assert.True(t, second.ArchivedAt.Equal(first.ArchivedAt), "first-archived time must survive re-archiving")
	assert.Len(t, second.Media, 1, "media list is replaced, not appended")

	var count int64
	require.NoError(t, testDB.Model(&models.Post{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "re-archiving must never duplicate the row")
}

func TestUpsertPostAtomicity(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, tests.ClearPosts(testDB)) })

	post := samplePost("example.social/atomic1")
	post.NoteID = "atomic1"
	good := []models.Media{sampleMedia(post.ID, "f1"), sampleMedia(post.ID, "f2")}
	_, err := store.UpsertPost(post, good)
	require.NoError(t, err)

	// A failing media write mid-transaction (duplicate primary key)
	// must roll the whole upsert back.
	update := samplePost(post.ID)
	update.NoteID = "atomic1"
	update.Content = "half-written"
	bad := []models.Media{sampleMedia(post.ID, "f3"), sampleMedia(post.ID, "f3")}
	_, err = store.UpsertPost(update, bad)
	require.Error(t, err)

	current, err := store.GetPost(post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello fediverse", current.Content, "previous complete record must survive")
	require.Len(t, current.Media, 2)
	assert.Equal(t, post.ID+"/f1", current.Media[0].ID)

	// A brand-new post with a failing media write must leave no row.
	fresh := samplePost("example.social/atomic2")
	fresh.NoteID = "atomic2"
	_, err = store.UpsertPost(fresh, []models.Media{sampleMedia(fresh.ID, "x"), sampleMedia(fresh.ID, "x")})
	require.Error(t, err)
	_, err = store.GetPost(fresh.ID)
	assert.ErrorIs(t, err, database.ErrPostNotFound)
}

func TestGetPostNotFound(t *testing.T) {
	_, err := store.GetPost("nowhere.example/none")
	assert.ErrorIs(t, err, database.ErrPostNotFound)
}

func TestListPosts(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, tests.ClearPosts(testDB)) })

	older := samplePost("example.social/n1")
	older.NoteID = "n1"
	older.ArchivedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.UpsertPost(older, []models.Media{sampleMedia(older.ID, "f1")})
	require.NoError(t, err)

	newer := samplePost("example.social/n2")
	newer.NoteID = "n2"
	newer.UserHandle = "@bob"
	newer.Content = "entirely different words"
	newer.ArchivedAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.UpsertPost(newer, nil)
	require.NoError(t, err)

	all, err := store.ListPosts("", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID, "newest archived first")
	assert.Equal(t, 1, all[1].MediaCount)
	assert.Equal(t, 0, all[0].MediaCount)

	matched, err := store.ListPosts("fediverse", 0, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, older.ID, matched[0].ID)

	byHandle, err := store.ListPosts("BOB", 0, 0)
	require.NoError(t, err)
	require.Len(t, byHandle, 1)
	assert.Equal(t, newer.ID, byHandle[0].ID)
}

func TestMarkScreenshot(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, tests.ClearPosts(testDB)) })

	post := samplePost("example.social/shot1")
	post.NoteID = "shot1"
	_, err := store.UpsertPost(post, nil)
	require.NoError(t, err)

	require.NoError(t, store.MarkScreenshot(post.ID, "example_social_shot1/screenshot.png"))
	got, err := store.GetPost(post.ID)
	require.NoError(t, err)
	assert.Equal(t, "example_social_shot1/screenshot.png", got.ScreenshotPath)

	assert.ErrorIs(t, store.MarkScreenshot("missing/post", "x.png"), database.ErrPostNotFound)
}

func TestUpdateMediaResultAndRetakeScan(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, tests.ClearPosts(testDB)) })

	post := samplePost("example.social/m1")
	post.NoteID = "m1"
	_, err := store.UpsertPost(post, []models.Media{sampleMedia(post.ID, "f1")})
	require.NoError(t, err)

	require.NoError(t, store.UpdateMediaResult(post.ID+"/f1", "", "connection refused"))
	got, err := store.GetPost(post.ID)
	require.NoError(t, err)
	require.Len(t, got.Media, 1)
	assert.False(t, got.Media[0].Downloaded)
	assert.Equal(t, "connection refused", got.Media[0].FetchError)

	require.NoError(t, store.UpdateMediaResult(post.ID+"/f1", "example_social_m1/f1.png", ""))
	got, err = store.GetPost(post.ID)
	require.NoError(t, err)
	assert.True(t, got.Media[0].Downloaded)
	assert.Empty(t, got.Media[0].FetchError)

	ids, err := store.PostsWithoutScreenshot()
	require.NoError(t, err)
	assert.Contains(t, ids, post.ID)

	require.NoError(t, store.MarkScreenshot(post.ID, "x/screenshot.png"))
	ids, err = store.PostsWithoutScreenshot()
	require.NoError(t, err)
	assert.NotContains(t, ids, post.ID)
}
