package database

import (
	"errors"
	"fmt"
	"strings"

	"fediarchive/models"

	"gorm.io/gorm"
)

// ErrPostNotFound is returned by reads for a composite key that was
// never archived.
var ErrPostNotFound = errors.New("post not found")

// Store owns all Post and Media persistence. Every post-plus-media
// write happens inside one transaction, so concurrent readers never
// observe a half-written record and concurrent upserts of the same key
// serialize at commit.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertPost writes the post row and its full media list atomically.
// Re-upserting an existing key updates mutable fields but keeps the
// identity and the original ArchivedAt timestamp. The returned post
// reflects what was committed.
func (s *Store) UpsertPost(post *models.Post, media []models.Media) (*models.Post, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Post
		found := tx.Select("archived_at").Where("id = ?", post.ID).First(&existing)
		switch {
		case found.Error == nil:
			// First-archived time survives re-archiving.
			post.ArchivedAt = existing.ArchivedAt
			if err := tx.Model(&models.Post{}).Where("id = ?", post.ID).
				Select("*").Omit("id", "Media").Updates(post).Error; err != nil {
				return fmt.Errorf("failed to update post %s: %w", post.ID, err)
			}
		case errors.Is(found.Error, gorm.ErrRecordNotFound):
			if err := tx.Omit("Media").Create(post).Error; err != nil {
				return fmt.Errorf("failed to create post %s: %w", post.ID, err)
			}
		default:
			return fmt.Errorf("failed to look up post %s: %w", post.ID, found.Error)
		}

		// Replace the attachment list wholesale; media identity is
		// derived from the post key plus the attachment id, so this
		// stays idempotent.
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Media{}).Error; err != nil {
			return fmt.Errorf("failed to clear media for %s: %w", post.ID, err)
		}
		for i := range media {
			media[i].PostID = post.ID
			if err := tx.Create(&media[i]).Error; err != nil {
				return fmt.Errorf("failed to create media %s: %w", media[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPost(post.ID)
}

// GetPost loads one post with its media rows.
func (s *Store) GetPost(id string) (*models.Post, error) {
	var post models.Post
	result := s.db.Preload("Media").Where("id = ?", id).First(&post)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", id, result.Error)
	}
	return &post, nil
}

// ListPosts returns list-view summaries, newest archived first. A
// non-empty query filters on content and handle.
func (s *Store) ListPosts(query string, limit, offset int) ([]models.PostSummary, error) {
	q := s.db.Model(&models.Post{}).
		Select(`posts.id, posts.url, posts.user_name, posts.user_handle, posts.user_avatar,
			posts.content, posts.cw, posts.visibility,
			posts.reply_count, posts.renote_count, posts.reaction_count,
			posts.created_at, posts.archived_at, posts.screenshot_path,
			COUNT(media.id) AS media_count`).
		Joins("LEFT JOIN media ON media.post_id = posts.id").
		Group("posts.id").
		Order("posts.archived_at DESC")

	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(posts.content) LIKE ? OR LOWER(posts.user_handle) LIKE ?", like, like)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}

	var summaries []models.PostSummary
	if err := q.Scan(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return summaries, nil
}

// MarkScreenshot records the captured screenshot's path on the post.
func (s *Store) MarkScreenshot(id, path string) error {
	result := s.db.Model(&models.Post{}).Where("id = ?", id).
		Update("screenshot_path", path)
	if result.Error != nil {
		return fmt.Errorf("failed to mark screenshot for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

// UpdateMediaResult records one attachment's download outcome.
func (s *Store) UpdateMediaResult(mediaID, localPath, fetchErr string) error {
	updates := map[string]interface{}{
		"local_path":  localPath,
		"downloaded":  fetchErr == "" && localPath != "",
		"fetch_error": fetchErr,
	}
	if err := s.db.Model(&models.Media{}).Where("id = ?", mediaID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update media %s: %w", mediaID, err)
	}
	return nil
}

// PostsWithoutScreenshot lists the ids of posts the retake job should
// visit.
func (s *Store) PostsWithoutScreenshot() ([]string, error) {
	var ids []string
	err := s.db.Model(&models.Post{}).
		Where("screenshot_path IS NULL OR screenshot_path = ''").
		Order("archived_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list posts without screenshot: %w", err)
	}
	return ids, nil
}

// CountPosts returns the number of archived posts.
func (s *Store) CountPosts() (int64, error) {
	var count int64
	if err := s.db.Model(&models.Post{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}
