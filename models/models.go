package models

import (
	"time"
)

// Post is one archived note. The primary key is the composite
// "<instance host>/<note id>", so re-archiving the same note can never
// create a second row.
type Post struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Instance string `gorm:"not null;index:idx_posts_instance_note,unique" json:"instance"`
	NoteID   string `gorm:"not null;index:idx_posts_instance_note,unique" json:"note_id"`
	URL      string `gorm:"not null" json:"url"`

	UserName   string `json:"user_name"`
	UserHandle string `gorm:"index" json:"user_handle"`
	UserAvatar string `json:"user_avatar"`

	Content    string  `json:"content"`
	CW         *string `json:"cw"`
	Visibility string  `json:"visibility"`

	ReplyCount    int `gorm:"default:0" json:"reply_count"`
	RenoteCount   int `gorm:"default:0" json:"renote_count"`
	ReactionCount int `gorm:"default:0" json:"reaction_count"`

	// CreatedAt is the note's timestamp on the source instance;
	// ArchivedAt is when we first stored it locally.
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `gorm:"not null" json:"archived_at"`

	// RawJSON keeps the original API response verbatim.
	RawJSON        string `gorm:"type:text" json:"-"`
	ScreenshotPath string `json:"screenshot_path"`

	Media []Media `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"media,omitempty"`
}

// Media is one attachment of a Post. A failed download keeps its row
// with Downloaded=false and the reason in FetchError, so a retry can
// target exactly the files that are missing.
type Media struct {
	ID     string `gorm:"primaryKey" json:"id"`
	PostID string `gorm:"not null;index" json:"post_id"`

	Filename    string `gorm:"not null" json:"filename"`
	URL         string `gorm:"not null" json:"url"`
	MimeType    string `json:"mime_type"`
	LocalPath   string `json:"local_path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	IsSensitive bool   `gorm:"default:false" json:"is_sensitive"`
	AltText     string `json:"alt_text"`

	Downloaded bool   `gorm:"default:false" json:"downloaded"`
	FetchError string `json:"fetch_error,omitempty"`
}

// PostSummary is the list-view projection of a Post, with an aggregate
// media count instead of the full attachment rows.
type PostSummary struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	UserName       string    `json:"user_name"`
	UserHandle     string    `json:"user_handle"`
	UserAvatar     string    `json:"user_avatar"`
	Content        string    `json:"content"`
	CW             *string   `json:"cw"`
	Visibility     string    `json:"visibility"`
	ReplyCount     int       `json:"reply_count"`
	RenoteCount    int       `json:"renote_count"`
	ReactionCount  int       `json:"reaction_count"`
	CreatedAt      time.Time `json:"created_at"`
	ArchivedAt     time.Time `json:"archived_at"`
	ScreenshotPath string    `json:"screenshot_path"`
	MediaCount     int       `json:"media_count"`
}

// PostKey builds the composite identity for a note on an instance.
func PostKey(instanceHost, noteID string) string {
	return instanceHost + "/" + noteID
}
