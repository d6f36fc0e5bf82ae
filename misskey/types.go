package misskey

import (
	"encoding/json"
	"time"
)

// User is the subset of a users/show response the archiver needs.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Host       string `json:"host"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatarUrl"`
	NotesCount int    `json:"notesCount"`
}

// NoteUser is the author block embedded in a note.
type NoteUser struct {
	Username  string `json:"username"`
	Host      string `json:"host"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// DriveFile is one attachment on a note.
type DriveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	IsSensitive bool   `json:"isSensitive"`
	Comment     string `json:"comment"`
	Properties  struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"properties"`
}

// Note is one unit of content from a Misskey-protocol instance. Raw
// keeps the undecoded API response so the archive stays faithful even
// for fields we do not model.
type Note struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	CW           *string        `json:"cw"`
	CreatedAt    time.Time      `json:"createdAt"`
	Visibility   string         `json:"visibility"`
	RepliesCount int            `json:"repliesCount"`
	RenoteCount  int            `json:"renoteCount"`
	Reactions    map[string]int `json:"reactions"`
	User         NoteUser       `json:"user"`
	Files        []DriveFile    `json:"files"`

	Raw json.RawMessage `json:"-"`
}

func (n *Note) UnmarshalJSON(data []byte) error {
	type noteAlias Note
	var a noteAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = Note(a)
	n.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ReactionTotal sums all reaction counters on the note.
func (n *Note) ReactionTotal() int {
	total := 0
	for _, count := range n.Reactions {
		total += count
	}
	return total
}

// Handle renders the author as "@user" for local accounts or
// "@user@host" for remote ones.
func (n *Note) Handle() string {
	if n.User.Host != "" {
		return "@" + n.User.Username + "@" + n.User.Host
	}
	return "@" + n.User.Username
}

// DisplayName prefers the profile name, falling back to the handle.
func (n *Note) DisplayName() string {
	if n.User.Name != "" {
		return n.User.Name
	}
	return n.User.Username
}
