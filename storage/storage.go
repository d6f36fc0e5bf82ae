package storage

import (
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/spf13/afero"
)

// MediaStore owns the on-disk media layout: one directory per post
// under <data dir>/media, named from the post's composite key. All
// paths handed out are relative to the media root, so database rows
// stay valid if the data dir moves.
type MediaStore struct {
	fs   afero.Fs
	root string
}

func NewMediaStore(fs afero.Fs, dataDir string) *MediaStore {
	return &MediaStore{fs: fs, root: path.Join(dataDir, "media")}
}

// EnsureDirs creates the media root if needed.
func (s *MediaStore) EnsureDirs() error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %q: %w", s.root, err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// PostDir returns the per-post directory name derived from the
// composite key. Never taken from remote-supplied names.
func PostDir(postID string) string {
	return unsafeKeyChars.ReplaceAllString(postID, "_")
}

// Write stores one file under the post's directory and returns the
// media-root-relative path.
func (s *MediaStore) Write(postID, filename string, r io.Reader) (string, error) {
	rel := path.Join(PostDir(postID), filename)
	full := path.Join(s.root, rel)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %q: %w", path.Dir(full), err)
	}
	f, err := s.fs.Create(full)
	if err != nil {
		return "", fmt.Errorf("failed to create %q: %w", full, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", full, err)
	}
	return rel, nil
}

// ReadFile loads a stored file by its relative path.
func (s *MediaStore) ReadFile(rel string) ([]byte, error) {
	return afero.ReadFile(s.fs, path.Join(s.root, rel))
}

// Exists reports whether a stored file is present.
func (s *MediaStore) Exists(rel string) bool {
	ok, err := afero.Exists(s.fs, path.Join(s.root, rel))
	return err == nil && ok
}

// mimeExtensions maps the attachment types we expect to stable file
// extensions. Deterministic on purpose: the filename must not depend
// on platform mime tables.
var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/avif":      ".avif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"audio/flac":      ".flac",
	"audio/wav":       ".wav",
}

// FilenameFor derives the stored filename from the attachment's stable
// id and mime type. Remote filenames are untrusted and never used.
func FilenameFor(fileID, mimeType string) string {
	ext, ok := mimeExtensions[mimeType]
	if !ok {
		ext = ".bin"
	}
	return unsafeKeyChars.ReplaceAllString(fileID, "_") + ext
}
