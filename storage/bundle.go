package storage

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"fediarchive/database"
	"fediarchive/mirror"
	"fediarchive/models"
)

// ErrIncompleteArchive means a bundle was requested for a post that
// was never archived. Missing optional parts (screenshot, failed
// media) are simply omitted and do not raise this.
var ErrIncompleteArchive = errors.New("incomplete archive")

// Exporter packs one archived post into a portable zip bundle:
// post.json, post.html (embed-mode mirror), screenshot.png when
// present, and the downloaded media files.
type Exporter struct {
	store *database.Store
	media *MediaStore
}

func NewExporter(store *database.Store, media *MediaStore) *Exporter {
	return &Exporter{store: store, media: media}
}

// Export returns the bundle bytes and a download filename.
func (e *Exporter) Export(postID string) ([]byte, string, error) {
	post, err := e.store.GetPost(postID)
	if errors.Is(err, database.ErrPostNotFound) {
		return nil, "", fmt.Errorf("%w: %s", ErrIncompleteArchive, postID)
	}
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta, err := bundleMetadata(post)
	if err != nil {
		return nil, "", err
	}
	if err := writeEntry(zw, "post.json", meta); err != nil {
		return nil, "", err
	}

	html, err := mirror.Render(post, post.Media, mirror.ModeEmbed, e.media)
	if err != nil {
		return nil, "", err
	}
	if err := writeEntry(zw, "post.html", []byte(html)); err != nil {
		return nil, "", err
	}

	if post.ScreenshotPath != "" && e.media.Exists(post.ScreenshotPath) {
		raw, err := e.media.ReadFile(post.ScreenshotPath)
		if err == nil {
			if err := writeEntry(zw, "screenshot.png", raw); err != nil {
				return nil, "", err
			}
		}
	}

	for _, m := range post.Media {
		if m.LocalPath == "" || !e.media.Exists(m.LocalPath) {
			continue
		}
		raw, err := e.media.ReadFile(m.LocalPath)
		if err != nil {
			continue
		}
		if err := writeEntry(zw, "media/"+path.Base(m.LocalPath), raw); err != nil {
			return nil, "", err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize bundle: %w", err)
	}
	return buf.Bytes(), "archive_" + PostDir(postID) + ".zip", nil
}

// bundleMetadata renders post.json: the modelled fields plus the raw
// API response re-inlined as structured JSON.
func bundleMetadata(post *models.Post) ([]byte, error) {
	raw := json.RawMessage("{}")
	if post.RawJSON != "" {
		raw = json.RawMessage(post.RawJSON)
	}
	meta := struct {
		*models.Post
		Raw json.RawMessage `json:"raw"`
	}{Post: post, Raw: raw}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode post metadata: %w", err)
	}
	return out, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create bundle entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write bundle entry %s: %w", name, err)
	}
	return nil
}
