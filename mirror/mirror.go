// Package mirror renders a stored post as a self-contained HTML
// document for offline viewing and screenshot capture.
package mirror

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"fediarchive/models"
)

// Mode selects how attachments are referenced.
type Mode string

const (
	// ModeEmbed inlines media as data URIs; the document is fully
	// portable on its own.
	ModeEmbed Mode = "embed"
	// ModeLink references media by local /media/ routes; smaller and
	// faster, used for the render server and post pages.
	ModeLink Mode = "link"
)

// FileReader loads stored media by its media-root-relative path.
// Only needed for ModeEmbed.
type FileReader interface {
	ReadFile(rel string) ([]byte, error)
}

type mediaView struct {
	Src       template.URL
	Alt       string
	Kind      string
	Sensitive bool
}

type pageView struct {
	Title         string
	UserName      string
	UserHandle    string
	Avatar        template.URL
	CW            string
	HasCW         bool
	Content       template.HTML
	Media         []mediaView
	ReplyCount    int
	RenoteCount   int
	ReactionCount int
	Visibility    string
	PostedDate    string
	OriginalURL   template.URL
}

// Render produces the mirror document. It is a pure function of its
// inputs: the same post and media always yield byte-identical output,
// and all user-originated text is escaped.
func Render(post *models.Post, media []models.Media, mode Mode, files FileReader) (string, error) {
	view := pageView{
		Title:         "Archived post by " + post.UserHandle,
		UserName:      post.UserName,
		UserHandle:    post.UserHandle,
		Avatar:        safeURL(post.UserAvatar),
		Content:       contentHTML(post.Content),
		ReplyCount:    post.ReplyCount,
		RenoteCount:   post.RenoteCount,
		ReactionCount: post.ReactionCount,
		Visibility:    post.Visibility,
		PostedDate:    post.CreatedAt.UTC().Format("2006-01-02"),
		OriginalURL:   safeURL(post.URL),
	}
	if view.UserName == "" {
		view.UserName = post.UserHandle
	}
	if post.CW != nil && *post.CW != "" {
		view.HasCW = true
		view.CW = *post.CW
	}

	for _, m := range media {
		kind := mediaKind(m.MimeType)
		if kind == "" {
			continue
		}
		src, err := mediaSrc(m, mode, files)
		if err != nil {
			return "", err
		}
		alt := m.AltText
		if alt == "" {
			alt = m.Filename
		}
		view.Media = append(view.Media, mediaView{
			Src:       src,
			Alt:       alt,
			Kind:      kind,
			Sensitive: m.IsSensitive,
		})
	}

	var b strings.Builder
	if err := page.Execute(&b, view); err != nil {
		return "", fmt.Errorf("failed to render mirror: %w", err)
	}
	return b.String(), nil
}

// contentHTML escapes the post text and turns newlines into breaks.
func contentHTML(text string) template.HTML {
	escaped := template.HTMLEscapeString(text)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

func mediaKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	}
	return ""
}

func mediaSrc(m models.Media, mode Mode, files FileReader) (template.URL, error) {
	if mode == ModeEmbed && m.LocalPath != "" && files != nil {
		raw, err := files.ReadFile(m.LocalPath)
		if err == nil {
			uri := "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
			return template.URL(uri), nil
		}
		// Stored file missing, fall through to the remote reference.
	}
	if mode == ModeLink && m.LocalPath != "" {
		return template.URL("/media/" + m.LocalPath), nil
	}
	return safeURL(m.URL), nil
}

// safeURL admits only http(s) references; anything else renders as an
// inert empty href so hostile values in archived data cannot script
// the mirror.
func safeURL(raw string) template.URL {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return template.URL(raw)
	}
	return template.URL("")
}

var page = template.Must(template.New("mirror").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.Title}}</title>
<style>
  :root{--bg:#0f1117;--card:#1a1d2e;--border:#2d3154;--accent:#7c6ff7;--text:#e2e4ef;--muted:#8b8fa8;--cw:#f59e0b}
  *{box-sizing:border-box;margin:0;padding:0}
  body{background:var(--bg);color:var(--text);font-family:system-ui,sans-serif;padding:2rem 1rem}
  .card{max-width:640px;margin:0 auto;background:var(--card);border:1px solid var(--border);border-radius:16px;overflow:hidden}
  .card-header{padding:1.25rem 1.5rem;border-bottom:1px solid var(--border);display:flex;align-items:center;gap:1rem}
  .avatar{width:48px;height:48px;border-radius:50%;background:var(--border);object-fit:cover}
  .name{font-weight:700}.handle{color:var(--muted);font-size:.85rem}
  .card-body{padding:1.5rem}
  .cw-warning{background:rgba(245,158,11,.15);border:1px solid var(--cw);color:var(--cw);padding:.75rem 1rem;border-radius:8px;margin-bottom:1rem;cursor:pointer}
  .content{line-height:1.7}.hidden{display:none}
  .media-grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(240px,1fr));gap:.75rem;margin-top:1.25rem}
  .media-item{border-radius:10px;overflow:hidden;background:#000}
  .media-item img,.media-item video{width:100%;display:block;max-height:480px;object-fit:cover}
  .media-item.sensitive img,.media-item.sensitive video{filter:blur(20px);cursor:pointer;transition:filter .3s}
  .media-item.sensitive:hover img,.media-item.sensitive:hover video{filter:none}
  figcaption{padding:.4rem .6rem;font-size:.75rem;color:var(--muted)}
  .card-footer{padding:1rem 1.5rem;border-top:1px solid var(--border);font-size:.85rem;color:var(--muted);display:flex;flex-wrap:wrap;gap:.75rem;align-items:center}
  .badge{background:var(--border);padding:.2rem .6rem;border-radius:99px;font-size:.75rem}
  a{color:var(--accent)}
</style>
</head>
<body>
<div class="card">
  <div class="card-header">
    {{if .Avatar}}<img class="avatar" src="{{.Avatar}}" alt="">{{else}}<div class="avatar"></div>{{end}}
    <div><div class="name">{{.UserName}}</div><div class="handle">{{.UserHandle}}</div></div>
    <div style="margin-left:auto"><span class="badge" style="background:rgba(124,111,247,.15);color:#a78bfa;border:1px solid #7c6ff7">Archived</span></div>
  </div>
  <div class="card-body">
    {{if .HasCW}}<div class="cw-warning" onclick="document.getElementById('pc').classList.toggle('hidden')"><strong>&#9888; Content Warning:</strong> {{.CW}} <em>(click to reveal)</em></div>{{end}}
    <div class="content{{if .HasCW}} hidden{{end}}" id="pc">{{.Content}}</div>
    {{if .Media}}<div class="media-grid">
    {{range .Media}}<figure class="media-item{{if .Sensitive}} sensitive{{end}}">{{if eq .Kind "image"}}<img src="{{.Src}}" alt="{{.Alt}}" loading="lazy">{{else if eq .Kind "video"}}<video src="{{.Src}}" controls></video>{{else}}<audio src="{{.Src}}" controls></audio>{{end}}<figcaption>{{.Alt}}</figcaption></figure>
    {{end}}</div>{{end}}
  </div>
  <div class="card-footer">
    <span>&#128172; {{.ReplyCount}}</span>
    <span>&#128257; {{.RenoteCount}}</span>
    <span>&#10024; {{.ReactionCount}}</span>
    <span class="badge">{{.Visibility}}</span>
    <span style="margin-left:auto">Posted: {{.PostedDate}}</span>
    <a href="{{.OriginalURL}}" target="_blank" rel="noopener">Original &#8599;</a>
  </div>
</div>
</body></html>
`))
