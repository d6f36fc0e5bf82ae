package handlers

import (
	"errors"
	"fmt"
	"mime"
	"path"

	"fediarchive/database"
	"fediarchive/jobs"
	"fediarchive/mirror"
	"fediarchive/misskey"
	"fediarchive/models"
	"fediarchive/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Handler exposes the archiver's control API. It owns no pipeline
// logic; everything happens through the orchestrator and store
// contracts.
type Handler struct {
	Store    *database.Store
	Media    *storage.MediaStore
	Exporter *storage.Exporter
	Manager  *jobs.Manager
	Engine   interface{ Available() bool }
	Log      *logrus.Logger
}

// ArchivePayload is the expected payload for StartArchive.
type ArchivePayload struct {
	Input    string `json:"input"`
	Instance string `json:"instance"`
	MaxPosts int    `json:"max_posts"`
}

// StartArchive parses the pasted input and dispatches a single-note
// or bulk-user job.
func (h *Handler) StartArchive(c *fiber.Ctx) error {
	payload := new(ArchivePayload)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON payload",
		})
	}
	if payload.Input == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Input cannot be empty",
		})
	}

	target, err := misskey.ParseInput(payload.Input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	instance := target.Instance
	if instance == "" {
		instance = payload.Instance
	}
	if instance == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Instance is required: include it in the URL or handle, or set the instance field",
		})
	}

	var job *jobs.Job
	switch target.Kind {
	case misskey.TargetNote:
		job, err = h.Manager.ArchiveNote(instance, target.ID)
	case misskey.TargetUser:
		job, err = h.Manager.ArchiveUser(instance, target.ID, payload.MaxPosts)
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"kind":   job.Kind,
		"target": job.Target,
	})
}

// GetJob returns a job's progress snapshot.
func (h *Handler) GetJob(c *fiber.Ctx) error {
	job := h.Manager.Get(c.Params("id"))
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Job %s not found", c.Params("id")),
		})
	}
	return c.JSON(job.Snapshot())
}

// CancelJob requests cooperative cancellation.
func (h *Handler) CancelJob(c *fiber.Ctx) error {
	if !h.Manager.Cancel(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Job %s not found", c.Params("id")),
		})
	}
	return c.JSON(fiber.Map{"status": "cancelling"})
}

// RetakeScreenshots starts the maintenance job for posts lacking a
// screenshot.
func (h *Handler) RetakeScreenshots(c *fiber.Ctx) error {
	job, err := h.Manager.RetakeScreenshots()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID})
}

// EngineStatus reports whether screenshot capture is possible.
func (h *Handler) EngineStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"available": h.Engine.Available()})
}

// ListPosts lists archived posts, newest first, optionally filtered
// by ?q= over content and handle.
func (h *Handler) ListPosts(c *fiber.Ctx) error {
	summaries, err := h.Store.ListPosts(c.Query("q"), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to list posts: %s", err.Error()),
		})
	}
	if summaries == nil {
		summaries = []models.PostSummary{}
	}
	return c.JSON(summaries)
}

// postKey rebuilds the composite key from the route params.
func postKey(c *fiber.Ctx) string {
	return models.PostKey(c.Params("instance"), c.Params("note"))
}

// GetPost returns one post with its media rows.
func (h *Handler) GetPost(c *fiber.Ctx) error {
	post, err := h.Store.GetPost(postKey(c))
	if errors.Is(err, database.ErrPostNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Post %s not found", postKey(c)),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(post)
}

// GetMirror serves the link-mode mirror document for offline viewing.
func (h *Handler) GetMirror(c *fiber.Ctx) error {
	post, err := h.Store.GetPost(postKey(c))
	if errors.Is(err, database.ErrPostNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Post %s not found", postKey(c)),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	html, err := mirror.Render(post, post.Media, mirror.ModeLink, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(html)
}

// GetScreenshot serves the stored screenshot PNG.
func (h *Handler) GetScreenshot(c *fiber.Ctx) error {
	post, err := h.Store.GetPost(postKey(c))
	if errors.Is(err, database.ErrPostNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Post %s not found", postKey(c)),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if post.ScreenshotPath == "" || !h.Media.Exists(post.ScreenshotPath) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("No screenshot for post %s", post.ID),
		})
	}
	raw, err := h.Media.ReadFile(post.ScreenshotPath)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(raw)
}

// GetBundle serves the portable zip export of one post.
func (h *Handler) GetBundle(c *fiber.Ctx) error {
	data, filename, err := h.Exporter.Export(postKey(c))
	if errors.Is(err, storage.ErrIncompleteArchive) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Post %s not found", postKey(c)),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to export bundle: %s", err.Error()),
		})
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(data)
}

// GetMedia serves stored media files referenced by link-mode mirrors.
func (h *Handler) GetMedia(c *fiber.Ctx) error {
	rel := c.Params("*")
	if rel == "" || !h.Media.Exists(rel) {
		return c.SendStatus(fiber.StatusNotFound)
	}
	raw, err := h.Media.ReadFile(rel)
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.Send(raw)
}

// SetupRoutes configures the API routes for the application.
func SetupRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Post("/archive", h.StartArchive)
	api.Post("/retake-screenshots", h.RetakeScreenshots)
	api.Get("/engine-status", h.EngineStatus)

	api.Get("/jobs/:id", h.GetJob)
	api.Post("/jobs/:id/cancel", h.CancelJob)

	posts := api.Group("/posts")
	posts.Get("/", h.ListPosts)
	posts.Get("/:instance/:note", h.GetPost)
	posts.Get("/:instance/:note/mirror", h.GetMirror)
	posts.Get("/:instance/:note/screenshot", h.GetScreenshot)
	posts.Get("/:instance/:note/bundle", h.GetBundle)

	app.Get("/media/*", h.GetMedia)
}
