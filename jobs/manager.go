// Package jobs orchestrates the archival pipeline: fetch, persist,
// download media, render, capture, post by post, as cancellable
// background jobs with observable progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fediarchive/database"
	"fediarchive/mirror"
	"fediarchive/misskey"
	"fediarchive/models"
	"fediarchive/screenshot"
	"fediarchive/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotesAPI is the remote-instance surface the orchestrator consumes,
// implemented by *misskey.Client and faked in tests.
type NotesAPI interface {
	Host() string
	NoteURL(noteID string) string
	ResolveUser(ctx context.Context, username string) (*misskey.User, error)
	GetNote(ctx context.Context, noteID string) (*misskey.Note, error)
	ListUserNotes(ctx context.Context, userID string, limit int, untilID string) ([]misskey.Note, error)
}

// ClientFactory builds an API client bound to one instance.
type ClientFactory func(instance string) (NotesAPI, error)

// MediaFetcher downloads a post's attachments.
type MediaFetcher interface {
	FetchAll(ctx context.Context, postID string, media []models.Media) []storage.Outcome
}

// Capturer takes and stores a screenshot of rendered mirror HTML.
type Capturer interface {
	Available() bool
	CaptureToStore(ctx context.Context, postID, html string) (string, error)
}

// Options wires the manager's collaborators.
type Options struct {
	Store     *database.Store
	Fetcher   MediaFetcher
	Capture   Capturer
	NewClient ClientFactory
	PageSize  int
	PageDelay time.Duration
	Log       *logrus.Logger
}

// Manager owns all jobs. One job processes posts sequentially to
// honor the pacing contract with the remote instance; independent
// jobs may run concurrently, each with its own progress state.
type Manager struct {
	store     *database.Store
	fetcher   MediaFetcher
	capture   Capturer
	newClient ClientFactory
	pageSize  int
	pageDelay time.Duration
	log       *logrus.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewManager(opts Options) *Manager {
	if opts.PageSize <= 0 || opts.PageSize > 20 {
		opts.PageSize = 20
	}
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	return &Manager{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		capture:   opts.Capture,
		newClient: opts.NewClient,
		pageSize:  opts.PageSize,
		pageDelay: opts.PageDelay,
		log:       opts.Log,
		jobs:      make(map[string]*Job),
	}
}

// Get returns a job by id, or nil.
func (m *Manager) Get(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// Cancel requests cancellation of a job; reports whether it exists.
func (m *Manager) Cancel(id string) bool {
	job := m.Get(id)
	if job == nil {
		return false
	}
	job.Cancel()
	return true
}

func (m *Manager) register(job *Job) {
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
}

// ArchiveNote starts a background job archiving one note.
func (m *Manager) ArchiveNote(instance, noteID string) (*Job, error) {
	client, err := m.newClient(instance)
	if err != nil {
		return nil, err
	}
	job := newJob(uuid.NewString(), "note", models.PostKey(client.Host(), noteID))
	m.register(job)

	go func() {
		job.start()
		job.setTotal(1)
		note, err := client.GetNote(context.Background(), noteID)
		if err != nil {
			job.fail(fmt.Errorf("failed to fetch note %s: %w", noteID, err))
			return
		}
		job.record(m.archiveOne(context.Background(), client, note))
		job.finish(StateCompleted)
	}()
	return job, nil
}

// ArchiveUser starts a background job archiving up to maxPosts of a
// user's notes, paginated newest-first.
func (m *Manager) ArchiveUser(instance, username string, maxPosts int) (*Job, error) {
	client, err := m.newClient(instance)
	if err != nil {
		return nil, err
	}
	if maxPosts <= 0 {
		maxPosts = 500
	}
	job := newJob(uuid.NewString(), "user", "@"+username+"@"+client.Host())
	m.register(job)
	go m.runUserJob(job, client, username, maxPosts)
	return job, nil
}

func (m *Manager) runUserJob(job *Job, client NotesAPI, username string, maxPosts int) {
	ctx := context.Background()
	log := m.log.WithFields(logrus.Fields{"job": job.ID, "user": username})
	job.start()

	// Failing to resolve the target at all is an orchestration-level
	// fault: the whole job fails, unlike per-post errors below.
	user, err := client.ResolveUser(ctx, username)
	if err != nil {
		log.WithError(err).Error("user resolution failed")
		job.fail(fmt.Errorf("failed to resolve user %s: %w", username, err))
		return
	}

	total := maxPosts
	if user.NotesCount > 0 && user.NotesCount < total {
		total = user.NotesCount
	}
	job.setTotal(total)

	processed := 0
	untilID := ""
	for processed < maxPosts {
		if job.isCancelled() {
			log.Info("job cancelled")
			job.finish(StateCancelled)
			return
		}

		limit := m.pageSize
		if remaining := maxPosts - processed; remaining < limit {
			limit = remaining
		}
		batch, err := client.ListUserNotes(ctx, user.ID, limit, untilID)
		if err != nil {
			log.WithError(err).Error("page fetch failed")
			job.fail(fmt.Errorf("failed to fetch notes page: %w", err))
			return
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			// Cancellation is honored only here, at the post
			// boundary; an in-flight post always completes or fails
			// before it takes effect.
			if job.isCancelled() {
				log.Info("job cancelled")
				job.reviseTotal(processed)
				job.finish(StateCancelled)
				return
			}
			job.record(m.archiveOne(ctx, client, &batch[i]))
			processed++
		}

		untilID = batch[len(batch)-1].ID
		if len(batch) < limit {
			break
		}
		// Unconditional pacing between pages, independent of retries
		// and not shortened by cancellation requests.
		time.Sleep(m.pageDelay)
	}

	job.reviseTotal(processed)
	job.finish(StateCompleted)
	log.WithField("processed", processed).Info("job completed")
}

// archiveOne runs the whole per-post pipeline. Every failure past the
// store write degrades to a warning; only a failed post write makes
// the outcome a failure.
func (m *Manager) archiveOne(ctx context.Context, client NotesAPI, note *misskey.Note) PostOutcome {
	postID := models.PostKey(client.Host(), note.ID)
	post, mediaRows := buildRecords(client, note)

	stored, err := m.store.UpsertPost(post, mediaRows)
	if err != nil {
		m.log.WithField("post", postID).WithError(err).Error("store write failed")
		return PostOutcome{PostID: postID, Status: OutcomeFailed, Error: err.Error()}
	}

	var warnings []string

	pending := make([]models.Media, 0, len(stored.Media))
	for _, mrow := range stored.Media {
		if !mrow.Downloaded {
			pending = append(pending, mrow)
		}
	}
	for _, outcome := range m.fetcher.FetchAll(ctx, postID, pending) {
		if uerr := m.store.UpdateMediaResult(outcome.Media.ID, outcome.Media.LocalPath, outcome.Media.FetchError); uerr != nil {
			warnings = append(warnings, uerr.Error())
			continue
		}
		if outcome.Err != nil {
			warnings = append(warnings, fmt.Sprintf("media %s: %v", outcome.Media.ID, outcome.Err))
		}
	}

	if err := m.screenshotPost(ctx, postID); err != nil {
		if errors.Is(err, screenshot.ErrUnavailable) {
			warnings = append(warnings, "screenshot skipped: engine unavailable")
		} else {
			warnings = append(warnings, fmt.Sprintf("screenshot failed: %v", err))
		}
	}

	status := OutcomeArchived
	if len(warnings) > 0 {
		status = OutcomeWarnings
	}
	return PostOutcome{PostID: postID, Status: status, Warnings: warnings}
}

// screenshotPost re-renders the stored post and captures it. Used by
// the archive pipeline and the retake job; never touches post or
// media content.
func (m *Manager) screenshotPost(ctx context.Context, postID string) error {
	post, err := m.store.GetPost(postID)
	if err != nil {
		return err
	}
	html, err := mirror.Render(post, post.Media, mirror.ModeLink, nil)
	if err != nil {
		return err
	}
	rel, err := m.capture.CaptureToStore(ctx, postID, html)
	if err != nil {
		return err
	}
	return m.store.MarkScreenshot(postID, rel)
}

// RetakeScreenshots starts a maintenance job capturing screenshots
// for every post that lacks one.
func (m *Manager) RetakeScreenshots() (*Job, error) {
	ids, err := m.store.PostsWithoutScreenshot()
	if err != nil {
		return nil, err
	}
	job := newJob(uuid.NewString(), "retake", "posts without screenshot")
	m.register(job)

	go func() {
		ctx := context.Background()
		job.start()
		job.setTotal(len(ids))
		for _, id := range ids {
			if job.isCancelled() {
				job.finish(StateCancelled)
				return
			}
			err := m.screenshotPost(ctx, id)
			switch {
			case err == nil:
				job.record(PostOutcome{PostID: id, Status: OutcomeCaptured})
			case errors.Is(err, screenshot.ErrUnavailable):
				job.record(PostOutcome{PostID: id, Status: OutcomeSkipped, Error: err.Error()})
			default:
				job.record(PostOutcome{PostID: id, Status: OutcomeFailed, Error: err.Error()})
			}
		}
		job.finish(StateCompleted)
	}()
	return job, nil
}

// buildRecords maps an API note onto store rows. Media identity is
// "<post key>/<file id>" so attachment rows stay stable across
// re-archives.
func buildRecords(client NotesAPI, note *misskey.Note) (*models.Post, []models.Media) {
	postID := models.PostKey(client.Host(), note.ID)

	post := &models.Post{
		ID:            postID,
		Instance:      client.Host(),
		NoteID:        note.ID,
		URL:           client.NoteURL(note.ID),
		UserName:      note.DisplayName(),
		UserHandle:    note.Handle(),
		UserAvatar:    note.User.AvatarURL,
		Content:       note.Text,
		CW:            note.CW,
		Visibility:    note.Visibility,
		ReplyCount:    note.RepliesCount,
		RenoteCount:   note.RenoteCount,
		ReactionCount: note.ReactionTotal(),
		CreatedAt:     note.CreatedAt,
		ArchivedAt:    time.Now().UTC(),
		RawJSON:       string(note.Raw),
	}

	media := make([]models.Media, 0, len(note.Files))
	for _, f := range note.Files {
		media = append(media, models.Media{
			ID:          postID + "/" + f.ID,
			PostID:      postID,
			Filename:    f.Name,
			URL:         f.URL,
			MimeType:    f.Type,
			Width:       f.Properties.Width,
			Height:      f.Properties.Height,
			IsSensitive: f.IsSensitive,
			AltText:     f.Comment,
		})
	}
	return post, media
}
