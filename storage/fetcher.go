package storage

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"fediarchive/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Outcome is one attachment's download result.
type Outcome struct {
	Media models.Media
	Err   error
}

// Fetcher downloads a post's attachments into the media store.
// Attachments are independent: one failure never aborts the others.
type Fetcher struct {
	http        *http.Client
	store       *MediaStore
	userAgent   string
	concurrency int
	log         *logrus.Logger
}

func NewFetcher(httpClient *http.Client, store *MediaStore, userAgent string, log *logrus.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Fetcher{
		http:        httpClient,
		store:       store,
		userAgent:   userAgent,
		concurrency: 4,
		log:         log,
	}
}

// FetchAll downloads every attachment concurrently and returns one
// outcome per input, in input order. Successful outcomes carry the
// stored LocalPath; failed ones carry the reason in both Err and
// Media.FetchError.
func (f *Fetcher) FetchAll(ctx context.Context, postID string, media []models.Media) []Outcome {
	outcomes := make([]Outcome, len(media))
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup

	for i := range media {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = f.fetchOne(ctx, postID, media[i])
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (f *Fetcher) fetchOne(ctx context.Context, postID string, m models.Media) Outcome {
	if m.URL == "" {
		m.Downloaded = false
		m.FetchError = "attachment has no source url"
		return Outcome{Media: m, Err: fmt.Errorf("attachment %s has no source url", m.ID)}
	}

	var rel string
	operation := func() error {
		var err error
		rel, err = f.download(ctx, postID, m)
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1)
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if err != nil {
		f.log.WithFields(logrus.Fields{
			"post":  postID,
			"media": m.ID,
			"url":   m.URL,
		}).WithError(err).Warn("media download failed")
		m.Downloaded = false
		m.FetchError = err.Error()
		return Outcome{Media: m, Err: err}
	}

	m.LocalPath = rel
	m.Downloaded = true
	m.FetchError = ""
	return Outcome{Media: m}
}

func (f *Fetcher) download(ctx context.Context, postID string, m models.Media) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("media server returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("media server returned %d", resp.StatusCode))
	}

	// Prefer the response content type over the API's claim when the
	// server sends one; the stable file id still names the file.
	mimeType := m.MimeType
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil && parsed != "application/octet-stream" {
			mimeType = parsed
		}
	}

	// Media ids are "<post key>/<file id>"; only the file part names
	// the file on disk.
	fileID := m.ID
	if m.PostID != "" && strings.HasPrefix(m.ID, m.PostID+"/") {
		fileID = strings.TrimPrefix(m.ID, m.PostID+"/")
	}
	return f.store.Write(postID, FilenameFor(fileID, mimeType), resp.Body)
}
