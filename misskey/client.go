package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
)

// ErrNotFound marks a permanent condition on the remote side: the
// user or note does not exist. Never retried.
var ErrNotFound = errors.New("not found")

// APIError is a non-retryable HTTP error response from the instance.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// FetchError means every retry attempt failed on a transient
// condition; Cause is the last underlying error.
type FetchError struct {
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// RetryConfig is the client's backoff tuning. Delays grow
// exponentially from BaseDelay, capped at MaxDelay, with no jitter so
// the sequence is monotonic.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetry matches the product defaults: 2s base, 3 attempts.
var DefaultRetry = RetryConfig{
	BaseDelay:   2 * time.Second,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 3,
}

// Client talks to one Misskey-protocol instance's public JSON API.
// No authentication; only public data is reachable.
type Client struct {
	baseURL   string // e.g. https://example.social
	host      string // normalized hostname, used in post keys
	userAgent string
	http      *http.Client
	retry     RetryConfig
	pageSize  int
	log       *logrus.Entry
}

// NewClient builds a client for the given instance URL or bare host.
func NewClient(instance string, httpClient *http.Client, retry RetryConfig, log *logrus.Logger) (*Client, error) {
	base, host, err := normalizeInstance(instance)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retry.MaxAttempts < 1 {
		retry = DefaultRetry
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		baseURL:   base,
		host:      host,
		userAgent: "FediArchiver/1.0",
		http:      httpClient,
		retry:     retry,
		pageSize:  maxPageSize,
		log:       log.WithField("instance", host),
	}, nil
}

// The protocol rejects larger pages; busy instances time out on big
// ones anyway.
const maxPageSize = 20

// Host returns the normalized instance hostname.
func (c *Client) Host() string { return c.host }

// BaseURL returns the instance base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// NoteURL returns the canonical public URL of a note on this instance.
func (c *Client) NoteURL(noteID string) string {
	return c.baseURL + "/notes/" + noteID
}

// ResolveUser looks up a username on the instance.
func (c *Client) ResolveUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := c.post(ctx, "users/show", map[string]interface{}{"username": username}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetNote fetches a single note by id.
func (c *Client) GetNote(ctx context.Context, noteID string) (*Note, error) {
	var note Note
	err := c.post(ctx, "notes/show", map[string]interface{}{"noteId": noteID}, &note)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListUserNotes fetches one page of a user's notes, newest first.
// untilID pages backwards; an empty result means pagination exhausted.
func (c *Client) ListUserNotes(ctx context.Context, userID string, limit int, untilID string) ([]Note, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	payload := map[string]interface{}{
		"userId":         userID,
		"limit":          limit,
		"includeReplies": false,
		"withRenotes":    false,
	}
	if untilID != "" {
		payload["untilId"] = untilID
	}
	var notes []Note
	if err := c.post(ctx, "users/notes", payload, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// post issues one JSON API call with the retry policy applied:
// transport errors, 5xx and 429 retry with exponential backoff; other
// 4xx fail immediately.
func (c *Client) post(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", endpoint, err)
	}
	reqURL := c.baseURL + "/api/" + endpoint

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			c.log.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
			}).Info("retrying api request")
		}
		return c.doOnce(ctx, reqURL, body, out)
	}

	err = backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.Is(err, ErrNotFound) || errors.As(err, &apiErr) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &FetchError{Attempts: attempt, Cause: err}
}

func (c *Client) doOnce(ctx context.Context, reqURL string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err // transport error, retryable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("api error %d from %s", resp.StatusCode, c.host)
	case resp.StatusCode >= 400:
		apiErr := &APIError{
			Status: resp.StatusCode,
			Code:   errorCode(respBody),
			Body:   string(respBody),
		}
		if resp.StatusCode == http.StatusNotFound || strings.HasPrefix(apiErr.Code, "NO_SUCH_") {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrNotFound, apiErr))
		}
		return backoff.Permanent(apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// newBackOff builds the per-call retry schedule. Randomization is off
// so delay k+1 is always >= delay k.
func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.BaseDelay
	bo.MaxInterval = c.retry.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1))
}

// errorCode extracts Misskey's {"error":{"code":...}} shape, if any.
func errorCode(body []byte) string {
	var wrapper struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return ""
	}
	return wrapper.Error.Code
}

// normalizeInstance turns a URL or bare host into a base URL plus a
// stable hostname. Unicode hosts are punycoded so the same instance
// always yields the same post keys.
func normalizeInstance(instance string) (baseURL, host string, err error) {
	raw := strings.TrimRight(strings.TrimSpace(instance), "/")
	if raw == "" {
		return "", "", errors.New("instance is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", fmt.Errorf("invalid instance %q", instance)
	}
	host, err = idna.Lookup.ToASCII(strings.ToLower(u.Hostname()))
	if err != nil {
		return "", "", fmt.Errorf("invalid instance host %q: %w", u.Hostname(), err)
	}
	port := ""
	if p := u.Port(); p != "" {
		port = ":" + p
	}
	return u.Scheme + "://" + host + port, host + port, nil
}
