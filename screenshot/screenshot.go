// Package screenshot captures a PNG of a rendered mirror by serving
// it over a loopback HTTP listener and driving headless Chrome at it.
// Screenshot engines mis-load file:// resources, so everything goes
// through http://127.0.0.1.
package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"os/exec"
	"path"
	"sync"
	"time"

	"fediarchive/storage"

	"github.com/chromedp/chromedp"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable means no Chrome/Chromium binary could be found.
// Callers treat capture as skipped, never as an archive failure.
var ErrUnavailable = errors.New("screenshot engine unavailable")

// Config is the capture tuning.
type Config struct {
	ViewportWidth  int
	ViewportHeight int
	SettleDelay    time.Duration // extra wait after load, lets media finish
	CaptureTimeout time.Duration
	IdleTimeout    time.Duration // render server shutdown after inactivity
}

// Service is the process-wide screenshot engine. The loopback render
// server and the browser are shared singletons; captures serialize
// through the service mutex so tokens and ports never collide.
type Service struct {
	cfg   Config
	media *storage.MediaStore
	log   *logrus.Logger

	mu        sync.Mutex
	app       *fiber.App
	addr      string
	idleTimer *time.Timer

	tokenMu sync.Mutex
	tokens  map[string]string
}

func NewService(cfg Config, media *storage.MediaStore, log *logrus.Logger) *Service {
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 700
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 20 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		cfg:    cfg,
		media:  media,
		log:    log,
		tokens: make(map[string]string),
	}
}

var chromeCandidates = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
	"chrome", "headless-shell",
}

// Available reports whether a headless browser binary is present.
func (s *Service) Available() bool {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	for _, name := range chromeCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// Capture renders the HTML on the loopback server and returns PNG
// bytes cropped to the mirror's .card region.
func (s *Service) Capture(ctx context.Context, html string) ([]byte, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureServer(); err != nil {
		return nil, err
	}
	defer s.scheduleIdleShutdown()

	token := s.registerToken(html)
	defer s.consumeToken(token)

	url := fmt.Sprintf("http://%s/render/%s", s.addr, token)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, s.cfg.CaptureTimeout)
	defer cancelTimeout()

	var png []byte
	err := chromedp.Run(timeoutCtx,
		chromedp.EmulateViewport(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight)),
		chromedp.Navigate(url),
		chromedp.WaitVisible(".card", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.Screenshot(".card", &png, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	return png, nil
}

// CaptureToStore captures and persists the screenshot under the
// post's media directory, returning the stored relative path.
func (s *Service) CaptureToStore(ctx context.Context, postID, html string) (string, error) {
	png, err := s.Capture(ctx, html)
	if err != nil {
		return "", err
	}
	rel, err := s.media.Write(postID, "screenshot.png", bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("failed to store screenshot: %w", err)
	}
	return rel, nil
}

func (s *Service) registerToken(html string) string {
	token := uuid.NewString()
	s.tokenMu.Lock()
	s.tokens[token] = html
	s.tokenMu.Unlock()
	return token
}

// takeToken looks a token up and consumes it; every token serves at
// most one render so stale content is never replayed.
func (s *Service) takeToken(token string) (string, bool) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	html, ok := s.tokens[token]
	if ok {
		delete(s.tokens, token)
	}
	return html, ok
}

func (s *Service) consumeToken(token string) {
	s.tokenMu.Lock()
	delete(s.tokens, token)
	s.tokenMu.Unlock()
}

// newApp builds the render server routes: single-use /render tokens
// plus the stored media files the link-mode mirror references.
func (s *Service) newApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/render/:token", func(c *fiber.Ctx) error {
		html, ok := s.takeToken(c.Params("token"))
		if !ok {
			return c.SendStatus(fiber.StatusNotFound)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(html)
	})

	app.Get("/media/*", func(c *fiber.Ctx) error {
		rel := c.Params("*")
		if rel == "" || !s.media.Exists(rel) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		raw, err := s.media.ReadFile(rel)
		if err != nil {
			return c.SendStatus(fiber.StatusNotFound)
		}
		if ct := mime.TypeByExtension(path.Ext(rel)); ct != "" {
			c.Set(fiber.HeaderContentType, ct)
		}
		return c.Send(raw)
	})

	return app
}

// ensureServer lazily starts the loopback-only listener. Caller holds
// s.mu.
func (s *Service) ensureServer() error {
	if s.app != nil {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		return nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start render listener: %w", err)
	}
	app := s.newApp()
	go func() {
		if err := app.Listener(ln); err != nil {
			s.log.WithError(err).Debug("render server stopped")
		}
	}()
	s.app = app
	s.addr = ln.Addr().String()
	s.log.WithField("addr", s.addr).Info("render server started")
	return nil
}

// scheduleIdleShutdown arms the idle teardown after a capture. Caller
// holds s.mu.
func (s *Service) scheduleIdleShutdown() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.app == nil {
			return
		}
		_ = s.app.Shutdown()
		s.app = nil
		s.addr = ""
		s.log.Info("render server idle, shut down")
	})
}
