package main

import (
	"net/http"
	"os"

	"fediarchive/config"
	"fediarchive/database"
	"fediarchive/handlers"
	"fediarchive/jobs"
	"fediarchive/misskey"
	"fediarchive/screenshot"
	"fediarchive/storage"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create data directory")
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	store := database.NewStore(db)

	media := storage.NewMediaStore(afero.NewOsFs(), cfg.DataDir)
	if err := media.EnsureDirs(); err != nil {
		log.WithError(err).Fatal("failed to create media directories")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	fetcher := storage.NewFetcher(httpClient, media, cfg.UserAgent, log)

	capture := screenshot.NewService(screenshot.Config{
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		SettleDelay:    cfg.SettleDelay,
		CaptureTimeout: cfg.CaptureTimeout,
		IdleTimeout:    cfg.RenderIdle,
	}, media, log)
	if !capture.Available() {
		log.Warn("no Chrome/Chromium found, screenshots will be skipped")
	}

	retry := misskey.RetryConfig{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
	manager := jobs.NewManager(jobs.Options{
		Store:   store,
		Fetcher: fetcher,
		Capture: capture,
		NewClient: func(instance string) (jobs.NotesAPI, error) {
			return misskey.NewClient(instance, httpClient, retry, log)
		},
		PageSize:  cfg.PageSize,
		PageDelay: cfg.PageDelay,
		Log:       log,
	})

	app := fiber.New()
	app.Use(fiberlogger.New())

	handlers.SetupRoutes(app, &handlers.Handler{
		Store:    store,
		Media:    media,
		Exporter: storage.NewExporter(store, media),
		Manager:  manager,
		Engine:   capture,
		Log:      log,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("FediArchive API is running. Use the /api/archive endpoints.")
	})

	log.WithField("listen", cfg.Listen).Info("starting server")
	log.Fatal(app.Listen(cfg.Listen))
}
