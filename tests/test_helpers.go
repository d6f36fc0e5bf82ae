package tests

import (
	"fmt"
	"sync"

	"fediarchive/database"
	"fediarchive/models"
	"fediarchive/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

var (
	testDB    *gorm.DB
	onceDB    sync.Once
	dbInitErr error
)

// SetupTestDB initializes an in-memory SQLite database for testing
// and migrates the schema. The same connection is reused for the
// whole test binary; use ClearPosts between tests.
func SetupTestDB() (*gorm.DB, error) {
	onceDB.Do(func() {
		testDB, dbInitErr = database.OpenMemory()
	})
	return testDB, dbInitErr
}

// ClearPosts deletes all post and media rows.
func ClearPosts(db *gorm.DB) error {
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Media{}).Error; err != nil {
		return fmt.Errorf("failed to delete media rows: %w", err)
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Post{}).Error; err != nil {
		return fmt.Errorf("failed to delete post rows: %w", err)
	}
	return nil
}

// CreateTestApp initializes a new Fiber app for testing handlers.
func CreateTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return ctx.Status(code).SendString(err.Error())
		},
	})
}

// NewMemMediaStore builds a media store over an in-memory filesystem.
func NewMemMediaStore() *storage.MediaStore {
	store := storage.NewMediaStore(afero.NewMemMapFs(), "testdata")
	if err := store.EnsureDirs(); err != nil {
		panic(err)
	}
	return store
}
