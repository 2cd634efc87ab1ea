// Package photostore keeps committed photos as JPEG files with their tags in
// a SQLite index, and answers tooth history queries from it.
package photostore

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/tagging"
)

// Defaults for zero Config fields.
const (
	DefaultJPEGQuality = 92
	DefaultHistoryTTL  = 5 * time.Minute
	slowQueryThreshold = 200 * time.Millisecond
	thumbDir           = "thumbs"
)

// ErrNotFound is returned for unknown asset IDs.
var ErrNotFound = errors.NewStd("asset not found")

// Config holds store settings.
type Config struct {
	SQLitePath    string
	PhotoDir      string
	JPEGQuality   int
	ThumbnailSize int
	HistoryTTL    time.Duration
}

// Store implements flow.PhotoStore.
type Store struct {
	cfg     Config
	db      *gorm.DB
	log     logger.Logger
	history *cache.Cache
}

// Open creates the photo directory, opens the database and migrates it.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = capture.DefaultThumbnailSize
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	if log == nil {
		log = logger.Global().Module("photostore")
	}

	if err := os.MkdirAll(filepath.Join(cfg.PhotoDir, thumbDir), 0o755); err != nil {
		return nil, errors.New(err).
			Component("photostore").
			Category(errors.CategoryFileIO).
			Context("photo_dir", cfg.PhotoDir).
			Build()
	}
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("photostore").
				Category(errors.CategoryFileIO).
				Context("sqlite_path", cfg.SQLitePath).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log.Module("sql"), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Context("sqlite_path", cfg.SQLitePath).
			Build()
	}
	if err := db.AutoMigrate(&Asset{}); err != nil {
		return nil, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Context("operation", "migrate").
			Build()
	}

	log.Info("photo store opened",
		logger.String("sqlite_path", cfg.SQLitePath),
		logger.String("photo_dir", cfg.PhotoDir))

	return &Store{
		cfg: cfg,
		db:  db,
		log: log,
		// no janitor; expired entries are dropped on read
		history: cache.New(cfg.HistoryTTL, 0),
	}, nil
}

// Save writes img as a JPEG with a thumbnail and records it with tags.
func (s *Store) Save(ctx context.Context, img image.Image, tags tagging.Selection) (flow.AssetID, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.New(err).
			Component("photostore").
			Category(errors.CategoryCancellation).
			Build()
	}
	if img == nil {
		return "", errors.Newf("no image to save").
			Component("photostore").
			Category(errors.CategoryValidation).
			Build()
	}

	id := uuid.NewString()
	path := filepath.Join(s.cfg.PhotoDir, id+".jpg")
	thumbPath := filepath.Join(s.cfg.PhotoDir, thumbDir, id+".jpg")

	if err := imaging.Save(img, path, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		return "", s.fileError(err, path)
	}
	thumb := imaging.Fit(img, s.cfg.ThumbnailSize, s.cfg.ThumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		s.removeFiles(path)
		return "", s.fileError(err, thumbPath)
	}

	b := img.Bounds()
	asset := Asset{
		ID:        id,
		Procedure: tags.Procedure,
		Stage:     tags.Stage,
		Angle:     tags.Angle,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Path:      path,
		ThumbPath: thumbPath,
		CreatedAt: time.Now(),
	}
	if tags.Tooth != nil {
		n, d := tags.Tooth.Number, tags.Tooth.Date
		asset.ToothNumber = &n
		asset.ToothDate = &d
	}

	if err := s.db.WithContext(ctx).Create(&asset).Error; err != nil {
		s.removeFiles(path, thumbPath)
		return "", errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Context("asset_id", id).
			Build()
	}
	s.history.Delete(tags.Procedure)

	s.log.Debug("photo saved",
		logger.String("asset_id", id),
		logger.String("tags", tags.Summary()))
	return flow.AssetID(id), nil
}

func (s *Store) fileError(err error, path string) error {
	return errors.New(err).
		Component("photostore").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

func (s *Store) removeFiles(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove orphaned file", logger.String("path", p), logger.Error(err))
		}
	}
}

// Get returns one asset.
func (s *Store) Get(ctx context.Context, id flow.AssetID) (Asset, error) {
	var a Asset
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Asset{}, errors.New(ErrNotFound).
			Component("photostore").
			Category(errors.CategoryNotFound).
			Context("asset_id", string(id)).
			Build()
	}
	if err != nil {
		return Asset{}, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Build()
	}
	return a, nil
}

// List returns assets newest first. An empty procedure lists all.
func (s *Store) List(ctx context.Context, procedure string, limit int) ([]Asset, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if procedure != "" {
		q = q.Where("procedure = ?", procedure)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Asset
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Build()
	}
	return out, nil
}

// Count returns the number of stored assets.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Asset{}).Count(&n).Error; err != nil {
		return 0, errors.New(err).
			Component("photostore").
			Category(errors.CategoryStorage).
			Build()
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
