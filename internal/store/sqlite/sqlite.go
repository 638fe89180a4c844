// Package sqlite implements the store driver on SQLite via GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "wopihost.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&share.Share{},
		&credentials.Record{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Driver) Shares() share.Repo {
	return &shareRepo{db: d.db}
}

func (d *Driver) Credentials() credentials.Repo {
	return &credRepo{db: d.db}
}

// shareRepo implements share.Repo.

type shareRepo struct {
	db *gorm.DB
}

func (r *shareRepo) Create(ctx context.Context, s *share.Share) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *shareRepo) GetByToken(ctx context.Context, token string) (*share.Share, error) {
	var s share.Share
	result := r.db.WithContext(ctx).First(&s, "token = ?", token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, share.ErrNotFound
		}
		return nil, result.Error
	}
	return &s, nil
}

func (r *shareRepo) GetByID(ctx context.Context, id uint64) (*share.Share, error) {
	var s share.Share
	result := r.db.WithContext(ctx).First(&s, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, share.ErrNotFound
		}
		return nil, result.Error
	}
	return &s, nil
}

func (r *shareRepo) MinActiveIDByPath(ctx context.Context, path string) (uint64, error) {
	var s share.Share
	result := r.db.WithContext(ctx).
		Where("path = ? AND expires_at > ?", path, time.Now()).
		Order("id asc").
		First(&s)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, share.ErrNotFound
		}
		return 0, result.Error
	}
	return s.ID, nil
}

func (r *shareRepo) UpdateWith(ctx context.Context, token, with string) error {
	result := r.db.WithContext(ctx).
		Model(&share.Share{}).
		Where("token = ?", token).
		Update("with_session", with)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return share.ErrNotFound
	}
	return nil
}

// Replace deletes the old share and creates the new one in one transaction,
// so no reader ever sees both tokens valid at once.
func (r *shareRepo) Replace(ctx context.Context, oldToken string, newShare *share.Share) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&share.Share{}, "token = ?", oldToken)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return share.ErrNotFound
		}
		return tx.Create(newShare).Error
	})
}

func (r *shareRepo) Delete(ctx context.Context, token string) error {
	result := r.db.WithContext(ctx).Delete(&share.Share{}, "token = ?", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return share.ErrNotFound
	}
	return nil
}

func (r *shareRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&share.Share{}, "expires_at < ?", now)
	return result.RowsAffected, result.Error
}

var _ share.Repo = (*shareRepo)(nil)

// credRepo implements credentials.Repo.

type credRepo struct {
	db *gorm.DB
}

func (r *credRepo) Upsert(ctx context.Context, rec *credentials.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&credentials.Record{}, "share_token = ? AND idx = ?", rec.ShareToken, rec.Idx).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

func (r *credRepo) Get(ctx context.Context, shareToken string, idx int) (*credentials.Record, error) {
	var rec credentials.Record
	result := r.db.WithContext(ctx).First(&rec, "share_token = ? AND idx = ?", shareToken, idx)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, credentials.ErrNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

func (r *credRepo) DeleteByShare(ctx context.Context, shareToken string) error {
	return r.db.WithContext(ctx).Delete(&credentials.Record{}, "share_token = ?", shareToken).Error
}

var _ credentials.Repo = (*credRepo)(nil)
