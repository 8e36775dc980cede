// Package sqlite provides a record.Store backed by SQLite through GORM.
//
// The pure-Go glebarez driver is used so the binary stays CGO-free. Grants
// live in their own table keyed by (file_id, user_id), which enforces the
// one-grant-per-user rule at the schema level; a position column preserves
// grant order.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/store/record"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLiteRecordStoreConfig configures the SQLite store.
type SQLiteRecordStoreConfig struct {
	// Path is the database file, or ":memory:" for a private in-memory database
	Path string `mapstructure:"path"`
}

type fileModel struct {
	ID       string `gorm:"primaryKey;size:64"`
	OwnerID  string `gorm:"size:128;not null;index:idx_files_owner_created,priority:1"`
	Name     string `gorm:"not null"`
	URL      string
	ViewURL  string
	ObjectID string
	MimeType string
	Size     int64

	// Not named CreatedAt/UpdatedAt: GORM would overwrite them on save.
	Created time.Time `gorm:"column:created_at;not null;index:idx_files_owner_created,priority:2"`
	Updated time.Time `gorm:"column:updated_at;not null"`

	Grants []grantModel `gorm:"foreignKey:FileID;references:ID"`
}

func (fileModel) TableName() string { return "files" }

type grantModel struct {
	FileID     string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:128;index:idx_grants_user"`
	Position   int    `gorm:"not null"`
	Permission string `gorm:"size:8;not null"`
	SharedAt   time.Time
}

func (grantModel) TableName() string { return "file_grants" }

// SQLiteRecordStore implements record.Store on SQLite.
type SQLiteRecordStore struct {
	db *gorm.DB
}

// NewSQLiteRecordStore opens the database and migrates the schema.
func NewSQLiteRecordStore(ctx context.Context, config SQLiteRecordStoreConfig) (*SQLiteRecordStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite connection pool: %w", err)
	}
	// SQLite serializes writers anyway, and every ":memory:" connection would
	// otherwise see its own empty database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&fileModel{}, &grantModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	logger.Debug("SQLite record store opened at %s", config.Path)

	return &SQLiteRecordStore{db: db}, nil
}

func (s *SQLiteRecordStore) Create(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := fileExists(tx, rec.ID)
		if err != nil {
			return err
		}
		if exists {
			return &record.StoreError{Code: record.ErrAlreadyExists, Message: "file already exists", ID: rec.ID}
		}

		m := toModel(rec)
		if err := tx.Omit(clause.Associations).Create(&m).Error; err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
		return insertGrants(tx, m.Grants)
	})
}

func (s *SQLiteRecordStore) Get(ctx context.Context, id string) (*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var m fileModel
	err := preloadGrants(s.db.WithContext(ctx)).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, record.NewNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	return fromModel(&m), nil
}

func (s *SQLiteRecordStore) Update(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := fileExists(tx, rec.ID)
		if err != nil {
			return err
		}
		if !exists {
			return record.NewNotFoundError(rec.ID)
		}

		m := toModel(rec)
		if err := tx.Omit(clause.Associations).Save(&m).Error; err != nil {
			return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
		}
		if err := tx.Where("file_id = ?", rec.ID).Delete(&grantModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear grants of %s: %w", rec.ID, err)
		}
		return insertGrants(tx, m.Grants)
	})
}

func (s *SQLiteRecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&grantModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete grants of %s: %w", id, err)
		}

		res := tx.Where("id = ?", id).Delete(&fileModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return record.NewNotFoundError(id)
		}
		return nil
	})
}

func (s *SQLiteRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var models []fileModel
	err := preloadGrants(s.db.WithContext(ctx)).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", ownerID, err)
	}

	return fromModels(models), nil
}

func (s *SQLiteRecordStore) ListSharedWith(ctx context.Context, userID string) ([]*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	granted := db.Model(&grantModel{}).Select("file_id").Where("user_id = ?", userID)

	var models []fileModel
	err := preloadGrants(db).
		Where("id IN (?)", granted).
		Order("created_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records shared with %s: %w", userID, err)
	}

	return fromModels(models), nil
}

func (s *SQLiteRecordStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteRecordStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func preloadGrants(db *gorm.DB) *gorm.DB {
	return db.Preload("Grants", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

func fileExists(tx *gorm.DB, id string) (bool, error) {
	var count int64
	if err := tx.Model(&fileModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up record %s: %w", id, err)
	}
	return count > 0, nil
}

func insertGrants(tx *gorm.DB, grants []grantModel) error {
	if len(grants) == 0 {
		return nil
	}
	if err := tx.Create(&grants).Error; err != nil {
		return fmt.Errorf("failed to insert grants: %w", err)
	}
	return nil
}

func toModel(rec *record.FileRecord) fileModel {
	m := fileModel{
		ID:       rec.ID,
		OwnerID:  rec.OwnerID,
		Name:     rec.Name,
		URL:      rec.URL,
		ViewURL:  rec.ViewURL,
		ObjectID: rec.ObjectID,
		MimeType: rec.MimeType,
		Size:     rec.Size,
		Created:  rec.CreatedAt.UTC(),
		Updated:  rec.UpdatedAt.UTC(),
	}
	for i, g := range rec.SharedWith {
		m.Grants = append(m.Grants, grantModel{
			FileID:     rec.ID,
			UserID:     g.UserID,
			Position:   i,
			Permission: string(g.Permission),
			SharedAt:   g.SharedAt.UTC(),
		})
	}
	return m
}

func fromModel(m *fileModel) *record.FileRecord {
	rec := &record.FileRecord{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		URL:       m.URL,
		ViewURL:   m.ViewURL,
		ObjectID:  m.ObjectID,
		MimeType:  m.MimeType,
		Size:      m.Size,
		CreatedAt: m.Created,
		UpdatedAt: m.Updated,
	}
	for _, g := range m.Grants {
		rec.SharedWith = append(rec.SharedWith, record.ShareGrant{
			UserID:     g.UserID,
			Permission: record.Permission(g.Permission),
			SharedAt:   g.SharedAt,
		})
	}
	return rec
}

func fromModels(models []fileModel) []*record.FileRecord {
	out := make([]*record.FileRecord, 0, len(models))
	for i := range models {
		out = append(out, fromModel(&models[i]))
	}
	return out
}
