// Package sqlite implements a SQLite-backed kv.Store using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	svccfg "github.com/calrelay/calrelay/internal/frameworks/service/cfg"
	"github.com/calrelay/calrelay/internal/platform/kv"
)

func init() {
	kv.RegisterDriver("sqlite", func(config map[string]any) (kv.Store, error) {
		var c Config
		if err := svccfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return Open(context.Background(), &c)
	})
}

// Config is the [store.drivers.sqlite] section.
type Config struct {
	// DataDir holds the database file. Default: ".calrelay".
	DataDir string `mapstructure:"data_dir"`

	// FileName is the database file name inside DataDir. Default: "calrelay.db".
	FileName string `mapstructure:"file_name"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".calrelay"
	}
	if c.FileName == "" {
		c.FileName = "calrelay.db"
	}
}

// Entry is one stored key. ExpiresAt is unix milliseconds; nil never expires.
type Entry struct {
	EntryKey  string `gorm:"column:entry_key;primaryKey"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt *int64 `gorm:"column:expires_at;index"`
}

// TableName pins the table name.
func (Entry) TableName() string { return "kv_entries" }

// Store implements kv.Store on SQLite.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates the data directory, opens the database and runs AutoMigrate.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
		cfg.ApplyDefaults()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, cfg.FileName)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source (for tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) nowMS() int64 { return s.now().UnixMilli() }

// Get retrieves a live value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	result := s.db.WithContext(ctx).
		Where("entry_key = ? AND (expires_at IS NULL OR expires_at > ?)", key, s.nowMS()).
		First(&e)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, result.Error
	}
	return e.Value, nil
}

// Set upserts a value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.CheckTTL(ttl); err != nil {
		return err
	}
	e := Entry{EntryKey: key, Value: value}
	if ttl != kv.NoExpiry {
		exp := s.now().Add(ttl).UnixMilli()
		e.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&e).Error
}

// Delete removes a key, reporting whether a live entry was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	db := s.db.WithContext(ctx)
	result := db.Where("entry_key = ? AND (expires_at IS NULL OR expires_at > ?)", key, s.nowMS()).
		Delete(&Entry{})
	if result.Error != nil {
		return false, result.Error
	}
	// Purge an expired leftover under the same key, if any.
	if err := db.Where("entry_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return false, err
	}
	return result.RowsAffected > 0, nil
}

// Keys purges expired rows and returns live keys with the prefix.
// substr is used instead of LIKE, which is case-insensitive in SQLite.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	db := s.db.WithContext(ctx)
	now := s.nowMS()
	if err := db.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&Entry{}).Error; err != nil {
		return nil, err
	}

	var keys []string
	result := db.Model(&Entry{}).
		Where("substr(entry_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix).
		Order("entry_key").
		Pluck("entry_key", &keys)
	if result.Error != nil {
		return nil, result.Error
	}
	return keys, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
