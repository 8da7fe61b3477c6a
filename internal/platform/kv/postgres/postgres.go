// Package postgres implements a PostgreSQL-backed kv.Store on database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/lib/pq"

	svccfg "github.com/calrelay/calrelay/internal/frameworks/service/cfg"
	"github.com/calrelay/calrelay/internal/platform/kv"
)

const (
	defaultTableName = "calrelay_kv"
	operationTimeout = 5 * time.Second
)

func init() {
	kv.RegisterDriver("postgres", func(config map[string]any) (kv.Store, error) {
		var c Config
		if err := svccfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(&c)
	})
}

// Config is the [store.drivers.postgres] section.
type Config struct {
	DSN       string `mapstructure:"dsn"`
	TableName string `mapstructure:"table_name"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.TableName == "" {
		c.TableName = defaultTableName
	}
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Store implements kv.Store on PostgreSQL. The table is created lazily on first use.
type Store struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc
	now       func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// New validates the config; no connection is made until the first operation.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("dsn is required for postgres store")
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = defaultTableName
	}
	return &Store{
		dsn:       strings.TrimSpace(cfg.DSN),
		tableName: tableName,
		openDB:    sql.Open,
		now:       time.Now,
	}, nil
}

func (s *Store) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, operationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				entry_key TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				expires_at BIGINT NULL
			)`, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("failed to create kv table: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

// Get retrieves a live value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT value FROM %s WHERE entry_key = $1 AND (expires_at IS NULL OR expires_at > $2)",
		quoteIdentifier(s.tableName))
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set upserts a value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.CheckTTL(ttl); err != nil {
		return err
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var expiresAt sql.NullInt64
	if ttl != kv.NoExpiry {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (entry_key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (entry_key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, key, value, expiresAt)
	return err
}

// Delete removes a key, reporting whether a live entry was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE entry_key = $1 RETURNING (expires_at IS NULL OR expires_at > $2)",
		quoteIdentifier(s.tableName))
	var live bool
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&live)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return live, nil
}

// Keys purges expired rows and returns live keys with the prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	table := quoteIdentifier(s.tableName)
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1", table), now); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT entry_key FROM %s WHERE substr(entry_key, 1, $1) = $2 ORDER BY entry_key", table),
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
