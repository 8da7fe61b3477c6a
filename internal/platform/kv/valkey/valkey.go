// Package valkey provides a Redis/Valkey backed kv.Store.
// It is the driver to use for multi-instance deployments (e.g. a hosted
// Redis-compatible KV) because TTL expiry and key scans happen server-side.
package valkey

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	svccfg "github.com/calrelay/calrelay/internal/frameworks/service/cfg"
	"github.com/calrelay/calrelay/internal/platform/kv"
)

func init() {
	kv.RegisterDriver("valkey", newFromMap)
	kv.RegisterDriver("redis", newFromMap)
}

func newFromMap(config map[string]any) (kv.Store, error) {
	var c Config
	if err := svccfg.Decode(config, &c); err != nil {
		return nil, err
	}
	return New(&c)
}

// Config holds connection configuration. URL takes precedence over Addr.
type Config struct {
	URL            string `mapstructure:"url"`      // redis:// or rediss:// URL
	Addr           string `mapstructure:"addr"`     // host:port
	Password       string `mapstructure:"password"` // optional
	DB             int    `mapstructure:"db"`
	DialTimeoutMS  int    `mapstructure:"dial_timeout_ms"`
	WriteTimeoutMS int    `mapstructure:"write_timeout_ms"`
	ScanCount      int64  `mapstructure:"scan_count"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.URL == "" && c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 5000
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 3000
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
}

// DefaultConfig returns sensible defaults for a local server.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Store wraps a valkey client.
type Store struct {
	client    valkey.Client
	scanCount int64
}

// New connects to the server and verifies it with PING (fail fast).
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var opt valkey.ClientOption
	if cfg.URL != "" {
		parsed, err := valkey.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid valkey url: %w", err)
		}
		opt = parsed
	} else {
		opt = valkey.ClientOption{
			InitAddress: []string{cfg.Addr},
			Password:    cfg.Password,
			SelectDB:    cfg.DB,
		}
	}
	// Client-side caching needs CLIENT TRACKING, which hosted KVs and
	// miniredis do not all support; this store never reads through a cache.
	opt.DisableCache = true
	opt.Dialer = net.Dialer{Timeout: time.Duration(cfg.DialTimeoutMS) * time.Millisecond}
	opt.ConnWriteTimeout = time.Duration(cfg.WriteTimeoutMS) * time.Millisecond

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DialTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey health check failed: %w", err)
	}

	scanCount := cfg.ScanCount
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Store{client: client, scanCount: scanCount}, nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("valkey GET %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value, using PX for a non-zero TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.CheckTTL(ttl); err != nil {
		return err
	}

	var err error
	if ttl == kv.NoExpiry {
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(value)).Build()).Error()
	} else {
		ms := ttl.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(value)).PxMilliseconds(ms).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("valkey SET %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("valkey DEL %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys walks SCAN with a MATCH pattern; KEYS would block the server.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		entry, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(s.scanCount).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("valkey SCAN %s: %w", pattern, err)
		}
		for _, k := range entry.Elements {
			seen[k] = struct{}{}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// escapeGlob escapes the glob metacharacters understood by MATCH.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
