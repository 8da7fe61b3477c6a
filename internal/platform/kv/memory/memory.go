// Package memory provides an in-process kv.Store with TTL support.
// Suitable for single-instance and development deployments only.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	svccfg "github.com/calrelay/calrelay/internal/frameworks/service/cfg"
	"github.com/calrelay/calrelay/internal/platform/kv"
)

func init() {
	kv.RegisterDriver("memory", func(config map[string]any) (kv.Store, error) {
		var c Config
		if err := svccfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(time.Duration(c.CleanupIntervalSeconds) * time.Second), nil
	})
}

// Config is the [store.drivers.memory] section.
type Config struct {
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
}

// item represents a stored value with an optional expiration.
type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i *item) isExpired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Store is an in-memory kv.Store.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*item
	now       func() time.Time
	stopClean chan struct{}
	closeOnce sync.Once
}

// New creates a new in-memory store.
// cleanupInterval specifies how often expired items are purged (0 disables).
func New(cleanupInterval time.Duration) *Store {
	s := &Store{
		items:     make(map[string]*item),
		now:       time.Now,
		stopClean: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// SetClock overrides the time source (for tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-s.stopClean:
			return
		}
	}
}

func (s *Store) deleteExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.items {
		if v.isExpired(now) {
			delete(s.items, k)
		}
	}
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || it.isExpired(s.now()) {
		return nil, kv.ErrNotFound
	}

	// Return a copy to prevent mutation
	result := make([]byte, len(it.value))
	copy(result, it.value)
	return result, nil
}

// Set stores a value with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.CheckTTL(ttl); err != nil {
		return err
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	it := &item{value: valueCopy}
	if ttl != kv.NoExpiry {
		it.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return false, nil
	}
	delete(s.items, key)
	return !it.isExpired(s.now()), nil
}

// Keys returns live keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var keys []string
	for k, v := range s.items {
		if strings.HasPrefix(k, prefix) && !v.isExpired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops the cleanup goroutine.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopClean) })
	return nil
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
