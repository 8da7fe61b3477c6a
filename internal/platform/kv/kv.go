// Package kv defines the key-value store contract used for subscription
// metadata, the sync cursor and cached upstream tokens, plus a driver registry.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidTTL = errors.New("ttl must not be negative")
	ErrClosed     = errors.New("store closed")
)

// NoExpiry stores a value without a TTL.
const NoExpiry time.Duration = 0

// Store is a TTL-aware key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a value by key. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. ttl == NoExpiry keeps the value until deleted;
	// a negative ttl returns ErrInvalidTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key and reports whether anything was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns the live keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources.
	Close() error
}

// DriverFactory builds a store from its [store.drivers.<name>] section.
type DriverFactory func(config map[string]any) (Store, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver registers a driver factory by name.
// This is typically called from init() in driver packages.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig creates a store for the named driver, passing it the
// driver-specific section of drivers (if any).
func NewFromConfig(driver string, driverConfigs map[string]any) (Store, error) {
	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (available: %v)", driver, AvailableDrivers())
	}

	var section map[string]any
	if driverConfigs != nil {
		if raw, ok := driverConfigs[driver]; ok {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("store.drivers.%s must be a table, got %T", driver, raw)
			}
			section = m
		}
	}

	store, err := factory(section)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", driver, err)
	}
	return store, nil
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckTTL validates a TTL argument for Set.
func CheckTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}
