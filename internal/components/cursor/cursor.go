// Package cursor persists the resumable change cursor (sync token).
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/calrelay/calrelay/internal/platform/kv"
)

// Key is the store key holding the cursor.
const Key = "next_sync_token"

// Store reads and writes the cursor. Last writer wins.
type Store struct {
	kv kv.Store
}

// New returns a cursor store backed by s.
func New(s kv.Store) *Store {
	return &Store{kv: s}
}

// Get returns the current cursor. Absent means "" (start from scratch).
func (s *Store) Get(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cursor: get: %w", err)
	}
	return string(v), nil
}

// Set stores the cursor with no expiry. An empty token clears it.
func (s *Store) Set(ctx context.Context, token string) error {
	if token == "" {
		return s.Reset(ctx)
	}
	if err := s.kv.Set(ctx, Key, []byte(token), kv.NoExpiry); err != nil {
		return fmt.Errorf("cursor: set: %w", err)
	}
	return nil
}

// Reset removes the cursor so the next run starts from a full listing.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("cursor: reset: %w", err)
	}
	return nil
}
