// Package watch owns the push-channel lifecycle: the subscription registry,
// renewal, reconciliation of superseded channels and bulk cleanup.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calrelay/calrelay/internal/platform/kv"
)

// KeyPrefix starts every registry key.
const KeyPrefix = "watch-"

// Key returns the registry key for a channel on a resource.
func Key(resourceID, channelID string) string {
	return ResourcePrefix(resourceID) + channelID
}

// ResourcePrefix returns the prefix shared by every channel on a resource.
func ResourcePrefix(resourceID string) string {
	return KeyPrefix + resourceID + ":"
}

// Subscription is one live push channel.
type Subscription struct {
	ChannelID  string
	ResourceID string
	ExpiresAt  time.Time
}

// record is the stored JSON shape; expiration is epoch milliseconds.
type record struct {
	ChannelID  string `json:"channelId"`
	ResourceID string `json:"resourceId"`
	Expiration int64  `json:"expiration"`
}

// Registry stores subscriptions in the key-value store with a TTL that
// matches the channel's expiration.
type Registry struct {
	kv  kv.Store
	now func() time.Time
}

// NewRegistry returns a registry backed by s.
func NewRegistry(s kv.Store) *Registry {
	return &Registry{kv: s, now: time.Now}
}

// Put stores sub under key. Returns ErrSubscriptionExpired when
// sub.ExpiresAt is not in the future.
func (r *Registry) Put(ctx context.Context, key string, sub Subscription) error {
	ttl := sub.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: %s expired at %s", ErrSubscriptionExpired, key, sub.ExpiresAt.UTC().Format(time.RFC3339))
	}
	data, err := json.Marshal(record{
		ChannelID:  sub.ChannelID,
		ResourceID: sub.ResourceID,
		Expiration: sub.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("watch: encode %s: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("watch: put %s: %w", key, err)
	}
	return nil
}

// Get loads the subscription under key.
func (r *Registry) Get(ctx context.Context, key string) (*Subscription, error) {
	data, err := r.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("watch: get %s: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	if rec.ChannelID == "" || rec.ResourceID == "" {
		return nil, fmt.Errorf("%w: %s: missing channel or resource id", ErrCorruptRecord, key)
	}
	return &Subscription{
		ChannelID:  rec.ChannelID,
		ResourceID: rec.ResourceID,
		ExpiresAt:  time.UnixMilli(rec.Expiration),
	}, nil
}

// Delete removes key. It reports false when nothing was stored.
func (r *Registry) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := r.kv.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("watch: delete %s: %w", key, err)
	}
	return ok, nil
}

// ListKeys returns the sorted keys under prefix.
func (r *Registry) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("watch: list %s: %w", prefix, err)
	}
	return keys, nil
}
