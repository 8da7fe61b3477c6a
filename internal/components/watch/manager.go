package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calrelay/calrelay/internal/components/calendar"
	"github.com/calrelay/calrelay/internal/components/notification"
	"github.com/calrelay/calrelay/internal/platform/logutil"
)

// Config holds what the manager needs to open channels.
type Config struct {
	CalendarID   string
	CallbackURL  string
	ChannelToken string
	ChannelTTL   time.Duration
}

// EntryFailure records why one registry entry could not be processed.
type EntryFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	Current  string         `json:"current"`
	Replaced []string       `json:"replaced"`
	Failed   []EntryFailure `json:"failed"`
}

// Manager keeps exactly one live channel per resource.
type Manager struct {
	cfg      Config
	provider calendar.Provider
	registry *Registry
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewManager wires a manager.
func NewManager(cfg Config, provider calendar.Provider, registry *Registry, log *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		log:      logutil.NoopIfNil(log),
		now:      time.Now,
		newID:    newChannelID,
	}
}

// newChannelID returns a time-ordered UUID so channels sort by creation.
func newChannelID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Renew asks the provider for a new channel. The provider confirms it with
// a sync callback, which drives Reconcile; nothing is deleted here.
func (m *Manager) Renew(ctx context.Context) (*calendar.Channel, error) {
	req := calendar.WatchRequest{
		CalendarID: m.cfg.CalendarID,
		ChannelID:  m.newID(),
		Address:    m.cfg.CallbackURL,
		Token:      m.cfg.ChannelToken,
		TTL:        m.cfg.ChannelTTL,
	}
	ch, err := m.provider.Watch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("watch: renew: %w", err)
	}
	m.log.Info("watch channel requested",
		"channel_id", ch.ID,
		"resource_id", ch.ResourceID,
		"expiration", ch.Expiration,
	)
	return ch, nil
}

// Reconcile records the channel announced by a sync callback and tears down
// every other channel registered for the same resource.
//
// Superseded entries whose stop fails stay in the registry so a later pass
// can retry them.
func (m *Manager) Reconcile(ctx context.Context, ev notification.SyncEvent) (*ReconcileResult, error) {
	if !ev.ChannelExpiration.After(m.now()) {
		return nil, fmt.Errorf("%w: channel %s expired at %s", ErrSubscriptionExpired, ev.ChannelID, ev.ChannelExpiration.UTC().Format(time.RFC3339))
	}

	current := Key(ev.ResourceID, ev.ChannelID)
	result := &ReconcileResult{Current: current, Replaced: []string{}, Failed: []EntryFailure{}}

	keys, err := m.registry.ListKeys(ctx, ResourcePrefix(ev.ResourceID))
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if key == current {
			continue
		}
		log := m.log.With("key", key)

		sub, err := m.registry.Get(ctx, key)
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Expired between list and get.
			continue
		}
		if err != nil {
			log.Warn("superseded channel unreadable", "error", err)
			result.Failed = append(result.Failed, EntryFailure{Key: key, Reason: err.Error()})
			continue
		}
		if sub.ResourceID != ev.ResourceID {
			// Key shares the prefix but belongs to another resource.
			log.Warn("registry entry for other resource skipped", "entry_resource_id", sub.ResourceID, "consistency_warning", true)
			continue
		}

		if err := m.provider.Stop(ctx, sub.ChannelID, sub.ResourceID); err != nil && !errors.Is(err, calendar.ErrNotFound) {
			log.Error("failed to stop superseded channel", "channel_id", sub.ChannelID, "error", err)
			result.Failed = append(result.Failed, EntryFailure{Key: key, Reason: err.Error()})
			continue
		}

		deleted, err := m.registry.Delete(ctx, key)
		if err != nil {
			log.Error("failed to delete superseded channel", "error", err)
			result.Failed = append(result.Failed, EntryFailure{Key: key, Reason: err.Error()})
			continue
		}
		if !deleted {
			log.Warn("superseded channel vanished before delete", "consistency_warning", true)
		}
		result.Replaced = append(result.Replaced, key)
	}

	err = m.registry.Put(ctx, current, Subscription{
		ChannelID:  ev.ChannelID,
		ResourceID: ev.ResourceID,
		ExpiresAt:  ev.ChannelExpiration,
	})
	if err != nil {
		return result, err
	}

	m.log.Info("watch channel reconciled",
		"current", current,
		"replaced", len(result.Replaced),
		"failed", len(result.Failed),
	)
	return result, nil
}
