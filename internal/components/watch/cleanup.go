package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/calrelay/calrelay/internal/components/calendar"
)

// CleanupReport splits registry entries into three disjoint outcomes.
type CleanupReport struct {
	Cleaned      []string       `json:"cleaned"`
	ForceCleaned []string       `json:"force_cleaned"`
	Failed       []EntryFailure `json:"failed"`
}

// outcome is the per-entry result of a cleanup step.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCleaned
	outcomeForceCleaned
	outcomeFailed
)

// Cleanup stops and forgets every registered channel. With force, entries
// the provider no longer knows (and unreadable records) are deleted anyway.
// Only a failure to enumerate aborts; per-entry failures are reported.
func (m *Manager) Cleanup(ctx context.Context, force bool) (*CleanupReport, error) {
	keys, err := m.registry.ListKeys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{Cleaned: []string{}, ForceCleaned: []string{}, Failed: []EntryFailure{}}
	for _, key := range keys {
		out, reason := m.cleanupEntry(ctx, key, force)
		switch out {
		case outcomeCleaned:
			report.Cleaned = append(report.Cleaned, key)
		case outcomeForceCleaned:
			report.ForceCleaned = append(report.ForceCleaned, key)
		case outcomeFailed:
			report.Failed = append(report.Failed, EntryFailure{Key: key, Reason: reason})
		}
	}

	m.log.Info("watch cleanup finished",
		"force", force,
		"cleaned", len(report.Cleaned),
		"force_cleaned", len(report.ForceCleaned),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (m *Manager) cleanupEntry(ctx context.Context, key string, force bool) (outcome, string) {
	log := m.log.With("key", key)

	sub, err := m.registry.Get(ctx, key)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return outcomeSkipped, ""
	case errors.Is(err, ErrCorruptRecord):
		if !force {
			log.Warn("corrupt watch record", "error", err)
			return outcomeFailed, err.Error()
		}
		return m.forceDelete(ctx, key)
	case err != nil:
		log.Error("failed to read watch record", "error", err)
		return outcomeFailed, err.Error()
	}

	err = m.provider.Stop(ctx, sub.ChannelID, sub.ResourceID)
	switch {
	case err == nil:
	case errors.Is(err, calendar.ErrNotFound):
		if !force {
			log.Warn("provider does not know channel", "channel_id", sub.ChannelID)
			return outcomeFailed, err.Error()
		}
		return m.forceDelete(ctx, key)
	default:
		log.Error("failed to stop channel", "channel_id", sub.ChannelID, "error", err)
		return outcomeFailed, err.Error()
	}

	deleted, err := m.registry.Delete(ctx, key)
	if err != nil {
		log.Error("failed to delete watch record", "error", err)
		return outcomeFailed, err.Error()
	}
	if !deleted {
		log.Warn("watch record vanished before delete", "consistency_warning", true)
	}
	return outcomeCleaned, ""
}

func (m *Manager) forceDelete(ctx context.Context, key string) (outcome, string) {
	if _, err := m.registry.Delete(ctx, key); err != nil {
		return outcomeFailed, fmt.Sprintf("force delete: %v", err)
	}
	m.log.Warn("watch record force cleaned", "key", key)
	return outcomeForceCleaned, ""
}
