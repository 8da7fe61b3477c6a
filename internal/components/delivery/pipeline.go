// Package delivery turns a calendar diff into ordered chat notifications and
// advances the change cursor.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calrelay/calrelay/internal/components/calendar"
	"github.com/calrelay/calrelay/internal/platform/logutil"
)

// Messenger delivers one rendered record to the chat channel.
type Messenger interface {
	Send(ctx context.Context, r Record) error
}

// CursorStore persists the sync token between batches.
type CursorStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
}

// ErrCursorNotStored is returned when the batch was processed but the next
// cursor could not be persisted.
var ErrCursorNotStored = errors.New("delivery: store cursor")

// BatchResult summarizes one Run.
type BatchResult struct {
	Fetched     int    `json:"fetched"`
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	NextCursor  string `json:"-"`
	Rebaselined bool   `json:"rebaselined"`
}

// Pipeline fetches the diff since the stored cursor, delivers every item in
// order and then stores the next cursor.
type Pipeline struct {
	calendarID string
	provider   calendar.Provider
	cursor     CursorStore
	formatter  *Formatter
	messenger  Messenger
	log        *slog.Logger
}

// NewPipeline wires a pipeline for one calendar.
func NewPipeline(calendarID string, provider calendar.Provider, cursor CursorStore, formatter *Formatter, messenger Messenger, log *slog.Logger) *Pipeline {
	return &Pipeline{
		calendarID: calendarID,
		provider:   provider,
		cursor:     cursor,
		formatter:  formatter,
		messenger:  messenger,
		log:        logutil.NoopIfNil(log),
	}
}

// Run processes one change notification.
//
// Failures before the diff is fetched leave the cursor untouched and are
// returned with a nil result. Per-item delivery failures are logged and
// counted; the cursor advances regardless. Once the diff is fetched,
// cancellation of ctx no longer stops the batch. A failed cursor write is
// returned as ErrCursorNotStored alongside the result.
func (p *Pipeline) Run(ctx context.Context) (*BatchResult, error) {
	token, err := p.cursor.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery: read cursor: %w", err)
	}

	changes, err := p.provider.ListChanges(ctx, p.calendarID, token)
	if errors.Is(err, calendar.ErrSyncTokenExpired) && token != "" {
		return p.rebaseline(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("delivery: list changes: %w", err)
	}

	// The diff cannot be re-read at the old cursor, so once it is fetched
	// the batch runs to the cursor write even if the caller goes away.
	work := context.WithoutCancel(ctx)

	result := &BatchResult{Fetched: len(changes.Events), NextCursor: changes.NextSyncToken}
	for _, ev := range changes.Events {
		rec := p.formatter.Format(ev)
		if err := p.messenger.Send(work, rec); err != nil {
			result.Failed++
			p.log.Error("delivery failed", "event_id", ev.ID, "status", rec.Status, "error", err)
			continue
		}
		result.Delivered++
	}

	if err := p.cursor.Set(work, changes.NextSyncToken); err != nil {
		return result, fmt.Errorf("%w: %w", ErrCursorNotStored, err)
	}

	p.log.Info("change batch delivered",
		"fetched", result.Fetched,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"had_cursor", token != "",
	)
	return result, nil
}

// rebaseline recovers from an invalidated cursor: the full listing is a
// state dump, not a change set, so nothing is delivered.
func (p *Pipeline) rebaseline(ctx context.Context) (*BatchResult, error) {
	p.log.Warn("sync token invalidated by provider, rebaselining")

	changes, err := p.provider.ListChanges(ctx, p.calendarID, "")
	if err != nil {
		return nil, fmt.Errorf("delivery: rebaseline: %w", err)
	}
	if err := p.cursor.Set(context.WithoutCancel(ctx), changes.NextSyncToken); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCursorNotStored, err)
	}
	return &BatchResult{
		Fetched:     len(changes.Events),
		NextCursor:  changes.NextSyncToken,
		Rebaselined: true,
	}, nil
}
