// Package calendar defines the calendar provider contract and the typed
// entities that cross it. Nothing outside this package sees raw API payloads.
package calendar

import (
	"context"
	"time"
)

// StatusCancelled is the event status for removed events.
const StatusCancelled = "cancelled"

// Event is one changed calendar item from a diff query.
type Event struct {
	ID          string
	Status      string
	Summary     string
	Description string
	Start       EventTime
	End         EventTime
	Creator     Person
}

// Cancelled reports whether the event was removed.
func (e Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// EventTime is either an all-day date ("2006-01-02") or an instant.
// Both are empty for bare cancellation stubs.
type EventTime struct {
	Date     string
	DateTime time.Time
}

// IsZero reports whether neither form is set.
func (t EventTime) IsZero() bool {
	return t.Date == "" && t.DateTime.IsZero()
}

// AllDay reports whether the value is a calendar date.
func (t EventTime) AllDay() bool {
	return t.Date != ""
}

// Person identifies an event creator.
type Person struct {
	DisplayName string
	Email       string
}

// ChangeSet is a complete diff batch plus the cursor to resume from.
type ChangeSet struct {
	Events        []Event
	NextSyncToken string
}

// Channel is a push subscription as reported by the provider.
type Channel struct {
	ID         string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
}

// WatchRequest asks the provider to open a push channel.
type WatchRequest struct {
	CalendarID string
	ChannelID  string
	Address    string
	Token      string
	TTL        time.Duration
}

// Provider is the calendar backend.
type Provider interface {
	// Watch opens a push channel.
	Watch(ctx context.Context, req WatchRequest) (*Channel, error)
	// Stop closes a push channel. Returns ErrNotFound when the provider no
	// longer knows the channel.
	Stop(ctx context.Context, channelID, resourceID string) error
	// ListChanges runs a diff query from syncToken ("" for a full listing),
	// following pagination. Returns ErrSyncTokenExpired when the provider
	// rejects the token.
	ListChanges(ctx context.Context, calendarID, syncToken string) (*ChangeSet, error)
}
