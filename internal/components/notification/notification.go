// Package notification classifies inbound push callbacks. It performs no I/O.
package notification

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Header names set by the provider on every push callback.
const (
	HeaderChannelToken      = "X-Goog-Channel-Token"
	HeaderResourceState     = "X-Goog-Resource-State"
	HeaderResourceID        = "X-Goog-Resource-Id"
	HeaderChannelExpiration = "X-Goog-Channel-Expiration"
	HeaderChannelID         = "X-Goog-Channel-ID"
)

// Resource states the relay acts on.
const (
	StateSync   = "sync"
	StateExists = "exists"
)

// Headers is the raw callback metadata.
type Headers struct {
	ChannelToken      string
	ResourceState     string
	ResourceID        string
	ChannelExpiration string
	ChannelID         string
}

// HeadersFromRequest extracts the five callback headers.
func HeadersFromRequest(r *http.Request) Headers {
	return Headers{
		ChannelToken:      r.Header.Get(HeaderChannelToken),
		ResourceState:     r.Header.Get(HeaderResourceState),
		ResourceID:        r.Header.Get(HeaderResourceID),
		ChannelExpiration: r.Header.Get(HeaderChannelExpiration),
		ChannelID:         r.Header.Get(HeaderChannelID),
	}
}

// Event is a classified callback: SyncEvent or ChangedEvent.
type Event interface {
	isEvent()
}

// SyncEvent announces a newly created channel.
type SyncEvent struct {
	ResourceID        string
	ChannelID         string
	ChannelExpiration time.Time
}

// ChangedEvent reports that the watched resource changed.
type ChangedEvent struct {
	ResourceID string
	ChannelID  string
}

func (SyncEvent) isEvent()    {}
func (ChangedEvent) isEvent() {}

// ValidationError names the offending header.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BadToken reports whether the failure is a missing or wrong shared secret.
func (e *ValidationError) BadToken() bool {
	return e.Field == HeaderChannelToken
}

// Validate checks headers in a fixed order (token, state, resource id,
// expiration, channel id) and returns the first failure.
func Validate(h Headers, secret string) (Event, error) {
	if h.ChannelToken == "" {
		return nil, &ValidationError{Field: HeaderChannelToken, Reason: "header is missing"}
	}
	if secret == "" || subtle.ConstantTimeCompare([]byte(h.ChannelToken), []byte(secret)) != 1 {
		return nil, &ValidationError{Field: HeaderChannelToken, Reason: "token does not match"}
	}

	switch h.ResourceState {
	case StateSync, StateExists:
	case "":
		return nil, &ValidationError{Field: HeaderResourceState, Reason: "header is missing"}
	default:
		return nil, &ValidationError{Field: HeaderResourceState, Reason: fmt.Sprintf("unsupported state %q", h.ResourceState)}
	}

	if h.ResourceID == "" {
		return nil, &ValidationError{Field: HeaderResourceID, Reason: "header is missing"}
	}
	// ':' separates resource and channel in registry keys.
	if strings.Contains(h.ResourceID, ":") {
		return nil, &ValidationError{Field: HeaderResourceID, Reason: "contains ':'"}
	}

	if h.ChannelExpiration == "" {
		return nil, &ValidationError{Field: HeaderChannelExpiration, Reason: "header is missing"}
	}
	expiration, err := ParseExpiration(h.ChannelExpiration)
	if err != nil {
		return nil, &ValidationError{Field: HeaderChannelExpiration, Reason: fmt.Sprintf("unparseable time %q", h.ChannelExpiration)}
	}

	if h.ChannelID == "" {
		return nil, &ValidationError{Field: HeaderChannelID, Reason: "header is missing"}
	}

	if h.ResourceState == StateSync {
		return SyncEvent{ResourceID: h.ResourceID, ChannelID: h.ChannelID, ChannelExpiration: expiration}, nil
	}
	return ChangedEvent{ResourceID: h.ResourceID, ChannelID: h.ChannelID}, nil
}

// ParseExpiration accepts the HTTP date formats (RFC 1123, RFC 850, ANSI C)
// the provider sends, then RFC 3339.
func ParseExpiration(v string) (time.Time, error) {
	if t, err := http.ParseTime(v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
