package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the provider does not know the channel.
	ErrNotFound = errors.New("calendar: not found")

	// ErrSyncTokenExpired is returned when the provider invalidated the
	// sync token and a full resync is required.
	ErrSyncTokenExpired = errors.New("calendar: sync token expired")
)

// UpstreamError is a failed provider call.
type UpstreamError struct {
	Op         string
	StatusCode int // 0 for transport failures
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("calendar %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}
