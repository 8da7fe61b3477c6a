package chatbot

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned when the bot is not fully configured.
var ErrMissingCredentials = errors.New("chatbot: missing credentials")

// UpstreamError is a failed call to the auth or message API.
type UpstreamError struct {
	Op         string
	StatusCode int // 0 for transport failures
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chatbot %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("chatbot %s: %v", e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// retryable reports whether another attempt may succeed.
func (e *UpstreamError) retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 401, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}
