package watch

import "errors"

var (
	// ErrSubscriptionExpired is returned when a subscription's expiration is
	// not in the future. Nothing is stored.
	ErrSubscriptionExpired = errors.New("watch: subscription already expired")

	// ErrSubscriptionNotFound is returned when no record exists under a key.
	ErrSubscriptionNotFound = errors.New("watch: subscription not found")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("watch: corrupt subscription record")
)
