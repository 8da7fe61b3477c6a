// Package service defines the contract between HTTP services and the server
// that mounts them.
package service

import (
	"net/http"
)

// Service represents an HTTP service that can be mounted under the base path.
type Service interface {
	Handler() http.Handler
	// Prefix is the mount point relative to the base path; "" mounts at the base.
	Prefix() string
	Close() error
}
