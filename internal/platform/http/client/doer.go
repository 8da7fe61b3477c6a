package client

import "net/http"

// Doer is the outbound request contract shared by the upstream adapters.
// *Client implements it; tests substitute httptest-backed clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Doer = (*Client)(nil)
