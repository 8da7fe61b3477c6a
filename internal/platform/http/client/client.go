// Package client provides the bounded outbound HTTP client used for every
// call to the calendar provider and the chat-bot API.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calrelay/calrelay/internal/platform/config"
)

var (
	ErrResponseTooLarge    = errors.New("response body too large")
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrRedirectNotSameHost = errors.New("redirect to different host blocked")
	ErrRedirectDowngrade   = errors.New("redirect from https to http blocked")
)

const maxRedirects = 3

// Client is an HTTP client with bounded connect time, total time and
// response size.
type Client struct {
	cfg        config.OutboundHTTPConfig
	httpClient *http.Client
}

// New creates a new bounded HTTP client. A nil cfg uses the prod preset.
func New(cfg *config.OutboundHTTPConfig) *Client {
	if cfg == nil {
		cfg = &config.ProdConfig().OutboundHTTP
	}

	dialer := &net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		ResponseHeaderTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}

	return &Client{
		cfg: *cfg,
		httpClient: &http.Client{
			Transport:     &limitTransport{next: transport, max: cfg.MaxResponseBytes},
			Timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
			CheckRedirect: checkRedirect,
		},
	}
}

// Do performs an HTTP request. The response body errors with
// ErrResponseTooLarge once MaxResponseBytes is exceeded.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// StandardClient returns the underlying *http.Client for SDKs that need one
// (oauth2, Google API clients). It carries the same bounds as Do.
func (c *Client) StandardClient() *http.Client {
	return c.httpClient
}

// ReadBody reads and closes resp.Body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// checkRedirect follows at most maxRedirects same-host hops and never
// downgrades https to http.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: exceeded limit of %d", ErrTooManyRedirects, maxRedirects)
	}
	prev := via[len(via)-1].URL
	if prev.Scheme == "https" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s -> %s", ErrRedirectDowngrade, prev.Scheme, req.URL.Scheme)
	}
	if !isSameHost(prev, req.URL) {
		return fmt.Errorf("%w: %s -> %s", ErrRedirectNotSameHost, prev.Host, req.URL.Host)
	}
	return nil
}

// isSameHost compares hostname (case-insensitive) and effective port.
func isSameHost(a, b *url.URL) bool {
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

// effectivePort returns the explicit port or the scheme default.
func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// limitTransport caps response bodies at max bytes.
type limitTransport struct {
	next http.RoundTripper
	max  int64
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || t.max <= 0 {
		return resp, err
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.max}
	return resp, nil
}

type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	// Read one byte past the limit so an exact-size body still succeeds.
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n - int(-b.remaining), ErrResponseTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
