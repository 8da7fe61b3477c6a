// Package chatbot delivers rendered calendar changes to a LINE WORKS bot
// channel.
package chatbot

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/calrelay/calrelay/internal/components/delivery"
	"github.com/calrelay/calrelay/internal/platform/http/client"
	"github.com/calrelay/calrelay/internal/platform/kv"
	"github.com/calrelay/calrelay/internal/platform/logutil"
)

// Config holds the bot credentials and destination.
type Config struct {
	ClientID       string
	ClientSecret   string
	PrivateKey     string
	ServiceAccount string
	BotID          string
	ChannelID      string
	// MessageFormat is FormatText or FormatFlex.
	MessageFormat string
	AuthURL       string
	APIBaseURL    string
	// MaxAttempts bounds delivery attempts per message. Values below 1 mean 1.
	MaxAttempts int
}

// LineWorks implements delivery.Messenger against the LINE WORKS bot API.
type LineWorks struct {
	cfg   Config
	key   *rsa.PrivateKey
	http  client.Doer
	store kv.Store
	log   *slog.Logger
	now   func() time.Time

	// retryInterval seeds the exponential backoff.
	retryInterval time.Duration
}

var _ delivery.Messenger = (*LineWorks)(nil)

// NewLineWorks validates cfg and parses the signing key. store caches the
// access token across requests.
func NewLineWorks(cfg Config, httpClient client.Doer, store kv.Store, log *slog.Logger) (*LineWorks, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"client_id", cfg.ClientID},
		{"client_secret", cfg.ClientSecret},
		{"private_key", cfg.PrivateKey},
		{"service_account", cfg.ServiceAccount},
		{"bot_id", cfg.BotID},
		{"channel_id", cfg.ChannelID},
		{"auth_url", cfg.AuthURL},
		{"api_base_url", cfg.APIBaseURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if httpClient == nil || store == nil {
		return nil, errors.New("chatbot: http client and store are required")
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MessageFormat == "" {
		cfg.MessageFormat = FormatText
	}

	return &LineWorks{
		cfg:           cfg,
		key:           key,
		http:          httpClient,
		store:         store,
		log:           logutil.NoopIfNil(log),
		now:           time.Now,
		retryInterval: 500 * time.Millisecond,
	}, nil
}

// Send posts one record to the configured channel. Network errors, 401, 429
// and 5xx responses are retried with exponential backoff up to MaxAttempts;
// a 401 also drops the cached access token.
func (c *LineWorks) Send(ctx context.Context, r delivery.Record) error {
	body, err := json.Marshal(messageRequest{Content: content(c.cfg.MessageFormat, r)})
	if err != nil {
		return fmt.Errorf("chatbot: encode message: %w", err)
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		return struct{}{}, c.post(ctx, body)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("message delivery failed, retrying",
				"event_id", r.EventID, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	c.log.Debug("message delivered", "event_id", r.EventID, "attempts", attempt)
	return nil
}

// post makes one delivery attempt. Non-retryable failures are wrapped in
// backoff.Permanent.
func (c *LineWorks) post(ctx context.Context, body []byte) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return classifyAttempt(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("chatbot: build message request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	respBody, status, err := c.do(req)
	if err != nil {
		return &UpstreamError{Op: "messages.create", Cause: err}
	}
	if status == http.StatusCreated {
		return nil
	}
	if status == http.StatusUnauthorized {
		c.evictToken(ctx)
	}
	return classifyAttempt(&UpstreamError{Op: "messages.create", StatusCode: status, Cause: errors.New(snippet(respBody))})
}

func classifyAttempt(err error) error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.retryable() {
		return err
	}
	return backoff.Permanent(err)
}

func (c *LineWorks) messagesURL() string {
	return fmt.Sprintf("%s/bots/%s/channels/%s/messages",
		strings.TrimRight(c.cfg.APIBaseURL, "/"),
		url.PathEscape(c.cfg.BotID),
		url.PathEscape(c.cfg.ChannelID))
}

func (c *LineWorks) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	body, err := client.ReadBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
