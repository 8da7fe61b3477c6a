package chatbot

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/calrelay/calrelay/internal/platform/kv"
)

// TokenKey is the store key of the cached bot access token.
const TokenKey = "lineworks_access_token"

const (
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
	// tokenEarlyExpiry drops the cached token before the server does.
	tokenEarlyExpiry = 60 * time.Second
)

// tokenResponse is the auth server reply. expires_in arrives as a string.
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (t tokenResponse) lifetime() time.Duration {
	raw := strings.Trim(string(t.ExpiresIn), `"`)
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// parsePrivateKey accepts PKCS#8 and PKCS#1 RSA keys in PEM form.
func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("chatbot: private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("chatbot: private key is %T, want RSA", key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("chatbot: parse private key: %w", err)
	}
	return key, nil
}

// assertion builds the RS256 JWT presented in the jwt-bearer grant.
func (c *LineWorks) assertion() (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: c.key},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("chatbot: create signer: %w", err)
	}
	now := c.now()
	claims := jwt.Claims{
		Issuer:   c.cfg.ClientID,
		Subject:  c.cfg.ServiceAccount,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

// accessToken returns the cached token or fetches a new one.
func (c *LineWorks) accessToken(ctx context.Context) (string, error) {
	cached, err := c.store.Get(ctx, TokenKey)
	switch {
	case err == nil && len(cached) > 0:
		return string(cached), nil
	case err != nil && !errors.Is(err, kv.ErrNotFound):
		c.log.Warn("token cache read failed, fetching a new token", "error", err)
	}

	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if ttl := tok.lifetime() - tokenEarlyExpiry; ttl > 0 {
		if err := c.store.Set(ctx, TokenKey, []byte(tok.AccessToken), ttl); err != nil {
			c.log.Warn("token cache write failed", "error", err)
		}
	}
	return tok.AccessToken, nil
}

func (c *LineWorks) fetchToken(ctx context.Context) (*tokenResponse, error) {
	assertion, err := c.assertion()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("assertion", assertion)
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", "bot")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("chatbot: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "token", Cause: err}
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: "token", StatusCode: status, Cause: errors.New(snippet(body))}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &UpstreamError{Op: "token", StatusCode: status, Cause: fmt.Errorf("decode response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &UpstreamError{Op: "token", StatusCode: status, Cause: errors.New("response has no access_token")}
	}
	c.log.Debug("bot access token issued", "expires_in", tok.lifetime())
	return &tok, nil
}

// evictToken forgets the cached token after the message API rejected it.
func (c *LineWorks) evictToken(ctx context.Context) {
	if _, err := c.store.Delete(ctx, TokenKey); err != nil {
		c.log.Warn("token cache evict failed", "error", err)
	}
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
