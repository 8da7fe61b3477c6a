// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Config holds the process configuration. It is built once at startup and
// passed by pointer to every constructor; nothing else reads the environment.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) of this service.
	// The provider delivers push callbacks to PublicOrigin + BasePath + "/calendar".
	// Example: "https://calrelay.example.com"
	PublicOrigin string `toml:"public_origin"`

	// BasePath is the path prefix for all endpoints. Default: "/api".
	BasePath string `toml:"base_path"`

	// ListenAddr is the address to listen on. Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// TrustForwardedFor takes the client address from X-Forwarded-For.
	// Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool `toml:"trust_forwarded_for"`

	// TLS configuration
	TLS TLSConfig `toml:"tls"`

	// OutboundHTTP bounds every call to the calendar and chat-bot APIs.
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Store selects the key-value store driver.
	Store StoreConfig `toml:"store"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Calendar holds the watched calendar and its service-account credentials.
	Calendar CalendarConfig `toml:"calendar"`

	// Chatbot holds the LINE WORKS bot credentials and destination.
	Chatbot ChatbotConfig `toml:"chatbot"`

	// Delivery controls how changed events are rendered.
	Delivery DeliveryConfig `toml:"delivery"`

	// Admin guards the scheduler and cleanup endpoints.
	Admin AdminConfig `toml:"admin"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// StoreConfig holds key-value store settings.
type StoreConfig struct {
	// Driver is one of: memory, valkey (alias redis), sqlite, postgres.
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [store.drivers.valkey] url = "rediss://..."
	Drivers map[string]any `toml:"drivers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, secrets).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// CalendarConfig holds Google Calendar settings.
type CalendarConfig struct {
	// CalendarID is the watched calendar (GOOGLE_CALENDAR_ID).
	CalendarID string `toml:"calendar_id"`

	// ClientEmail is the service account e-mail (GOOGLE_CLIENT_EMAIL).
	ClientEmail string `toml:"client_email"`

	// PrivateKey is the PEM service-account key (GOOGLE_PRIVATE_KEY).
	// PrivateKeyFile is read when PrivateKey is empty.
	PrivateKey     string `toml:"private_key"`
	PrivateKeyFile string `toml:"private_key_file"`

	// ProjectNumber is billed for quota (GOOGLE_PROJECT_NUMBER).
	ProjectNumber string `toml:"project_number"`

	// ChannelToken is the shared secret echoed back in X-Goog-Channel-Token
	// (WEB_HOOK_TOKEN).
	ChannelToken string `toml:"channel_token"`

	// ChannelTTLSeconds is the requested watch channel lifetime. Default: 7 days.
	ChannelTTLSeconds int `toml:"channel_ttl_seconds"`

	// Endpoint overrides the Calendar API base URL (tests, proxies).
	Endpoint string `toml:"endpoint"`
}

// ChatbotConfig holds LINE WORKS bot settings.
type ChatbotConfig struct {
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	PrivateKey     string `toml:"private_key"`
	PrivateKeyFile string `toml:"private_key_file"`
	ServiceAccount string `toml:"service_account"`
	BotID          string `toml:"bot_id"`
	ChannelID      string `toml:"channel_id"`

	// MessageFormat is "text" or "flex" (calendar card).
	MessageFormat string `toml:"message_format"`

	// AuthURL is the OAuth token endpoint.
	AuthURL string `toml:"auth_url"`

	// APIBaseURL is the bot API root.
	APIBaseURL string `toml:"api_base_url"`

	// MaxAttempts bounds retries per message (1 disables retry).
	MaxAttempts int `toml:"max_attempts"`
}

// DeliveryConfig holds rendering settings.
type DeliveryConfig struct {
	// TimeZone is the IANA zone timed events are shown in. Default: Asia/Tokyo.
	TimeZone string `toml:"time_zone"`

	// TimeLayout is a Go time layout. Default: "2006/01/02 15:04:05".
	TimeLayout string `toml:"time_layout"`
}

// AdminConfig holds admin endpoint settings.
type AdminConfig struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// on the cron and cleanup endpoints.
	Token string `toml:"token"`
}

// CallbackURL is the absolute URL the provider delivers push notifications to.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicOrigin, "/") + c.BasePath + "/calendar"
}

// ValidateCalendar reports missing calendar settings needed to talk to the provider.
func (c *Config) ValidateCalendar() error {
	return missing(map[string]string{
		"calendar.calendar_id":   c.Calendar.CalendarID,
		"calendar.client_email":  c.Calendar.ClientEmail,
		"calendar.private_key":   c.Calendar.PrivateKey,
		"calendar.channel_token": c.Calendar.ChannelToken,
		"public_origin":          c.PublicOrigin,
	})
}

// ValidateChatbot reports missing chat-bot settings needed for delivery.
func (c *Config) ValidateChatbot() error {
	return missing(map[string]string{
		"chatbot.client_id":       c.Chatbot.ClientID,
		"chatbot.client_secret":   c.Chatbot.ClientSecret,
		"chatbot.private_key":     c.Chatbot.PrivateKey,
		"chatbot.service_account": c.Chatbot.ServiceAccount,
		"chatbot.bot_id":          c.Chatbot.BotID,
		"chatbot.channel_id":      c.Chatbot.ChannelID,
	})
}

func missing(fields map[string]string) error {
	var names []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	errs := make([]error, len(names))
	for i, n := range names {
		errs[i] = fmt.Errorf("%s is required", n)
	}
	return errors.Join(errs...)
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  PublicOrigin: %q,\n", c.PublicOrigin))
	sb.WriteString(fmt.Sprintf("  BasePath: %q,\n", c.BasePath))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString(fmt.Sprintf("  TrustForwardedFor: %v,\n", c.TrustForwardedFor))
	sb.WriteString("  TLS: {\n")
	sb.WriteString(fmt.Sprintf("    Mode: %q,\n", c.TLS.Mode))
	sb.WriteString(fmt.Sprintf("    CertFile: %q,\n", c.TLS.CertFile))
	sb.WriteString(fmt.Sprintf("    KeyFile: %q,\n", c.TLS.KeyFile))
	sb.WriteString("  },\n")
	sb.WriteString("  OutboundHTTP: {\n")
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    ConnectTimeoutMS: %d,\n", c.OutboundHTTP.ConnectTimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxResponseBytes: %d,\n", c.OutboundHTTP.MaxResponseBytes))
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("    DriversConfigured: %d,\n", len(c.Store.Drivers)))
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("    AllowSensitive: %v,\n", c.Logging.AllowSensitive))
	sb.WriteString("  },\n")
	sb.WriteString("  Calendar: {\n")
	sb.WriteString(fmt.Sprintf("    CalendarID: %q,\n", c.Calendar.CalendarID))
	sb.WriteString(fmt.Sprintf("    ClientEmail: %q,\n", c.Calendar.ClientEmail))
	sb.WriteString(fmt.Sprintf("    PrivateKey: %s,\n", redact(c.Calendar.PrivateKey)))
	sb.WriteString(fmt.Sprintf("    ProjectNumber: %q,\n", c.Calendar.ProjectNumber))
	sb.WriteString(fmt.Sprintf("    ChannelToken: %s,\n", redact(c.Calendar.ChannelToken)))
	sb.WriteString(fmt.Sprintf("    ChannelTTLSeconds: %d,\n", c.Calendar.ChannelTTLSeconds))
	sb.WriteString(fmt.Sprintf("    Endpoint: %q,\n", c.Calendar.Endpoint))
	sb.WriteString("  },\n")
	sb.WriteString("  Chatbot: {\n")
	sb.WriteString(fmt.Sprintf("    ClientID: %q,\n", c.Chatbot.ClientID))
	sb.WriteString(fmt.Sprintf("    ClientSecret: %s,\n", redact(c.Chatbot.ClientSecret)))
	sb.WriteString(fmt.Sprintf("    PrivateKey: %s,\n", redact(c.Chatbot.PrivateKey)))
	sb.WriteString(fmt.Sprintf("    ServiceAccount: %q,\n", c.Chatbot.ServiceAccount))
	sb.WriteString(fmt.Sprintf("    BotID: %q,\n", c.Chatbot.BotID))
	sb.WriteString(fmt.Sprintf("    ChannelID: %q,\n", c.Chatbot.ChannelID))
	sb.WriteString(fmt.Sprintf("    MessageFormat: %q,\n", c.Chatbot.MessageFormat))
	sb.WriteString(fmt.Sprintf("    AuthURL: %q,\n", c.Chatbot.AuthURL))
	sb.WriteString(fmt.Sprintf("    APIBaseURL: %q,\n", c.Chatbot.APIBaseURL))
	sb.WriteString(fmt.Sprintf("    MaxAttempts: %d,\n", c.Chatbot.MaxAttempts))
	sb.WriteString("  },\n")
	sb.WriteString("  Delivery: {\n")
	sb.WriteString(fmt.Sprintf("    TimeZone: %q,\n", c.Delivery.TimeZone))
	sb.WriteString(fmt.Sprintf("    TimeLayout: %q,\n", c.Delivery.TimeLayout))
	sb.WriteString("  },\n")
	sb.WriteString("  Admin: {\n")
	sb.WriteString(fmt.Sprintf("    Token: %s,\n", redact(c.Admin.Token)))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "[REDACTED]"
}
