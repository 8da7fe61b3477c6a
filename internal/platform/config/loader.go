package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // delivery.time_zone is validated on hosts without zoneinfo

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	// Tests pass a map-backed function.
	LookupEnv func(string) (string, bool)

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr      *string
	PublicOrigin    *string
	BasePath        *string
	TLSMode         *string
	LoggingLevel    *string
	StoreDriver     *string
	MessageFormat   *string
	AdminToken      *string
	CalendarID      *string
	DisplayTimeZone *string
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode string `toml:"mode"`

	PublicOrigin string `toml:"public_origin"`
	BasePath     string `toml:"base_path"`
	ListenAddr   string `toml:"listen_addr"`

	TrustForwardedFor *bool `toml:"trust_forwarded_for"`

	TLS          *TLSConfig          `toml:"tls"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Store        *storeConfig        `toml:"store"`
	Logging      *loggingConfig      `toml:"logging"`
	Calendar     *CalendarConfig     `toml:"calendar"`
	Chatbot      *ChatbotConfig      `toml:"chatbot"`
	Delivery     *DeliveryConfig     `toml:"delivery"`
	Admin        *AdminConfig        `toml:"admin"`
}

// storeConfig holds store settings from TOML.
type storeConfig struct {
	Driver  string         `toml:"driver"`
	Drivers map[string]any `toml:"drivers"`
}

// loggingConfig holds logging settings from TOML.
type loggingConfig struct {
	Level          string `toml:"level"`
	AllowSensitive *bool  `toml:"allow_sensitive"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (prod)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay environment variables
//  5. Overlay CLI flags
//  6. Resolve key files and validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keyStr := k.String()
				// Driver tables are free-form and decoded by the drivers themselves.
				if strings.HasPrefix(keyStr, "store.drivers.") {
					continue
				}
				keys = append(keys, keyStr)
			}
			if len(keys) > 0 {
				logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
			}
		}
	}

	modeStr := "prod"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayEnv(cfg, lookup)

	overlayFlags(cfg, opts.FlagOverrides)

	if err := resolveKeyFiles(cfg); err != nil {
		return nil, err
	}

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	if err := validatePublicOrigin(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production defaults.
func ProdConfig() *Config {
	return &Config{
		Mode:       string(ModeProd),
		BasePath:   "/api",
		ListenAddr: ":8080",
		TLS: TLSConfig{
			Mode: "off",
		},
		OutboundHTTP: OutboundHTTPConfig{
			TimeoutMS:        10000,
			ConnectTimeoutMS: 2000,
			MaxResponseBytes: 4 << 20,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Calendar: CalendarConfig{
			ChannelTTLSeconds: 7 * 24 * 60 * 60,
		},
		Chatbot: ChatbotConfig{
			MessageFormat: "text",
			AuthURL:       "https://auth.worksmobile.com/oauth2/v2.0/token",
			APIBaseURL:    "https://www.worksapis.com/v1.0",
			MaxAttempts:   3,
		},
		Delivery: DeliveryConfig{
			TimeZone:   "Asia/Tokyo",
			TimeLayout: "2006/01/02 15:04:05",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.PublicOrigin = "http://localhost:8080"
	cfg.Logging.Level = "debug"
	cfg.Chatbot.MaxAttempts = 1
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.BasePath != "" {
		cfg.BasePath = fc.BasePath
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.TrustForwardedFor != nil {
		cfg.TrustForwardedFor = *fc.TrustForwardedFor
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.TimeoutMS > 0 {
			cfg.OutboundHTTP.TimeoutMS = fc.OutboundHTTP.TimeoutMS
		}
		if fc.OutboundHTTP.ConnectTimeoutMS > 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxResponseBytes > 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.Drivers != nil {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.AllowSensitive != nil {
			cfg.Logging.AllowSensitive = *fc.Logging.AllowSensitive
		}
	}

	if c := fc.Calendar; c != nil {
		setIf(&cfg.Calendar.CalendarID, c.CalendarID)
		setIf(&cfg.Calendar.ClientEmail, c.ClientEmail)
		setIf(&cfg.Calendar.PrivateKey, c.PrivateKey)
		setIf(&cfg.Calendar.PrivateKeyFile, c.PrivateKeyFile)
		setIf(&cfg.Calendar.ProjectNumber, c.ProjectNumber)
		setIf(&cfg.Calendar.ChannelToken, c.ChannelToken)
		setIf(&cfg.Calendar.Endpoint, c.Endpoint)
		if c.ChannelTTLSeconds > 0 {
			cfg.Calendar.ChannelTTLSeconds = c.ChannelTTLSeconds
		}
	}

	if c := fc.Chatbot; c != nil {
		setIf(&cfg.Chatbot.ClientID, c.ClientID)
		setIf(&cfg.Chatbot.ClientSecret, c.ClientSecret)
		setIf(&cfg.Chatbot.PrivateKey, c.PrivateKey)
		setIf(&cfg.Chatbot.PrivateKeyFile, c.PrivateKeyFile)
		setIf(&cfg.Chatbot.ServiceAccount, c.ServiceAccount)
		setIf(&cfg.Chatbot.BotID, c.BotID)
		setIf(&cfg.Chatbot.ChannelID, c.ChannelID)
		setIf(&cfg.Chatbot.MessageFormat, c.MessageFormat)
		setIf(&cfg.Chatbot.AuthURL, c.AuthURL)
		setIf(&cfg.Chatbot.APIBaseURL, c.APIBaseURL)
		if c.MaxAttempts > 0 {
			cfg.Chatbot.MaxAttempts = c.MaxAttempts
		}
	}

	if fc.Delivery != nil {
		setIf(&cfg.Delivery.TimeZone, fc.Delivery.TimeZone)
		setIf(&cfg.Delivery.TimeLayout, fc.Delivery.TimeLayout)
	}

	if fc.Admin != nil {
		setIf(&cfg.Admin.Token, fc.Admin.Token)
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// overlayEnv applies the deployment environment variables onto cfg.
// The names match the hosted deployment (Vercel project settings).
func overlayEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(name string) string {
		v, ok := lookup(name)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if v := get("VERCEL_URL"); v != "" {
		// VERCEL_URL is a bare host name.
		if !strings.Contains(v, "://") {
			v = "https://" + v
		}
		cfg.PublicOrigin = v
		// Vercel's edge always rewrites X-Forwarded-For.
		cfg.TrustForwardedFor = true
	}
	setIf(&cfg.Calendar.ChannelToken, get("WEB_HOOK_TOKEN"))
	setIf(&cfg.Calendar.CalendarID, get("GOOGLE_CALENDAR_ID"))
	setIf(&cfg.Calendar.ClientEmail, get("GOOGLE_CLIENT_EMAIL"))
	setIf(&cfg.Calendar.ProjectNumber, get("GOOGLE_PROJECT_NUMBER"))
	if v := get("GOOGLE_PRIVATE_KEY"); v != "" {
		cfg.Calendar.PrivateKey = unescapeKey(v)
	}

	setIf(&cfg.Chatbot.ClientID, get("LINEWORKS_CLIENT_ID"))
	setIf(&cfg.Chatbot.ClientSecret, get("LINEWORKS_CLIENT_SECRET"))
	setIf(&cfg.Chatbot.ServiceAccount, get("LINEWORKS_SERVICE_ACCOUNT"))
	setIf(&cfg.Chatbot.BotID, get("LINEWORKS_BOT_ID"))
	setIf(&cfg.Chatbot.ChannelID, get("LINEWORKS_CHANNEL_ID"))
	if v := get("LINEWORKS_PRIVATE_KEY"); v != "" {
		cfg.Chatbot.PrivateKey = unescapeKey(v)
	}

	if v := get("KV_URL"); v != "" {
		if cfg.Store.Drivers == nil {
			cfg.Store.Drivers = map[string]any{}
		}
		vk, _ := cfg.Store.Drivers["valkey"].(map[string]any)
		if vk == nil {
			vk = map[string]any{}
		}
		vk["url"] = v
		cfg.Store.Drivers["valkey"] = vk
		cfg.Store.Driver = "valkey"
	}
	setIf(&cfg.Store.Driver, get("CALRELAY_STORE_DRIVER"))
	setIf(&cfg.Admin.Token, get("CALRELAY_ADMIN_TOKEN"))
}

// unescapeKey turns literal "\n" sequences into newlines. PEM keys stored in
// single-line environment variables arrive escaped.
func unescapeKey(v string) string {
	return strings.ReplaceAll(v, `\n`, "\n")
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.PublicOrigin != nil && *f.PublicOrigin != "" {
		cfg.PublicOrigin = *f.PublicOrigin
	}
	if f.BasePath != nil && *f.BasePath != "" {
		cfg.BasePath = *f.BasePath
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.MessageFormat != nil && *f.MessageFormat != "" {
		cfg.Chatbot.MessageFormat = *f.MessageFormat
	}
	if f.AdminToken != nil && *f.AdminToken != "" {
		cfg.Admin.Token = *f.AdminToken
	}
	if f.CalendarID != nil && *f.CalendarID != "" {
		cfg.Calendar.CalendarID = *f.CalendarID
	}
	if f.DisplayTimeZone != nil && *f.DisplayTimeZone != "" {
		cfg.Delivery.TimeZone = *f.DisplayTimeZone
	}
}

// resolveKeyFiles reads private keys from disk when only a path was given.
func resolveKeyFiles(cfg *Config) error {
	if cfg.Calendar.PrivateKey == "" && cfg.Calendar.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.Calendar.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read calendar.private_key_file: %w", err)
		}
		cfg.Calendar.PrivateKey = string(data)
	}
	if cfg.Chatbot.PrivateKey == "" && cfg.Chatbot.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.Chatbot.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read chatbot.private_key_file: %w", err)
		}
		cfg.Chatbot.PrivateKey = string(data)
	}
	return nil
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// mode is already validated by ParseMode before we get here

	switch cfg.TLS.Mode {
	case "off":
	case "static":
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.mode static requires tls.cert_file and tls.key_file")
		}
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static", cfg.TLS.Mode)
	}

	switch cfg.Store.Driver {
	case "memory", "valkey", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, valkey, redis, sqlite, postgres", cfg.Store.Driver)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Chatbot.MessageFormat {
	case "text", "flex":
	default:
		return fmt.Errorf("invalid chatbot.message_format %q: must be one of text, flex", cfg.Chatbot.MessageFormat)
	}

	if cfg.Chatbot.MaxAttempts < 1 {
		return fmt.Errorf("invalid chatbot.max_attempts %d: must be at least 1", cfg.Chatbot.MaxAttempts)
	}

	if cfg.BasePath != "" {
		if !strings.HasPrefix(cfg.BasePath, "/") || strings.HasSuffix(cfg.BasePath, "/") {
			return fmt.Errorf("invalid base_path %q: must start with '/' and not end with '/'", cfg.BasePath)
		}
	}

	if cfg.Delivery.TimeZone != "" {
		if _, err := time.LoadLocation(cfg.Delivery.TimeZone); err != nil {
			return fmt.Errorf("invalid delivery.time_zone %q: %w", cfg.Delivery.TimeZone, err)
		}
	}

	return nil
}

// validatePublicOrigin checks the public_origin config value when set.
// Must be an absolute URL with http/https scheme, a host, no userinfo,
// query, fragment, or base path. Whitespace is rejected, not trimmed.
func validatePublicOrigin(cfg *Config) error {
	if cfg.PublicOrigin == "" {
		return nil
	}

	origin := cfg.PublicOrigin

	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}

	if !u.IsAbs() {
		return fmt.Errorf("invalid public_origin %q: must be an absolute URL with http or https scheme", origin)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid public_origin %q: scheme must be http or https, got %q", origin, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid public_origin %q: must include a host", origin)
	}

	if u.User != nil {
		return fmt.Errorf("invalid public_origin %q: must not include userinfo", origin)
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid public_origin %q: must not include a query string or fragment", origin)
	}

	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid public_origin %q: must not include a path (use base_path)", origin)
	}

	return nil
}
