// Package main is the entrypoint for the calrelay server and its admin
// commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calrelay/calrelay/internal/platform/config"
	"github.com/calrelay/calrelay/internal/platform/http/server"
	"github.com/calrelay/calrelay/internal/platform/logutil"

	// Register kv store drivers
	_ "github.com/calrelay/calrelay/internal/platform/kv/loader"
)

var (
	configPath      string
	modeFlag        string
	listenAddr      string
	loggingLevel    string
	publicOrigin    string
	basePath        string
	tlsMode         string
	storeDriver     string
	messageFormat   string
	adminToken      string
	calendarID      string
	displayTimeZone string
	forceCleanup    bool
)

var rootCmd = &cobra.Command{
	Use:           "calrelay",
	Short:         "Relay calendar change notifications to a LINE WORKS bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Open a new watch channel; the provider's sync callback retires the old one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), needCalendar)
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := a.manager.Renew(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, ch)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Stop and forget every registered watch channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), needCalendar)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.manager.Cleanup(cmd.Context(), forceCleanup)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset the stored sync token",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored sync token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), needStore)
		if err != nil {
			return err
		}
		defer a.Close()

		token, err := a.cursor.Get(cmd.Context())
		if err != nil {
			return err
		}
		if token == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(none)")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored sync token; the next batch starts from a full listing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), needStore)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cursor.Reset(cmd.Context()); err != nil {
			return err
		}
		a.log.Info("sync token reset")
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to TOML config file (optional)")
	pf.StringVar(&modeFlag, "mode", "", "Operating mode: prod or dev (overrides config)")
	pf.StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	pf.StringVar(&loggingLevel, "logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	pf.StringVar(&publicOrigin, "public-origin", "", "Public origin the provider calls back (overrides config)")
	pf.StringVar(&basePath, "base-path", "", "Path prefix for all routes (overrides config)")
	pf.StringVar(&tlsMode, "tls-mode", "", "TLS mode: off or static (overrides config)")
	pf.StringVar(&storeDriver, "store-driver", "", "Store driver: memory, valkey, sqlite, postgres (overrides config)")
	pf.StringVar(&messageFormat, "message-format", "", "Chat message format: text or flex (overrides config)")
	pf.StringVar(&adminToken, "admin-token", "", "Bearer token for /cron and /cleanup (overrides config)")
	pf.StringVar(&calendarID, "calendar-id", "", "Watched calendar id (overrides config)")
	pf.StringVar(&displayTimeZone, "time-zone", "", "IANA zone for rendered times (overrides config)")

	cleanupCmd.Flags().BoolVar(&forceCleanup, "force", false, "Delete entries even when the provider no longer knows the channel")

	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorResetCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(cursorCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies mode preset, file, environment and flags, then swaps
// the default logger for one at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: configPath,
		ModeFlag:   modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:      &listenAddr,
			PublicOrigin:    &publicOrigin,
			BasePath:        &basePath,
			TLSMode:         &tlsMode,
			LoggingLevel:    &loggingLevel,
			StoreDriver:     &storeDriver,
			MessageFormat:   &messageFormat,
			AdminToken:      &adminToken,
			CalendarID:      &calendarID,
			DisplayTimeZone: &displayTimeZone,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logutil.ParseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, needCalendar|needChatbot)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info("effective configuration", "config", a.cfg.Redacted())

	srv := server.New(a.cfg, a.log, a.relayService())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.log.Info("server started, press Ctrl+C to stop", "callback_url", a.cfg.CallbackURL())

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
