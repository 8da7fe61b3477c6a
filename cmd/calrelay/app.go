package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calrelay/calrelay/internal/components/calendar"
	"github.com/calrelay/calrelay/internal/components/chatbot"
	"github.com/calrelay/calrelay/internal/components/cursor"
	"github.com/calrelay/calrelay/internal/components/delivery"
	"github.com/calrelay/calrelay/internal/components/watch"
	"github.com/calrelay/calrelay/internal/platform/config"
	"github.com/calrelay/calrelay/internal/platform/http/client"
	"github.com/calrelay/calrelay/internal/platform/kv"
	"github.com/calrelay/calrelay/internal/services/relay"
)

// need selects which collaborators a command builds.
type need int

const (
	needStore need = 1 << iota
	needCalendar
	needChatbot
)

// app holds the collaborators built from one configuration.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store kv.Store

	cursor   *cursor.Store
	manager  *watch.Manager
	pipeline *delivery.Pipeline
}

func newApp(ctx context.Context, n need) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if n&needCalendar != 0 {
		if err := cfg.ValidateCalendar(); err != nil {
			return nil, fmt.Errorf("calendar configuration incomplete: %w", err)
		}
	}
	if n&needChatbot != 0 {
		if err := cfg.ValidateChatbot(); err != nil {
			return nil, fmt.Errorf("chatbot configuration incomplete: %w", err)
		}
	}

	store, err := kv.NewFromConfig(cfg.Store.Driver, cfg.Store.Drivers)
	if err != nil {
		return nil, err
	}
	logger.Debug("store ready", "driver", cfg.Store.Driver)

	a := &app{
		cfg:    cfg,
		log:    logger,
		store:  store,
		cursor: cursor.New(store),
	}
	if n&(needCalendar|needChatbot) == 0 {
		return a, nil
	}

	httpClient := client.New(&cfg.OutboundHTTP)

	provider, err := calendar.NewGoogle(ctx, calendar.GoogleConfig{
		ClientEmail:   cfg.Calendar.ClientEmail,
		PrivateKey:    cfg.Calendar.PrivateKey,
		ProjectNumber: cfg.Calendar.ProjectNumber,
		ChannelToken:  cfg.Calendar.ChannelToken,
		Endpoint:      cfg.Calendar.Endpoint,
	}, httpClient.StandardClient(), logger.With("component", "calendar"))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	a.manager = watch.NewManager(watch.Config{
		CalendarID:   cfg.Calendar.CalendarID,
		CallbackURL:  cfg.CallbackURL(),
		ChannelToken: cfg.Calendar.ChannelToken,
		ChannelTTL:   time.Duration(cfg.Calendar.ChannelTTLSeconds) * time.Second,
	}, provider, watch.NewRegistry(store), logger.With("component", "watch"))

	if n&needChatbot == 0 {
		return a, nil
	}

	formatter, err := delivery.NewFormatter(cfg.Delivery.TimeZone, cfg.Delivery.TimeLayout)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	messenger, err := chatbot.NewLineWorks(chatbot.Config{
		ClientID:       cfg.Chatbot.ClientID,
		ClientSecret:   cfg.Chatbot.ClientSecret,
		PrivateKey:     cfg.Chatbot.PrivateKey,
		ServiceAccount: cfg.Chatbot.ServiceAccount,
		BotID:          cfg.Chatbot.BotID,
		ChannelID:      cfg.Chatbot.ChannelID,
		MessageFormat:  cfg.Chatbot.MessageFormat,
		AuthURL:        cfg.Chatbot.AuthURL,
		APIBaseURL:     cfg.Chatbot.APIBaseURL,
		MaxAttempts:    cfg.Chatbot.MaxAttempts,
	}, httpClient, store, logger.With("component", "chatbot"))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	a.pipeline = delivery.NewPipeline(cfg.Calendar.CalendarID, provider, a.cursor, formatter, messenger,
		logger.With("component", "delivery"))
	return a, nil
}

func (a *app) relayService() *relay.Service {
	return relay.New(relay.Config{
		ChannelToken: a.cfg.Calendar.ChannelToken,
		AdminToken:   a.cfg.Admin.Token,
		Ready: func(ctx context.Context) error {
			_, err := a.cursor.Get(ctx)
			return err
		},
	}, a.manager, a.pipeline, a.log.With("component", "relay"))
}

// Close releases the store.
func (a *app) Close() error {
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
		return err
	}
	return nil
}
