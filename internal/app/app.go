// Package app wires configuration into the store, change feed, email
// dispatcher, confirm workflow and watcher shared by both binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/reservation-notifier/internal/config"
	"github.com/example/reservation-notifier/internal/confirm"
	"github.com/example/reservation-notifier/internal/feed"
	httpapi "github.com/example/reservation-notifier/internal/http"
	"github.com/example/reservation-notifier/internal/notify"
	"github.com/example/reservation-notifier/internal/storage"
	"github.com/example/reservation-notifier/internal/watcher"
)

type App struct {
	Store      storage.Store
	Feed       feed.Feed
	Dispatcher *notify.Dispatcher
	Confirm    *confirm.Service
	Watcher    *watcher.Watcher

	// Hub is set when the memory backend is in use; it is both the feed and
	// the store's publisher.
	Hub *feed.Hub

	logger  *slog.Logger
	closers []func() error
}

// New builds every component described by cfg. Backends are connected but
// the watcher is not started.
func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.wireBackends(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}

	d, err := newDispatcher(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Dispatcher = d
	a.Confirm = confirm.NewService(a.Store, d, cfg.ConfirmFailurePolicy, logger.With("component", "confirm"))
	a.Watcher = watcher.New(a.Feed, a.Store, d, logger.With("component", "watcher"), watcher.Options{
		ResubscribeDelay: cfg.ResubscribeDelay,
		NotifyDriver:     cfg.WatcherNotifyDriver,
	})
	return a, nil
}

func (a *App) wireBackends(ctx context.Context, cfg config.ServerConfig) error {
	var (
		rc        *redis.Client
		publisher feed.Publisher
	)
	if cfg.StoreBackend == config.BackendRedis || cfg.FeedBackend == config.BackendRedis {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}

	switch cfg.FeedBackend {
	case config.BackendMemory:
		a.Hub = feed.NewHub()
		a.Feed, publisher = a.Hub, a.Hub
	case config.BackendRedis:
		rf := feed.NewRedisFeed(rc, cfg.RedisChannel, a.logger.With("component", "feed"))
		a.Feed, publisher = rf, rf
	case config.BackendKafka:
		kp := feed.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, kp.Close)
		a.Feed = feed.NewKafkaFeed(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, a.logger.With("component", "feed"))
		publisher = kp
	case config.BackendPostgres:
		// the database trigger publishes; the store needs no publisher
		a.Feed = feed.NewPostgresFeed(cfg.PGDSN, feed.DefaultPostgresChannel, a.logger.With("component", "feed"))
	default:
		return fmt.Errorf("unknown feed backend %q", cfg.FeedBackend)
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.Store = storage.NewMemoryStore(publisher, a.logger.With("component", "store"))
	case config.BackendRedis:
		a.Store = storage.NewRedisStore(rc, publisher, a.logger.With("component", "store"))
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, ps.Close)
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("migration applied", "file", "001_create_reservations.sql")
		}
		a.Store = ps
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if publisher == nil && cfg.StoreBackend != config.BackendPostgres {
		a.logger.Warn("store changes are not published; the watcher relies on an external producer", "store", cfg.StoreBackend, "feed", cfg.FeedBackend)
	}
	return nil
}

func newDispatcher(cfg config.ServerConfig, logger *slog.Logger) (*notify.Dispatcher, error) {
	registry := cfg.Templates()
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	format, err := notify.NewFormatter(cfg.Locale, cfg.Timezone)
	if err != nil {
		return nil, err
	}

	var sender notify.Sender
	if cfg.MailerSendAPIKey != "" {
		sender = notify.NewMailerSendSender(cfg.MailerSendAPIKey, cfg.MailSendTimeout, logger.With("component", "mailersend"))
	} else {
		logger.Warn("MAILERSEND_API_KEY not set; emails are logged instead of sent")
		sender = &notify.LogSender{Logger: logger.With("component", "log_sender")}
	}
	from := notify.Identity{Email: cfg.MailFromEmail, Name: cfg.MailFromName}
	return notify.NewDispatcher(registry, sender, from, format, logger.With("component", "dispatcher")), nil
}

// Ready returns the store as a readiness probe when it supports one.
func (a *App) Ready() httpapi.Pinger {
	if p, ok := a.Store.(httpapi.Pinger); ok {
		return p
	}
	return nil
}

// Close stops the watcher and releases backend connections in reverse
// order of creation.
func (a *App) Close() error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
