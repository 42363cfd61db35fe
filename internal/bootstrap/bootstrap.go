// Package bootstrap wires configuration, database, change feed and store
// into the pieces the commands run.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"postsync/internal/config"
	"postsync/internal/database"
	"postsync/internal/notifications"
	"postsync/internal/observability"
	"postsync/internal/picker"
	"postsync/internal/repository"
	"postsync/internal/session"
	"postsync/internal/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const serviceName = "postsync"

// App holds the long-lived dependencies of one process.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Feed     notifications.ChangeFeed
	Store    *store.Remote
	Profiles repository.ProfileRepository

	shutdownTracing func(context.Context) error
}

// New configures logging and tracing, connects the database and the change
// feed, and builds the store. An unreachable push transport is logged and the
// app runs without live updates.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	observability.Configure(cfg.Env, cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: cfg.TracingSamplerRatio,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	app := &App{
		Config:          cfg,
		DB:              db,
		Profiles:        repository.NewProfileRepository(db),
		shutdownTracing: shutdownTracing,
	}

	feed, rdb, err := NewChangeFeed(ctx, cfg)
	if err != nil {
		observability.Logger.Warn("change feed unavailable, running without live updates",
			slog.String("transport", cfg.PushTransport), slog.String("error", err.Error()))
	}
	app.Feed = feed
	app.Redis = rdb

	app.Store = store.NewRemote(repository.NewPostRepository(db), feed)
	observability.Logger.Info("store ready", slog.String("transport", app.Store.Transport()))
	return app, nil
}

// NewChangeFeed builds the feed selected by PUSH_TRANSPORT. The redis client
// is returned as well when that transport is used. TransportNone yields a
// nil feed and no error.
func NewChangeFeed(ctx context.Context, cfg *config.Config) (notifications.ChangeFeed, *redis.Client, error) {
	switch cfg.PushTransport {
	case config.TransportRedis:
		rdb, err := notifications.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return notifications.NewNotifier(rdb), rdb, nil
	case config.TransportMQTT:
		feed := notifications.NewMQTTFeed(notifications.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err := feed.Start(ctx); err != nil {
			return nil, nil, err
		}
		return feed, nil, nil
	case config.TransportLocal:
		return notifications.NewLocalFeed(0), nil, nil
	case config.TransportNone:
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown PUSH_TRANSPORT %q", cfg.PushTransport)
}

// SessionOptions returns the per-session settings from the configuration.
func (a *App) SessionOptions(p picker.Picker) session.Options {
	return session.Options{
		Picker:        p,
		QueryTimeout:  a.Config.FeedQueryTimeout(),
		SubmitTimeout: a.Config.SubmitTimeout(),
	}
}

// OpenSession mounts a feed and draft for ownerID.
func (a *App) OpenSession(ctx context.Context, ownerID string, p picker.Picker) (*session.Session, error) {
	return session.Open(ctx, a.Store, ownerID, a.SessionOptions(p))
}

// Registry returns a session registry capped by MAX_SESSIONS. HTTP clients
// cannot pick images, so sessions get the unavailable picker.
func (a *App) Registry() *session.Registry {
	return session.NewRegistry(a.Config.MaxSessions, func(ctx context.Context, ownerID string) (*session.Session, error) {
		return a.OpenSession(ctx, ownerID, picker.Unavailable)
	})
}

// HealthChecks returns a check per connected dependency.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	if mqtt, ok := a.Feed.(*notifications.MQTTFeed); ok {
		checks["mqtt"] = func(context.Context) error {
			if !mqtt.IsConnected() {
				return notifications.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

// Close releases every dependency in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Feed != nil {
		if err := a.Feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close change feed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := database.Close(a.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
