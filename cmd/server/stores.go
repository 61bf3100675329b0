package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/handler"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/internal/captcha/store/session"
	"gatekeeper/internal/captcha/store/settings"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/postgres"
	"gatekeeper/internal/platform/redis"
)

// infrastructure holds the backends selected by configuration and their
// teardown hooks.
type infrastructure struct {
	sessions     ports.SessionStore
	settings     ports.SettingsStore
	auditSink    audit.Sink
	healthChecks map[string]handler.HealthCheck
	closers      []func() error
}

func (i *infrastructure) close(log *slog.Logger) {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			log.Warn("failed to close backend", "error", err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *infrastructure, err error) {
	infra := &infrastructure{healthChecks: map[string]handler.HealthCheck{}}
	defer func() {
		if err != nil {
			infra.close(log)
		}
	}()

	var db *sql.DB
	if cfg.Sessions.Driver == config.DriverPostgres || cfg.Settings.Driver == config.DriverPostgres {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		infra.closers = append(infra.closers, db.Close)
		infra.healthChecks["postgres"] = db.PingContext
	}

	switch cfg.Sessions.Driver {
	case config.DriverRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		infra.closers = append(infra.closers, client.Close)
		infra.healthChecks["redis"] = client.Health
		infra.sessions = session.NewRedis(client.Client, session.WithRedisLogger(log))
	case config.DriverPostgres:
		infra.sessions = session.NewPostgres(db)
	default:
		log.Warn("using in-memory session store; pending verifications are lost on restart")
		infra.sessions = session.NewInMemory()
	}

	switch cfg.Settings.Driver {
	case config.DriverSQLite:
		store, err := settings.NewSQLite(cfg.Settings.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		infra.closers = append(infra.closers, store.Close)
		infra.settings = store
	case config.DriverPostgres:
		infra.settings = settings.NewPostgres(db)
	default:
		infra.settings = settings.NewInMemory()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("open kafka: %w", err)
		}
		infra.closers = append(infra.closers, func() error { sink.Close(); return nil })
		infra.healthChecks["kafka"] = sink.Health
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		infra.auditSink = sink
	}

	log.Info("backends ready",
		"session_store", cfg.Sessions.Driver,
		"settings_store", cfg.Settings.Driver,
		"audit_stream", len(cfg.Kafka.Brokers) > 0,
	)
	return infra, nil
}
