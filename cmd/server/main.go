package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/handler"
	"gatekeeper/internal/captcha/metrics"
	"gatekeeper/internal/captcha/service"
	"gatekeeper/internal/gateway/telegram"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/httpserver"
	"gatekeeper/internal/platform/logger"
	"gatekeeper/internal/scheduler"
	"gatekeeper/pkg/platform/middleware/admin"
	"gatekeeper/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies and keeps the process lifecycle small.
// Business logic lives in internal/captcha.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gatekeeper stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("gatekeeper stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	infra, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = cfg.Telegram.Debug
	log.Info("authorized on telegram", "bot", bot.Self.UserName, "bot_id", bot.Self.ID)

	gateway := telegram.NewGateway(bot, telegram.WithLogger(log))
	jobs := scheduler.New(scheduler.WithLogger(log))

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New(registry)),
		service.WithSweep(cfg.Sessions.GraceWindow, cfg.Sessions.SweepInterval, cfg.Sessions.SweepDelay),
	}
	var auditWorker *audit.Worker
	if infra.auditSink != nil {
		publisher := audit.NewAsyncPublisher(1024)
		auditWorker = audit.NewWorker(infra.auditSink, publisher.Inbox(), log)
		opts = append(opts, service.WithAuditPublisher(publisher))
	}

	svc, err := service.New(infra.sessions, infra.settings, gateway, jobs, opts...)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start background jobs: %w", err)
	}

	router := telegram.NewRouter(bot, gateway, svc, bot.Self.ID,
		telegram.WithRouterLogger(log),
		telegram.WithConcurrency(cfg.Telegram.UpdateConcurrency),
		telegram.WithPollTimeout(int(cfg.Telegram.PollTimeout/time.Second)),
	)
	srv := httpserver.New(cfg.Server, newHTTPRouter(cfg, log, svc, registry, infra.healthChecks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting admin server", "addr", cfg.Server.Addr, "admin_api", cfg.AdminEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	if auditWorker != nil {
		g.Go(func() error {
			if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin server shutdown failed", "error", err)
		}
		if err := jobs.Shutdown(shutdownCtx); err != nil {
			log.Warn("scheduler shutdown timed out", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func newHTTPRouter(cfg *config.Config, log *slog.Logger, svc *service.Service, registry *prometheus.Registry, checks map[string]handler.HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(requesttime.Middleware)
	r.Get("/healthz", handler.Health(checks))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if cfg.AdminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, log))
			handler.New(svc, log).Register(r)
		})
	}
	return r
}
